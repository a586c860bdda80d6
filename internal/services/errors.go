package services

import (
	"errors"

	"github.com/voiceagent/backend/internal/token"
)

// Messages are safe to show to clients. Login failures share one message so
// responses never reveal whether an email is registered.
var (
	ErrInvalidCredentials   = errors.New("Incorrect email or password")
	ErrAccountInactive      = errors.New("Account is inactive")
	ErrInvalidMFACode       = errors.New("Invalid MFA code")
	ErrMFAAlreadyEnabled    = errors.New("MFA is already enabled")
	ErrMFANotEnabled        = errors.New("MFA is not enabled")
	ErrSetupNotInitiated    = errors.New("MFA setup not initiated. Call /mfa/setup first")
	ErrInvalidPassword      = errors.New("Invalid password")
	ErrEmailTaken           = errors.New("Email already registered")
	ErrDomainTaken          = errors.New("Company domain already registered")
	ErrUserNotFound         = errors.New("User not found")
	ErrCannotDeactivateSelf = errors.New("Cannot deactivate your own account")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrBackupCodeContention means the compare-and-swap on a backup-code set
	// kept losing to concurrent writers.
	ErrBackupCodeContention = errors.New("backup code update contention")
)

// ErrInvalidToken is the token package sentinel, re-exported for handlers.
var ErrInvalidToken = token.ErrInvalidToken
