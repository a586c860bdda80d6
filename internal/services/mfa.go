package services

import (
	"context"
	"fmt"

	"github.com/voiceagent/backend/internal/mfa"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/store"
	"github.com/voiceagent/backend/pkg/utils"
)

type MFASetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
	ManualEntryKey  string `json:"manual_entry_key"`
}

type MFAStatus struct {
	Enabled              bool `json:"enabled"`
	PendingSetup         bool `json:"pending_setup"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// SetupMFA stores a new encrypted secret as pending. Calling it again before
// EnableMFA replaces the pending secret.
func (s *AuthService) SetupMFA(ctx context.Context, user *models.User) (*MFASetup, error) {
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	uri, err := s.totp.ProvisioningURI(secret, user.Email)
	if err != nil {
		return nil, err
	}
	qr, err := s.totp.ProvisioningDataURL(uri)
	if err != nil {
		return nil, err
	}
	sealed, err := s.cipher.Encrypt(secret)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveMFAState(ctx, user.ID, store.MFAState{Secret: sealed}); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}

	return &MFASetup{
		Secret:          secret,
		ProvisioningURI: uri,
		QRCode:          qr,
		ManualEntryKey:  mfa.FormatForManualEntry(secret),
	}, nil
}

// EnableMFA confirms the pending secret with a live code and returns the
// plaintext backup codes. This is the only time they are ever shown.
func (s *AuthService) EnableMFA(ctx context.Context, user *models.User, code string, meta RequestMeta) ([]string, error) {
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if !user.HasPendingSecret() {
		return nil, ErrSetupNotInitiated
	}

	secret, err := s.cipher.Decrypt(user.MFASecret)
	if err != nil {
		return nil, fmt.Errorf("open pending secret: %w", err)
	}
	if !s.totp.VerifyCodeAt(secret, code, s.now()) {
		return nil, ErrInvalidMFACode
	}

	codes, blob, err := s.backup.GenerateSealed()
	if err != nil {
		return nil, err
	}
	err = s.store.SaveMFAState(ctx, user.ID, store.MFAState{
		Enabled:     true,
		Secret:      user.MFASecret,
		BackupCodes: blob,
	})
	if err != nil {
		return nil, fmt.Errorf("enable mfa: %w", err)
	}

	s.record("mfa_enabled", user, meta, nil)
	s.notifyAsync("mfa_enabled", user, func(ctx context.Context) error {
		return s.notifier.SendMFAEnabled(ctx, user)
	})
	return codes, nil
}

// DisableMFA always re-checks the password. When a code is given it must be a
// valid TOTP or backup code; a backup code is not consumed since the whole set
// is discarded.
func (s *AuthService) DisableMFA(ctx context.Context, user *models.User, password, code string, meta RequestMeta) error {
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}

	ok, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidPassword
	}

	if code != "" {
		method, err := s.checkSecondFactor(ctx, user, code, false)
		if err != nil {
			return err
		}
		if method == "" {
			return ErrInvalidMFACode
		}
	}

	if err := s.store.SaveMFAState(ctx, user.ID, store.MFAState{}); err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}

	s.record("mfa_disabled", user, meta, nil)
	return nil
}

// RegenerateBackupCodes replaces the whole set. Every previous code stops
// working.
func (s *AuthService) RegenerateBackupCodes(ctx context.Context, user *models.User, meta RequestMeta) ([]string, error) {
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	codes, blob, err := s.backup.GenerateSealed()
	if err != nil {
		return nil, err
	}
	err = s.store.SaveMFAState(ctx, user.ID, store.MFAState{
		Enabled:     true,
		Secret:      user.MFASecret,
		BackupCodes: blob,
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate backup codes: %w", err)
	}

	s.record("backup_codes_regenerated", user, meta, map[string]interface{}{
		"count": len(codes),
	})
	return codes, nil
}

func (s *AuthService) MFAStatus(_ context.Context, user *models.User) (*MFAStatus, error) {
	status := &MFAStatus{
		Enabled:      user.MFAEnabled,
		PendingSetup: user.HasPendingSecret(),
	}
	if user.MFAEnabled {
		remaining, err := s.backup.Remaining(user.MFABackupCodes)
		if err != nil {
			return nil, fmt.Errorf("open backup codes: %w", err)
		}
		status.BackupCodesRemaining = remaining
	}
	return status, nil
}
