package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/mfa"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/notify"
	"github.com/voiceagent/backend/internal/store"
	"github.com/voiceagent/backend/internal/token"
	"github.com/voiceagent/backend/pkg/logger"
	"github.com/voiceagent/backend/pkg/utils"
)

const (
	maxBackupCodeAttempts = 5
	defaultNotifyTimeout  = 10 * time.Second
	tokenTypeBearer       = "bearer"

	MethodPassword = "password"
	MethodTOTP     = "totp"
	MethodBackup   = "backup"
)

// Store is the persistence the auth flow needs. *store.Store implements it.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindCompanyUser(ctx context.Context, companyID, userID uuid.UUID) (*models.User, error)
	ListCompanyUsers(ctx context.Context, companyID uuid.UUID, page, limit int) ([]models.User, int64, error)
	FindCompanyByID(ctx context.Context, id uuid.UUID) (*models.Company, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	DomainExists(ctx context.Context, domain string) (bool, error)
	CreateCompanyWithAdmin(ctx context.Context, company *models.Company, admin *models.User) error
	SaveMFAState(ctx context.Context, userID uuid.UUID, state store.MFAState) error
	SetUserActive(ctx context.Context, companyID, userID uuid.UUID, active bool) error
	SwapBackupCodes(ctx context.Context, userID uuid.UUID, expected, replacement string) (bool, error)
	ReadBackupCodes(ctx context.Context, userID uuid.UUID) (string, error)
	RecordLogin(ctx context.Context, userID uuid.UUID, token string, expiresAt, at time.Time) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string, userID uuid.UUID) error
}

// Auditor records audit events without blocking. *AuditService implements it.
type Auditor interface {
	LogAsync(entry AuditEntry)
}

// RequestMeta carries the caller details attached to audit rows.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	MFARequired  bool   `json:"mfa_required"`
}

type RegisterInput struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	CompanyName   string `json:"company_name"`
	CompanyDomain string `json:"company_domain"`
}

type AuthDeps struct {
	Store       Store
	Tokens      *token.Manager
	Cipher      *mfa.Cipher
	TOTP        *mfa.TOTP
	BackupCodes *mfa.BackupCodes
	Auditor     Auditor
	Notifier    notify.Notifier
}

// AuthService runs the login and MFA state machine:
// anonymous, password verified, then either an active session or an
// MFA-pending token that VerifyMFA upgrades to a session.
type AuthService struct {
	store    Store
	tokens   *token.Manager
	cipher   *mfa.Cipher
	totp     *mfa.TOTP
	backup   *mfa.BackupCodes
	auditor  Auditor
	notifier notify.Notifier

	notifyTimeout time.Duration
	now           func() time.Time
	pending       sync.WaitGroup
}

func NewAuthService(deps AuthDeps) *AuthService {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &AuthService{
		store:         deps.Store,
		tokens:        deps.Tokens,
		cipher:        deps.Cipher,
		totp:          deps.TOTP,
		backup:        deps.BackupCodes,
		auditor:       deps.Auditor,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
}

// Wait blocks until in-flight notifications finish.
func (s *AuthService) Wait() {
	s.pending.Wait()
}

// Tokens exposes the token manager to the transport layer.
func (s *AuthService) Tokens() *token.Manager {
	return s.tokens
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*UserProfile, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.CompanyDomain = strings.ToLower(strings.TrimSpace(in.CompanyDomain))
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	taken, err := s.store.EmailExists(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return nil, ErrEmailTaken
	}
	taken, err = s.store.DomainExists(ctx, in.CompanyDomain)
	if err != nil {
		return nil, fmt.Errorf("check domain: %w", err)
	}
	if taken {
		return nil, ErrDomainTaken
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	company := &models.Company{Name: in.CompanyName, Domain: in.CompanyDomain, IsActive: true}
	user := &models.User{
		Email:         in.Email,
		PasswordHash:  hash,
		FullName:      in.FullName,
		Role:          models.UserRoleAdmin,
		IsActive:      true,
		EmailVerified: true,
	}
	if err := s.store.CreateCompanyWithAdmin(ctx, company, user); err != nil {
		return nil, fmt.Errorf("register company: %w", err)
	}

	s.record("user_registered", user, meta, map[string]interface{}{
		"email": user.Email,
		"role":  string(user.Role),
	})
	s.notifyAsync("welcome", user, func(ctx context.Context) error {
		return s.notifier.SendWelcome(ctx, user, company.Name)
	})

	return newUserProfile(user, company.Name), nil
}

func validateRegistration(in RegisterInput) error {
	if _, err := mail.ParseAddress(in.Email); err != nil || !strings.Contains(in.Email, "@") {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if err := validatePassword(in.Password); err != nil {
		return err
	}
	if n := len(in.FullName); n < 2 || n > 255 {
		return fmt.Errorf("%w: full name must be between 2 and 255 characters", ErrInvalidInput)
	}
	if n := len(in.CompanyName); n < 2 || n > 255 {
		return fmt.Errorf("%w: company name must be between 2 and 255 characters", ErrInvalidInput)
	}
	if n := len(in.CompanyDomain); n < 2 || n > 255 {
		return fmt.Errorf("%w: company domain must be between 2 and 255 characters", ErrInvalidInput)
	}
	return nil
}

const maxPasswordBytes = 72

func validatePassword(password string) error {
	if n := len(password); n < 8 || n > 100 {
		return fmt.Errorf("%w: password must be between 8 and 100 characters", ErrInvalidInput)
	}
	// bcrypt only hashes the first 72 bytes and rejects longer input.
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must not exceed %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case !upper:
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidInput)
	case !lower:
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidInput)
	case !digit:
		return fmt.Errorf("%w: password must contain at least one digit", ErrInvalidInput)
	}
	return nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck spends the same bcrypt work on unknown emails as on known
// ones.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = utils.HashPassword("timing-equalizer")
	})
	_, _ = utils.VerifyPassword(password, dummyHash)
}

// Login checks the password. With MFA enabled it returns only an MFA-pending
// token and an empty refresh token.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (*Session, error) {
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			burnPasswordCheck(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	ok, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if user.MFAEnabled {
		pending, err := s.tokens.IssueMFAPending(user)
		if err != nil {
			return nil, err
		}
		logger.InfoWithUser(user.ID.String(), "login_mfa_pending", nil)
		return &Session{AccessToken: pending, TokenType: tokenTypeBearer, MFARequired: true}, nil
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.record("login", user, meta, map[string]interface{}{
		"email":    user.Email,
		"method":   MethodPassword,
		"mfa_used": false,
	})
	s.notifyAsync("login_alert", user, func(ctx context.Context) error {
		return s.notifier.SendLoginAlert(ctx, user, notify.LoginContext{
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			At:        s.now(),
		})
	})
	return session, nil
}

// VerifyMFA completes a login for an MFA-enabled account. TOTP is tried
// first, then the backup codes. A matched backup code is removed from the
// stored set before the session is issued.
func (s *AuthService) VerifyMFA(ctx context.Context, email, code string, meta RequestMeta) (*Session, error) {
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	method, err := s.checkSecondFactor(ctx, user, code, true)
	if err != nil {
		return nil, err
	}
	if method == "" {
		s.record("mfa_verification_failed", user, meta, map[string]interface{}{
			"email": user.Email,
		})
		return nil, ErrInvalidMFACode
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.record("login", user, meta, map[string]interface{}{
		"email":            user.Email,
		"method":           method,
		"mfa_used":         true,
		"backup_code_used": method == MethodBackup,
	})
	return session, nil
}

// checkSecondFactor returns the method that accepted code, or "" when neither
// did. With consume set a matching backup code is removed from the store.
func (s *AuthService) checkSecondFactor(ctx context.Context, user *models.User, code string, consume bool) (string, error) {
	secret, err := s.cipher.Decrypt(user.MFASecret)
	if err != nil {
		return "", fmt.Errorf("open mfa secret: %w", err)
	}
	if s.totp.VerifyCodeAt(secret, code, s.now()) {
		return MethodTOTP, nil
	}

	var matched bool
	if consume {
		matched, err = s.consumeBackupCode(ctx, user, code)
	} else {
		matched, err = s.backup.Contains(user.MFABackupCodes, code)
	}
	if err != nil {
		return "", err
	}
	if matched {
		return MethodBackup, nil
	}
	return "", nil
}

// consumeBackupCode removes code from the user's stored set with a
// compare-and-swap so concurrent submissions of different codes both land.
func (s *AuthService) consumeBackupCode(ctx context.Context, user *models.User, code string) (bool, error) {
	blob := user.MFABackupCodes
	for attempt := 0; attempt < maxBackupCodeAttempts; attempt++ {
		matched, updated, err := s.backup.VerifyAndConsume(blob, code)
		if err != nil {
			return false, fmt.Errorf("open backup codes: %w", err)
		}
		if !matched {
			return false, nil
		}

		swapped, err := s.store.SwapBackupCodes(ctx, user.ID, blob, updated)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}

		blob, err = s.store.ReadBackupCodes(ctx, user.ID)
		if err != nil {
			return false, err
		}
	}

	logger.WarnWithUser(user.ID.String(), "backup_code_contention", map[string]interface{}{
		"attempts": maxBackupCodeAttempts,
	})
	return false, ErrBackupCodeContention
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User) (*Session, error) {
	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, err
	}
	refresh, expiresAt, err := s.tokens.IssueRefresh()
	if err != nil {
		return nil, err
	}
	if err := s.store.RecordLogin(ctx, user.ID, refresh, expiresAt, s.now()); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	return &Session{AccessToken: access, RefreshToken: refresh, TokenType: tokenTypeBearer}, nil
}

// Refresh mints a new access token. The refresh token itself is returned
// unchanged; it is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}

	row, err := s.store.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if !row.Usable(s.now()) {
		return nil, ErrInvalidToken
	}

	user, err := s.store.FindUserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidToken
	}

	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: access, RefreshToken: refreshToken, TokenType: tokenTypeBearer}, nil
}

// Logout revokes the caller's refresh token. Unknown or foreign tokens are
// ignored so the call is idempotent.
func (s *AuthService) Logout(ctx context.Context, user *models.User, refreshToken string, meta RequestMeta) error {
	if refreshToken != "" {
		if err := s.store.RevokeRefreshToken(ctx, refreshToken, user.ID); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	s.record("logout", user, meta, nil)
	return nil
}

func (s *AuthService) record(action string, user *models.User, meta RequestMeta, details map[string]interface{}) {
	s.recordOn(action, user, user.ID, meta, details)
}

// recordOn audits an action by actor against the user identified by target.
func (s *AuthService) recordOn(action string, actor *models.User, target uuid.UUID, meta RequestMeta, details map[string]interface{}) {
	if s.auditor == nil {
		return
	}
	actorID := actor.ID
	s.auditor.LogAsync(AuditEntry{
		CompanyID:    actor.CompanyID,
		UserID:       &actorID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   &target,
		Details:      details,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		RequestID:    meta.RequestID,
	})
}

// notifyAsync runs send on its own goroutine with a bounded deadline. Errors
// and panics are logged and never reach the caller.
func (s *AuthService) notifyAsync(kind string, user *models.User, send func(ctx context.Context) error) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorWithUser(user.ID.String(), "notification_panic", fmt.Errorf("%v", r), map[string]interface{}{
					"notification": kind,
				})
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			logger.ErrorWithUser(user.ID.String(), "notification_failed", err, map[string]interface{}{
				"notification": kind,
			})
		}
	}()
}
