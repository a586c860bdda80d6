package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/models"
)

type Kind string

const (
	KindAccess     Kind = "access"
	KindMFAPending Kind = "mfa_pending"
	KindRefresh    Kind = "refresh"
)

const refreshTokenBytes = 32

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrMFAPending wraps ErrInvalidToken so callers that only check for an
	// invalid token still refuse it.
	ErrMFAPending = fmt.Errorf("%w: mfa verification required", ErrInvalidToken)
)

type Config struct {
	Secret     string
	AccessTTL  time.Duration
	MFATTL     time.Duration
	RefreshTTL time.Duration
}

type Claims struct {
	UserID      uuid.UUID       `json:"user_id"`
	Email       string          `json:"email"`
	CompanyID   uuid.UUID       `json:"company_id"`
	Role        models.UserRole `json:"role"`
	Type        Kind            `json:"type"`
	MFARequired bool            `json:"mfa_required,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and checks session tokens. It is safe for concurrent use.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	mfaTTL     time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: access and refresh lifetimes must be positive")
	}
	mfaTTL := cfg.MFATTL
	if mfaTTL <= 0 || mfaTTL > cfg.AccessTTL {
		mfaTTL = cfg.AccessTTL
	}

	return &Manager{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		mfaTTL:     mfaTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// SetClock replaces the time source. Tests use it to move past expiry.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *Manager) IssueAccess(user *models.User) (string, error) {
	return m.sign(user, KindAccess, false, m.accessTTL)
}

// IssueMFAPending mints a short-lived token that only the MFA verification
// step accepts.
func (m *Manager) IssueMFAPending(user *models.User) (string, error) {
	return m.sign(user, KindMFAPending, true, m.mfaTTL)
}

// IssueRefresh returns an opaque random token and its expiry. It is not a JWT
// and is only valid while a matching store row exists.
func (m *Manager) IssueRefresh() (string, time.Time, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("token: generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), m.now().Add(m.refreshTTL), nil
}

func (m *Manager) sign(user *models.User, kind Kind, mfaRequired bool, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:      user.ID,
		Email:       user.Email,
		CompanyID:   user.CompanyID,
		Role:        user.Role,
		Type:        kind,
		MFARequired: mfaRequired,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Validate checks signature, expiry and kind. An MFA-pending token presented
// where an access token is expected fails with ErrMFAPending.
func (m *Manager) Validate(tokenString string, expected Kind) (*Claims, error) {
	if expected != KindAccess && expected != KindMFAPending {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	switch expected {
	case KindAccess:
		if claims.MFARequired || claims.Type == KindMFAPending {
			return nil, ErrMFAPending
		}
		if claims.Type != KindAccess {
			return nil, ErrInvalidToken
		}
	case KindMFAPending:
		if claims.Type != KindMFAPending || !claims.MFARequired {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}
