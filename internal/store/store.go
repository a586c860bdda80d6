package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is re-exported so callers need not import models for it.
var ErrNotFound = models.ErrNotFound

// MFAState is the set of MFA columns written together. Writing them as one
// targeted update keeps "enabled implies secret present" true on disk.
type MFAState struct {
	Enabled     bool
	Secret      string
	BackupCodes string
}

// Store is the gorm-backed persistence layer. Updates touch named columns
// only so a stale in-memory user never overwrites a concurrent change.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a Store bound to one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindCompanyUser only matches users inside companyID.
func (s *Store) FindCompanyUser(ctx context.Context, companyID, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", userID, companyID).
		First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) ListCompanyUsers(ctx context.Context, companyID uuid.UUID, page, limit int) ([]models.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.User{}).Where("company_id = ?", companyID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var users []models.User
	err := query.Order("created_at ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

func (s *Store) FindCompanyByID(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	if err := s.db.WithContext(ctx).First(&company, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &company, nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", normalizeEmail(email)).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) DomainExists(ctx context.Context, domain string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Company{}).
		Where("domain = ?", strings.ToLower(strings.TrimSpace(domain))).
		Count(&count).Error
	return count > 0, err
}

// CreateCompanyWithAdmin inserts a tenant and its first user atomically.
func (s *Store) CreateCompanyWithAdmin(ctx context.Context, company *models.Company, admin *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		company.Domain = strings.ToLower(strings.TrimSpace(company.Domain))
		if err := tx.Create(company).Error; err != nil {
			return fmt.Errorf("create company: %w", err)
		}

		admin.CompanyID = company.ID
		admin.Email = normalizeEmail(admin.Email)
		if err := tx.Create(admin).Error; err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
		return nil
	})
}

// SaveMFAState writes the three MFA columns in one statement.
func (s *Store) SaveMFAState(ctx context.Context, userID uuid.UUID, state MFAState) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"mfa_enabled":      state.Enabled,
			"mfa_secret":       state.Secret,
			"mfa_backup_codes": state.BackupCodes,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("save mfa state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login", at.UTC()).Error
}

func (s *Store) SetUserActive(ctx context.Context, companyID, userID uuid.UUID, active bool) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND company_id = ?", userID, companyID).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("set user active: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapBackupCodes replaces the stored backup-code blob only if it still equals
// expected. A false result means another request changed the set first.
func (s *Store) SwapBackupCodes(ctx context.Context, userID uuid.UUID, expected, replacement string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND mfa_enabled = ? AND mfa_backup_codes = ?", userID, true, expected).
		Updates(map[string]interface{}{
			"mfa_backup_codes": replacement,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("swap backup codes: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReadBackupCodes returns the current stored blob for the CAS retry loop.
func (s *Store) ReadBackupCodes(ctx context.Context, userID uuid.UUID) (string, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "mfa_backup_codes").First(&user, "id = ?", userID).Error
	if err != nil {
		return "", notFound(err)
	}
	return user.MFABackupCodes, nil
}

// ListMFAUsers returns every user with stored MFA material. Used by key
// rotation.
func (s *Store) ListMFAUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("mfa_secret <> '' OR mfa_backup_codes <> ''").
		Find(&users).Error
	return users, err
}

// ListUserAuditLogs returns the newest audit rows about userID inside its
// company.
func (s *Store) ListUserAuditLogs(ctx context.Context, companyID, userID uuid.UUID, limit int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND (user_id = ? OR resource_id = ?)", companyID, userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	row := &models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt.UTC()}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (s *Store) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var row models.RefreshToken
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// RecordLogin stores the new refresh token and stamps last_login in one
// transaction.
func (s *Store) RecordLogin(ctx context.Context, userID uuid.UUID, token string, expiresAt, at time.Time) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.CreateRefreshToken(ctx, userID, token, expiresAt); err != nil {
			return err
		}
		return tx.UpdateLastLogin(ctx, userID, at)
	})
}

// RevokeRefreshToken flags the token owned by userID. Unknown tokens and
// already revoked ones are not an error.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND user_id = ?", token, userID).
		Updates(map[string]interface{}{
			"revoked":    true,
			"updated_at": time.Now().UTC(),
		}).Error
}

// DeleteExpiredRefreshTokens removes rows that can no longer be used.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked = ?", before.UTC(), true).
		Delete(&models.RefreshToken{})
	return result.RowsAffected, result.Error
}
