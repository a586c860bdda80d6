package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/store"
)

type UserProfile struct {
	ID          uuid.UUID       `json:"id"`
	Email       string          `json:"email"`
	FullName    string          `json:"full_name"`
	Role        models.UserRole `json:"role"`
	CompanyID   uuid.UUID       `json:"company_id"`
	CompanyName string          `json:"company_name"`
	IsActive    bool            `json:"is_active"`
	MFAEnabled  bool            `json:"mfa_enabled"`
	CreatedAt   time.Time       `json:"created_at"`
	LastLogin   *time.Time      `json:"last_login,omitempty"`
}

func newUserProfile(user *models.User, companyName string) *UserProfile {
	return &UserProfile{
		ID:          user.ID,
		Email:       user.Email,
		FullName:    user.FullName,
		Role:        user.Role,
		CompanyID:   user.CompanyID,
		CompanyName: companyName,
		IsActive:    user.IsActive,
		MFAEnabled:  user.MFAEnabled,
		CreatedAt:   user.CreatedAt,
		LastLogin:   user.LastLogin,
	}
}

func (s *AuthService) companyName(ctx context.Context, companyID uuid.UUID) (string, error) {
	company, err := s.store.FindCompanyByID(ctx, companyID)
	if err != nil {
		return "", fmt.Errorf("find company: %w", err)
	}
	return company.Name, nil
}

func (s *AuthService) Me(ctx context.Context, user *models.User) (*UserProfile, error) {
	name, err := s.companyName(ctx, user.CompanyID)
	if err != nil {
		return nil, err
	}
	return newUserProfile(user, name), nil
}

// ListCompanyUsers pages through the caller's own company only.
func (s *AuthService) ListCompanyUsers(ctx context.Context, actor *models.User, page, limit int) ([]UserProfile, int64, error) {
	name, err := s.companyName(ctx, actor.CompanyID)
	if err != nil {
		return nil, 0, err
	}

	users, total, err := s.store.ListCompanyUsers(ctx, actor.CompanyID, page, limit)
	if err != nil {
		return nil, 0, err
	}

	profiles := make([]UserProfile, 0, len(users))
	for i := range users {
		profiles = append(profiles, *newUserProfile(&users[i], name))
	}
	return profiles, total, nil
}

// SetUserActive toggles a user inside the actor's company. Deactivated users
// can no longer log in, refresh, or use existing access tokens.
func (s *AuthService) SetUserActive(ctx context.Context, actor *models.User, targetID uuid.UUID, active bool, meta RequestMeta) error {
	if !active && targetID == actor.ID {
		return ErrCannotDeactivateSelf
	}

	if err := s.store.SetUserActive(ctx, actor.CompanyID, targetID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	action := "user_deactivated"
	if active {
		action = "user_activated"
	}
	s.recordOn(action, actor, targetID, meta, nil)
	return nil
}
