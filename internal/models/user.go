package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "admin"
	UserRoleManager UserRole = "manager"
	UserRoleUser    UserRole = "user"
)

// ParseUserRole maps a stored or submitted role name onto the closed role set.
func ParseUserRole(value string) (UserRole, error) {
	switch role := UserRole(strings.ToLower(strings.TrimSpace(value))); role {
	case UserRoleAdmin, UserRoleManager, UserRoleUser:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

// Allows reports whether role is a member of required. An empty required set
// allows nobody.
func Allows(role UserRole, required ...UserRole) bool {
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}

// User is a per-company account. MFASecret and MFABackupCodes hold encrypted
// blobs; an empty string means "not set".
type User struct {
	BaseModel
	CompanyID      uuid.UUID  `json:"companyID" gorm:"type:uuid;not null;index"`
	Email          string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash   string     `json:"-" gorm:"type:varchar(255);not null"`
	FullName       string     `json:"fullName" gorm:"type:varchar(255);not null"`
	Role           UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	IsActive       bool       `json:"isActive" gorm:"not null;default:true"`
	EmailVerified  bool       `json:"emailVerified" gorm:"not null;default:false"`
	MFAEnabled     bool       `json:"mfaEnabled" gorm:"not null;default:false"`
	MFASecret      string     `json:"-" gorm:"type:varchar(255)"`
	MFABackupCodes string     `json:"-" gorm:"type:text"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
	Company        Company    `json:"-" gorm:"foreignKey:CompanyID"`
}

// HasPendingSecret reports whether setup has stored a secret that is not yet
// confirmed by EnableMFA.
func (u *User) HasPendingSecret() bool {
	return !u.MFAEnabled && u.MFASecret != ""
}
