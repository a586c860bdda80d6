package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one issued refresh credential. Tokens are opaque strings and
// are looked up by exact match; they are never rotated on use.
type RefreshToken struct {
	BaseModel
	UserID    uuid.UUID `json:"userID" gorm:"type:uuid;not null;index"`
	Token     string    `json:"-" gorm:"type:varchar(500);uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null"`
	Revoked   bool      `json:"revoked" gorm:"not null;default:false"`
	User      User      `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Usable reports whether the token can mint a new access token at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
