package models

import (
	"time"

	"gorm.io/datatypes"
)

// TwoFactorSecret stores a user's TOTP credential. The secret is encrypted at
// rest; backup codes are single-use uppercase hex strings stored as a JSON
// array and removed as they are consumed.
type TwoFactorSecret struct {
	BaseModel

	UserID         string         `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Secret         string         `gorm:"not null" json:"-"`
	BackupCodes    datatypes.JSON `json:"-"`
	SetupCompleted bool           `gorm:"default:false" json:"setup_completed"`
	LastUsedAt     *time.Time     `json:"last_used_at"`
}
