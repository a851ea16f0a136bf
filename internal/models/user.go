package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User roles. Every account is one or the other; admins manage users,
// templates, and invoice jobs.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User describes a back-office account. Two-factor authentication is
// mandatory: the TwoFactor association is created on first login and is never
// removed.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	Role     string `gorm:"default:user" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	TwoFactor *TwoFactorSecret `gorm:"foreignKey:UserID" json:"-"`

	ResetPasswordToken   string     `json:"-"`
	ResetPasswordExpires *time.Time `json:"-"`

	// CreatedBy references the admin who provisioned the account; used for
	// password-change notifications.
	CreatedBy *string `gorm:"type:uuid" json:"created_by,omitempty"`

	LastLoginAt *time.Time `json:"last_login_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// FullName joins the first and last name for display and email templates.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
