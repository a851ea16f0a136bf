package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/models"
	"github.com/v2fin/backoffice/pkg/crypto"
	apperrors "github.com/v2fin/backoffice/pkg/errors"
	"github.com/v2fin/backoffice/pkg/logger"
	"github.com/v2fin/backoffice/pkg/mail"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "Email is already registered", http.StatusBadRequest)
	// ErrCannotDeleteSelf prevents an admin from removing their own account.
	ErrCannotDeleteSelf = apperrors.New("CANNOT_DELETE_SELF", "You cannot delete your own account", http.StatusBadRequest)
)

const resetTokenTTL = 15 * time.Minute

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	CreatedBy string
}

// UpdateUserInput enumerates mutable user attributes.
type UpdateUserInput struct {
	Email     *string
	FirstName *string
	LastName  *string
	Role      *string
	IsActive  *bool
}

// ListUsersOptions controls pagination and filtering for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Query    string
	IsActive *bool
}

// UserService manages the account lifecycle: provisioning, updates,
// password resets and deactivation.
type UserService struct {
	db          *gorm.DB
	mailer      mail.Mailer
	frontendURL string
	now         func() time.Time
}

// NewUserService constructs a UserService. The mailer may be nil; email
// notifications are best-effort everywhere they occur.
func NewUserService(db *gorm.DB, mailer mail.Mailer, frontendURL string) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{
		db:          db,
		mailer:      mailer,
		frontendURL: frontendURL,
		now:         time.Now,
	}, nil
}

// Create provisions a new account with a hashed password and sends a welcome
// email when a mailer is configured.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, apperrors.NewBadRequest("role must be admin or user")
	}

	var existing models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Email:     email,
		Password:  hashed,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Role:      role,
		IsActive:  true,
	}
	if createdBy := strings.TrimSpace(input.CreatedBy); createdBy != "" {
		user.CreatedBy = &createdBy
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.sendBestEffort(ctx, mail.WelcomeMessage(user.Email, user.FullName(), s.frontendURL), "welcome email")

	return &user, nil
}

// GetByID loads a user by primary key.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	return &user, nil
}

// GetByEmail loads a user by email address (case-insensitive).
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	return &user, nil
}

// List returns a page of users plus the unpaginated total.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page, pageSize := normalizePagination(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.User{})
	if q := strings.TrimSpace(opts.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where(
			"lower(email) LIKE ? OR lower(first_name) LIKE ? OR lower(last_name) LIKE ?",
			like, like, like,
		)
	}
	if opts.IsActive != nil {
		query = query.Where("is_active = ?", *opts.IsActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var users []models.User
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	return users, total, nil
}

// Update applies the provided mutations to a user.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*input.Email))
		if email == "" {
			return nil, apperrors.NewBadRequest("email cannot be empty")
		}
		if email != user.Email {
			var count int64
			if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ? AND id <> ?", email, id).Count(&count).Error; err != nil {
				return nil, fmt.Errorf("check email: %w", err)
			}
			if count > 0 {
				return nil, ErrEmailTaken
			}
			updates["email"] = email
		}
	}
	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}
	if input.Role != nil {
		role := strings.TrimSpace(*input.Role)
		if role != models.RoleAdmin && role != models.RoleUser {
			return nil, apperrors.NewBadRequest("role must be admin or user")
		}
		updates["role"] = role
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	}

	return s.GetByID(ctx, id)
}

// Delete soft-deletes a user. Admins cannot delete their own account.
func (s *UserService) Delete(ctx context.Context, actorID, id string) error {
	ctx = ensureContext(ctx)

	if actorID == id {
		return ErrCannotDeleteSelf
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(user).Error; err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	return nil
}

// UpdateLastLogin stamps the user's most recent successful login.
func (s *UserService) UpdateLastLogin(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	now := s.now()
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Update("last_login_at", &now).Error
}

// RequestPasswordReset issues a reset token and emails a reset link. The
// response is identical whether or not the email exists so the endpoint
// cannot be used to enumerate accounts.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, err := crypto.GenerateHexToken(32)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	expires := s.now().Add(resetTokenTTL)
	updates := map[string]any{
		"reset_password_token":   token,
		"reset_password_expires": &expires,
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.sendBestEffort(ctx, mail.PasswordResetMessage(user.Email, s.frontendURL, token), "password reset email")

	return nil
}

// ResetPassword consumes a valid reset token and replaces the password. The
// admin who provisioned the account is notified best-effort.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(token) == "" || newPassword == "" {
		return apperrors.NewBadRequest("token and password are required")
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("reset_password_token = ? AND reset_password_expires > ?", token, s.now()).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewBadRequest("Invalid or expired reset token")
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	updates := map[string]any{
		"password":               hashed,
		"reset_password_token":   "",
		"reset_password_expires": nil,
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if user.CreatedBy != nil {
		var admin models.User
		if err := s.db.WithContext(ctx).First(&admin, "id = ?", *user.CreatedBy).Error; err == nil {
			s.sendBestEffort(ctx, mail.PasswordChangedNotice(admin.Email, user.Email, user.FullName()), "password changed notice")
		}
	}

	return nil
}

func (s *UserService) sendBestEffort(ctx context.Context, msg mail.Message, kind string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		logger.Warn("Failed to send "+kind, zap.Error(err))
	}
}
