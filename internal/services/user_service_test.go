package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/v2fin/backoffice/internal/models"
	"github.com/v2fin/backoffice/pkg/crypto"
	"github.com/v2fin/backoffice/pkg/mail"
)

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

func newTestUserService(t *testing.T) (*UserService, *recordingMailer) {
	t.Helper()

	db := openTestDB(t)
	mailer := &recordingMailer{}
	service, err := NewUserService(db, mailer, "https://backoffice.example.com")
	require.NoError(t, err)

	return service, mailer
}

func TestCreateUserHashesPasswordAndSendsWelcome(t *testing.T) {
	service, mailer := newTestUserService(t)

	user, err := service.Create(context.Background(), CreateUserInput{
		Email:     "Alice@Example.com",
		Password:  "s3cret-pass",
		FirstName: "Alice",
		LastName:  "Nguyen",
	})
	require.NoError(t, err)

	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, models.RoleUser, user.Role)
	require.True(t, user.IsActive)
	require.NotEqual(t, "s3cret-pass", user.Password)
	require.True(t, crypto.VerifyPassword(user.Password, "s3cret-pass"))

	messages := mailer.sent()
	require.Len(t, messages, 1)
	require.Equal(t, []string{"alice@example.com"}, messages[0].To)
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	service, _ := newTestUserService(t)

	_, err := service.Create(context.Background(), CreateUserInput{
		Email:    "bob@example.com",
		Password: "password-1",
	})
	require.NoError(t, err)

	_, err = service.Create(context.Background(), CreateUserInput{
		Email:    "BOB@example.com",
		Password: "password-2",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	service, _ := newTestUserService(t)

	_, err := service.Create(context.Background(), CreateUserInput{
		Email:    "carol@example.com",
		Password: "password-1",
		Role:     "superuser",
	})
	require.Error(t, err)
}

func TestListUsersFiltersAndPaginates(t *testing.T) {
	service, _ := newTestUserService(t)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := service.Create(context.Background(), CreateUserInput{Email: email, Password: "password-1"})
		require.NoError(t, err)
	}

	users, total, err := service.List(context.Background(), ListUsersOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, users, 2)

	users, total, err = service.List(context.Background(), ListUsersOptions{Query: "b@example"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "b@example.com", users[0].Email)
}

func TestUpdateUser(t *testing.T) {
	service, _ := newTestUserService(t)

	user, err := service.Create(context.Background(), CreateUserInput{
		Email:    "dora@example.com",
		Password: "password-1",
	})
	require.NoError(t, err)

	role := models.RoleAdmin
	inactive := false
	updated, err := service.Update(context.Background(), user.ID, UpdateUserInput{
		Role:     &role,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, updated.Role)
	require.False(t, updated.IsActive)
}

func TestDeleteUserCannotDeleteSelf(t *testing.T) {
	service, _ := newTestUserService(t)

	user, err := service.Create(context.Background(), CreateUserInput{
		Email:    "erin@example.com",
		Password: "password-1",
	})
	require.NoError(t, err)

	require.ErrorIs(t, service.Delete(context.Background(), user.ID, user.ID), ErrCannotDeleteSelf)

	other, err := service.Create(context.Background(), CreateUserInput{
		Email:    "frank@example.com",
		Password: "password-1",
	})
	require.NoError(t, err)

	require.NoError(t, service.Delete(context.Background(), user.ID, other.ID))
	_, err = service.GetByID(context.Background(), other.ID)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRequestPasswordResetIsUniform(t *testing.T) {
	service, mailer := newTestUserService(t)

	user, err := service.Create(context.Background(), CreateUserInput{
		Email:    "grace@example.com",
		Password: "password-1",
	})
	require.NoError(t, err)
	before := len(mailer.sent())

	// Unknown addresses get the same nil response, no email.
	require.NoError(t, service.RequestPasswordReset(context.Background(), "nobody@example.com"))
	require.Len(t, mailer.sent(), before)

	require.NoError(t, service.RequestPasswordReset(context.Background(), user.Email))
	messages := mailer.sent()
	require.Len(t, messages, before+1)

	stored, err := service.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, stored.ResetPasswordToken, 64) // 32 random bytes hex encoded
	require.NotNil(t, stored.ResetPasswordExpires)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), *stored.ResetPasswordExpires, time.Minute)
}

func TestResetPasswordConsumesToken(t *testing.T) {
	service, mailer := newTestUserService(t)

	admin, err := service.Create(context.Background(), CreateUserInput{
		Email:    "admin@example.com",
		Password: "password-1",
		Role:     models.RoleAdmin,
	})
	require.NoError(t, err)

	user, err := service.Create(context.Background(), CreateUserInput{
		Email:     "heidi@example.com",
		Password:  "password-1",
		CreatedBy: admin.ID,
	})
	require.NoError(t, err)

	require.NoError(t, service.RequestPasswordReset(context.Background(), user.Email))
	stored, err := service.GetByID(context.Background(), user.ID)
	require.NoError(t, err)

	before := len(mailer.sent())
	require.NoError(t, service.ResetPassword(context.Background(), stored.ResetPasswordToken, "new-password"))

	updated, err := service.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, crypto.VerifyPassword(updated.Password, "new-password"))
	require.Empty(t, updated.ResetPasswordToken)

	// Creating admin is notified.
	messages := mailer.sent()
	require.Len(t, messages, before+1)
	require.Equal(t, []string{"admin@example.com"}, messages[len(messages)-1].To)

	// Token is single use.
	require.Error(t, service.ResetPassword(context.Background(), stored.ResetPasswordToken, "another-password"))
}

func TestResetPasswordRejectsExpiredToken(t *testing.T) {
	service, _ := newTestUserService(t)

	user, err := service.Create(context.Background(), CreateUserInput{
		Email:    "ivan@example.com",
		Password: "password-1",
	})
	require.NoError(t, err)

	require.NoError(t, service.RequestPasswordReset(context.Background(), user.Email))
	stored, err := service.GetByID(context.Background(), user.ID)
	require.NoError(t, err)

	expired := time.Now().Add(-time.Minute)
	require.NoError(t, service.db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("reset_password_expires", &expired).Error)

	require.Error(t, service.ResetPassword(context.Background(), stored.ResetPasswordToken, "new-password"))
}
