package database

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/models"
	"github.com/v2fin/backoffice/pkg/crypto"
	"github.com/v2fin/backoffice/pkg/logger"
)

// AutoMigrate creates or updates the schema for all application models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.TwoFactorSecret{},
		&models.Workflow{},
		&models.InvoiceTemplate{},
		&models.InvoiceJob{},
	)
}

// SeedData inserts the default workflow catalogue. Existing rows are left
// untouched so operators can adjust availability without it being reset on
// restart.
func SeedData(db *gorm.DB) error {
	workflows := []models.Workflow{
		{
			Label:         "Invoice Generation",
			ImgPath:       "/assets/workflows/invoice-generation.svg",
			FrontendRoute: "/admin/invoice-generation",
			AccessibleTo:  models.WorkflowAccessAdmin,
			IsAvailable:   true,
			Description:   "Generate year-end performance fee invoices from an entity spreadsheet",
		},
		{
			Label:         "User Management",
			ImgPath:       "/assets/workflows/user-management.svg",
			FrontendRoute: "/admin/users",
			AccessibleTo:  models.WorkflowAccessAdmin,
			IsAvailable:   true,
			Description:   "Create, update and deactivate application accounts",
		},
		{
			Label:         "Document Center",
			ImgPath:       "/assets/workflows/documents.svg",
			FrontendRoute: "/documents",
			AccessibleTo:  models.WorkflowAccessBoth,
			IsAvailable:   false,
			Description:   "Browse generated artifacts and shared documents",
		},
	}

	for _, workflow := range workflows {
		result := db.Where(models.Workflow{Label: workflow.Label}).FirstOrCreate(&workflow)
		if result.Error != nil {
			return fmt.Errorf("seed workflow %q: %w", workflow.Label, result.Error)
		}
		if result.RowsAffected > 0 {
			logger.Info("Seeded workflow", zap.String("label", workflow.Label))
		}
	}

	return nil
}

// AdminSeed describes the bootstrap administrator account.
type AdminSeed struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// SeedAdmin provisions the first administrator when none of the configured
// email exists. A blank seed is a no-op so deployments that provision accounts
// out of band are unaffected.
func SeedAdmin(db *gorm.DB, seed AdminSeed) error {
	email := strings.ToLower(strings.TrimSpace(seed.Email))
	if email == "" || seed.Password == "" {
		return nil
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := crypto.HashPassword(seed.Password)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	admin := models.User{
		Email:     email,
		Password:  hash,
		FirstName: seed.FirstName,
		LastName:  seed.LastName,
		Role:      models.RoleAdmin,
		IsActive:  true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	logger.Info("Seeded bootstrap admin", zap.String("email", email))
	return nil
}
