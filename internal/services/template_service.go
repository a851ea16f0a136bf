package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/models"
	apperrors "github.com/v2fin/backoffice/pkg/errors"
	"github.com/v2fin/backoffice/pkg/logger"
)

var (
	// ErrTemplateNotFound indicates the requested template does not exist.
	ErrTemplateNotFound = apperrors.New("TEMPLATE_NOT_FOUND", "Template not found", http.StatusNotFound)
	// ErrTemplateNameTaken indicates a template with the same name exists.
	ErrTemplateNameTaken = apperrors.New("TEMPLATE_NAME_TAKEN", "A template with this name already exists", http.StatusBadRequest)
	// ErrTemplateDefault prevents removal of the default template.
	ErrTemplateDefault = apperrors.New("TEMPLATE_DEFAULT_PROTECTED", "The default template cannot be deleted", http.StatusBadRequest)
)

// UploadTemplateInput carries the metadata and content of an uploaded
// invoice template.
type UploadTemplateInput struct {
	Name        string
	Description string
	FileName    string
	Content     io.Reader
	IsDefault   bool
	CreatedBy   string
}

// TemplateService manages uploaded invoice templates and their files on disk.
type TemplateService struct {
	db         *gorm.DB
	storageDir string
}

// NewTemplateService constructs a TemplateService storing files under
// storageDir.
func NewTemplateService(db *gorm.DB, storageDir string) (*TemplateService, error) {
	if db == nil {
		return nil, errors.New("template service: db is required")
	}
	if storageDir == "" {
		return nil, errors.New("template service: storage directory is required")
	}
	return &TemplateService{db: db, storageDir: storageDir}, nil
}

// Upload stores a template file and its metadata. Template names are unique.
func (s *TemplateService) Upload(ctx context.Context, input UploadTemplateInput) (*models.InvoiceTemplate, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("template name is required")
	}
	if input.Content == nil {
		return nil, apperrors.NewBadRequest("template file is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.InvoiceTemplate{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check template name: %w", err)
	}
	if count > 0 {
		return nil, ErrTemplateNameTaken
	}

	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create template directory: %w", err)
	}

	fileName := filepath.Base(strings.TrimSpace(input.FileName))
	if fileName == "" || fileName == "." {
		fileName = "template.xlsx"
	}
	storedPath := filepath.Join(s.storageDir, uuid.NewString()+"_"+fileName)

	destination, err := os.Create(storedPath)
	if err != nil {
		return nil, fmt.Errorf("create template file: %w", err)
	}
	if _, err := io.Copy(destination, input.Content); err != nil {
		destination.Close()
		os.Remove(storedPath)
		return nil, fmt.Errorf("write template file: %w", err)
	}
	if err := destination.Close(); err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("close template file: %w", err)
	}

	template := models.InvoiceTemplate{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		FilePath:    storedPath,
		FileName:    fileName,
		IsDefault:   input.IsDefault,
		CreatedBy:   input.CreatedBy,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if template.IsDefault {
			if err := tx.Model(&models.InvoiceTemplate{}).Where("is_default = ?", true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&template).Error
	})
	if err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("create template: %w", err)
	}

	return &template, nil
}

// GetByID loads one template.
func (s *TemplateService) GetByID(ctx context.Context, id string) (*models.InvoiceTemplate, error) {
	ctx = ensureContext(ctx)

	var template models.InvoiceTemplate
	err := s.db.WithContext(ctx).First(&template, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("load template: %w", err)
	}

	return &template, nil
}

// List returns all templates, default first, newest next.
func (s *TemplateService) List(ctx context.Context) ([]models.InvoiceTemplate, error) {
	ctx = ensureContext(ctx)

	var templates []models.InvoiceTemplate
	err := s.db.WithContext(ctx).
		Order("is_default DESC, created_at DESC").
		Find(&templates).Error
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	return templates, nil
}

// Delete removes a template record and unlinks its file. The default
// template is protected.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	template, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if template.IsDefault {
		return ErrTemplateDefault
	}

	if err := s.db.WithContext(ctx).Delete(template).Error; err != nil {
		return fmt.Errorf("delete template: %w", err)
	}

	if template.FilePath != "" {
		if err := os.Remove(template.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove template file",
				zap.String("path", template.FilePath),
				zap.Error(err))
		}
	}

	return nil
}
