package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/models"
	apperrors "github.com/v2fin/backoffice/pkg/errors"
)

// ErrWorkflowNotFound indicates the requested workflow does not exist.
var ErrWorkflowNotFound = apperrors.New("WORKFLOW_NOT_FOUND", "Workflow not found", http.StatusNotFound)

// invoiceWorkflowRoute is the canonical frontend route for the invoice
// generation workflow; FixInvoiceRoute restores it when it drifts.
const (
	invoiceWorkflowLabel = "Invoice Generation"
	invoiceWorkflowRoute = "/admin/invoice-generation"
)

// WorkflowService serves the post-login workflow menu.
type WorkflowService struct {
	db *gorm.DB
}

// NewWorkflowService constructs a WorkflowService.
func NewWorkflowService(db *gorm.DB) (*WorkflowService, error) {
	if db == nil {
		return nil, errors.New("workflow service: db is required")
	}
	return &WorkflowService{db: db}, nil
}

// ListForRole returns the available workflows visible to the given role.
// Admins see everything that is available; users see entries marked for
// users or both.
func (s *WorkflowService) ListForRole(ctx context.Context, role string) ([]models.Workflow, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Where("is_available = ?", true)
	if role != models.RoleAdmin {
		query = query.Where("accessible_to IN ?", []string{models.WorkflowAccessUser, models.WorkflowAccessBoth})
	}

	var workflows []models.Workflow
	if err := query.Order("label ASC").Find(&workflows).Error; err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	return workflows, nil
}

// FixInvoiceRoute resets the invoice generation workflow's frontend route to
// its canonical value. Exists because a bad manual edit once broke the menu.
func (s *WorkflowService) FixInvoiceRoute(ctx context.Context) (*models.Workflow, error) {
	ctx = ensureContext(ctx)

	var workflow models.Workflow
	err := s.db.WithContext(ctx).Where("label = ?", invoiceWorkflowLabel).First(&workflow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	if workflow.FrontendRoute != invoiceWorkflowRoute {
		if err := s.db.WithContext(ctx).Model(&workflow).Update("frontend_route", invoiceWorkflowRoute).Error; err != nil {
			return nil, fmt.Errorf("update workflow route: %w", err)
		}
		workflow.FrontendRoute = invoiceWorkflowRoute
	}

	return &workflow, nil
}
