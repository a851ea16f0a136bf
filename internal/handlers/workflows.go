package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v2fin/backoffice/internal/services"
	"github.com/v2fin/backoffice/pkg/response"
)

// WorkflowHandler serves the post-login workflow menu.
type WorkflowHandler struct {
	workflows *services.WorkflowService
}

// NewWorkflowHandler constructs a WorkflowHandler.
func NewWorkflowHandler(workflows *services.WorkflowService) (*WorkflowHandler, error) {
	if workflows == nil {
		return nil, errors.New("workflow handler: workflow service is required")
	}
	return &WorkflowHandler{workflows: workflows}, nil
}

// List handles GET /api/workflows, filtered by the caller's role.
func (h *WorkflowHandler) List(c *gin.Context) {
	workflows, err := h.workflows.ListForRole(requestContext(c), currentUserRole(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, workflows)
}

// FixInvoiceRoute handles POST /api/workflows/fix-invoice-route (admin only).
func (h *WorkflowHandler) FixInvoiceRoute(c *gin.Context) {
	workflow, err := h.workflows.FixInvoiceRoute(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, workflow)
}
