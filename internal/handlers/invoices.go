package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/v2fin/backoffice/internal/invoice"
	"github.com/v2fin/backoffice/internal/services"
	appErrors "github.com/v2fin/backoffice/pkg/errors"
	"github.com/v2fin/backoffice/pkg/response"
	appValidator "github.com/v2fin/backoffice/pkg/validator"
)

// InvoiceHandler exposes the invoice generation pipeline: template
// management, spreadsheet validation, job submission and job control.
type InvoiceHandler struct {
	jobs      *services.JobService
	templates *services.TemplateService
	uploadDir string
}

// NewInvoiceHandler constructs an InvoiceHandler. Uploaded spreadsheets are
// saved under uploadDir before validation.
func NewInvoiceHandler(jobs *services.JobService, templates *services.TemplateService, uploadDir string) (*InvoiceHandler, error) {
	if jobs == nil || templates == nil {
		return nil, errors.New("invoice handler: job and template services are required")
	}
	if uploadDir == "" {
		return nil, errors.New("invoice handler: upload directory is required")
	}
	return &InvoiceHandler{
		jobs:      jobs,
		templates: templates,
		uploadDir: uploadDir,
	}, nil
}

// UploadTemplate handles POST /api/invoices/templates (multipart).
func (h *InvoiceHandler) UploadTemplate(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("template file is required"))
		return
	}

	source, err := file.Open()
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("could not read uploaded file"))
		return
	}
	defer source.Close()

	template, err := h.templates.Upload(requestContext(c), services.UploadTemplateInput{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		FileName:    file.Filename,
		Content:     source,
		IsDefault:   c.PostForm("is_default") == "true",
		CreatedBy:   currentUserID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, template)
}

// ListTemplates handles GET /api/invoices/templates.
func (h *InvoiceHandler) ListTemplates(c *gin.Context) {
	templates, err := h.templates.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, templates)
}

// DeleteTemplate handles DELETE /api/invoices/templates/:id.
func (h *InvoiceHandler) DeleteTemplate(c *gin.Context) {
	if err := h.templates.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Template deleted"})
}

// ValidateSpreadsheet handles POST /api/invoices/validate (multipart). It
// saves and validates the uploaded workbook without creating a job.
func (h *InvoiceHandler) ValidateSpreadsheet(c *gin.Context) {
	path, _, err := h.saveUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer os.Remove(path)

	entities, err := invoice.ValidateWorkbook(path)
	if err != nil {
		var verr *invoice.ValidationError
		if errors.As(err, &verr) {
			response.Error(c, appErrors.NewBadRequest(verr.Message))
			return
		}
		response.Error(c, err)
		return
	}

	withPath := 0
	for _, entity := range entities {
		if strings.TrimSpace(entity.EntityPath) != "" {
			withPath++
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"valid":               true,
		"total_entities":      len(entities),
		"generatable_entities": withPath,
	})
}

// Generate handles POST /api/invoices/generate (multipart). The workbook is
// saved, the job queued, and 202 returned immediately with the pending job.
func (h *InvoiceHandler) Generate(c *gin.Context) {
	path, originalName, err := h.saveUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	templateID := c.PostForm("template_id")
	invoiceYear := c.PostForm("invoice_year")
	if templateID == "" || invoiceYear == "" {
		os.Remove(path)
		response.Error(c, appErrors.NewBadRequest("template_id and invoice_year are required"))
		return
	}
	if err := appValidator.ValidateVar(invoiceYear, "invoiceyear"); err != nil {
		os.Remove(path)
		response.Error(c, appErrors.NewBadRequest("invoice_year must be a four digit year"))
		return
	}

	job, err := h.jobs.Submit(requestContext(c), services.SubmitJobInput{
		CreatedBy:     currentUserID(c),
		TemplateID:    templateID,
		InputFileName: originalName,
		InputFilePath: path,
		InvoiceYear:   invoiceYear,
	})
	if err != nil {
		os.Remove(path)
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, job)
}

// JobStatus handles GET /api/invoices/jobs/:jobId.
func (h *InvoiceHandler) JobStatus(c *gin.Context) {
	view, err := h.jobs.Status(requestContext(c), c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ListJobs handles GET /api/invoices/jobs.
func (h *InvoiceHandler) ListJobs(c *gin.Context) {
	opts := services.ListJobsOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 20),
		Status:   c.Query("status"),
	}

	views, total, err := h.jobs.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, views, paginationMeta(opts.Page, opts.PageSize, total))
}

// CancelJob handles POST /api/invoices/jobs/:jobId/cancel.
func (h *InvoiceHandler) CancelJob(c *gin.Context) {
	job, err := h.jobs.Cancel(requestContext(c), c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, job)
}

// PauseJob handles POST /api/invoices/jobs/:jobId/pause.
func (h *InvoiceHandler) PauseJob(c *gin.Context) {
	job, err := h.jobs.Pause(requestContext(c), c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, job)
}

// ResumeJob handles POST /api/invoices/jobs/:jobId/resume.
func (h *InvoiceHandler) ResumeJob(c *gin.Context) {
	job, err := h.jobs.Resume(requestContext(c), c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, job)
}

// SweepStuckJobs handles POST /api/invoices/sweep (admin only). The
// same sweep runs on a schedule; this endpoint exists for manual triggering.
func (h *InvoiceHandler) SweepStuckJobs(c *gin.Context) {
	swept, err := h.jobs.SweepStuck(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"swept": swept})
}

// DownloadJob handles GET /api/invoices/jobs/:jobId/download and streams a
// zip of the generated artifacts.
func (h *InvoiceHandler) DownloadJob(c *gin.Context) {
	jobID := c.Param("jobId")

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="invoices-%s.zip"`, jobID))

	if err := h.jobs.ZipTo(requestContext(c), jobID, c.Writer); err != nil {
		response.Error(c, err)
		return
	}
}

func (h *InvoiceHandler) saveUpload(c *gin.Context) (string, string, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return "", "", appErrors.NewBadRequest("spreadsheet file is required")
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload directory: %w", err)
	}

	name := filepath.Base(file.Filename)
	path := filepath.Join(h.uploadDir, uuid.NewString()+"_"+name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		return "", "", fmt.Errorf("save uploaded file: %w", err)
	}

	return path, name, nil
}
