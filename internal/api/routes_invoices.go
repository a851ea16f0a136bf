package api

import (
	"github.com/gin-gonic/gin"

	"github.com/v2fin/backoffice/internal/handlers"
	"github.com/v2fin/backoffice/internal/middleware"
)

func registerInvoiceRoutes(api *gin.RouterGroup, handler *handlers.InvoiceHandler) {
	invoices := api.Group("/invoices")
	invoices.Use(middleware.RequireAdmin())
	{
		invoices.GET("/templates", handler.ListTemplates)
		invoices.POST("/templates", handler.UploadTemplate)
		invoices.DELETE("/templates/:id", handler.DeleteTemplate)

		invoices.POST("/validate", handler.ValidateSpreadsheet)
		invoices.POST("/generate", handler.Generate)

		invoices.GET("/jobs", handler.ListJobs)
		invoices.GET("/jobs/:jobId", handler.JobStatus)
		invoices.POST("/jobs/:jobId/cancel", handler.CancelJob)
		invoices.POST("/jobs/:jobId/pause", handler.PauseJob)
		invoices.POST("/jobs/:jobId/resume", handler.ResumeJob)
		invoices.GET("/jobs/:jobId/download", handler.DownloadJob)
		invoices.POST("/sweep", handler.SweepStuckJobs)
	}
}
