package api

import (
	"github.com/gin-gonic/gin"

	"github.com/v2fin/backoffice/internal/handlers"
	"github.com/v2fin/backoffice/internal/middleware"
)

func registerWorkflowRoutes(api *gin.RouterGroup, handler *handlers.WorkflowHandler) {
	api.GET("/workflows", handler.List)
	api.POST("/workflows/fix-invoice-route", middleware.RequireAdmin(), handler.FixInvoiceRoute)
}
