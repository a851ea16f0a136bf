package api

import (
	"github.com/gin-gonic/gin"

	"github.com/v2fin/backoffice/internal/handlers"
	"github.com/v2fin/backoffice/internal/middleware"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler) {
	users := api.Group("/users")
	users.Use(middleware.RequireAdmin())
	{
		users.GET("", handler.List)
		users.POST("", handler.Create)
		users.GET("/:id", handler.Get)
		users.PATCH("/:id", handler.Update)
		users.DELETE("/:id", handler.Delete)
	}
}
