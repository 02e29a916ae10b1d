package router

import (
	"github.com/labstack/echo/v4"

	"pasarbekas/internal/adapter/api/handler"
	"pasarbekas/internal/adapter/api/middleware"
)

func SetupDevRouter(e *echo.Echo, environment string) {
	if environment == "production" {
		return
	}
	devTokenHandler := handler.GetDevTokenHandler()

	devGroup := e.Group("/_dev")
	devGroup.Use(middleware.DevTokenRateLimit())
	devGroup.POST("/token", devTokenHandler.GenerateToken)
	devGroup.POST("/firebase-token", devTokenHandler.GenerateFirebaseToken)
}
