package router

import (
	"github.com/labstack/echo/v4"

	"pasarbekas/internal/adapter/api/middleware"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, environment string) {
	SetupChatRouter(e, authMiddleware)
	SetupWebSocketRouter(e, authMiddleware)
	SetupDevRouter(e, environment)
	SetupHealthRouter(e)
}
