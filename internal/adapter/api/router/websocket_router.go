package router

import (
	"github.com/labstack/echo/v4"

	"pasarbekas/internal/adapter/api/handler"
	"pasarbekas/internal/adapter/api/middleware"
)

func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	webSocketHandler := handler.GetWebSocketHandler()

	e.GET("/v1/ws", webSocketHandler.HandleWebSocket, authMiddleware.Authenticate)
}
