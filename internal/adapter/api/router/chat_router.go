package router

import (
	"github.com/labstack/echo/v4"

	"pasarbekas/internal/adapter/api/handler"
	"pasarbekas/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all chat-related routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	chatHandler := handler.GetChatHandler()

	roomGroup := e.Group("/v1/rooms")
	roomGroup.Use(middleware.GeneralRateLimit())
	roomGroup.Use(authMiddleware.Authenticate)

	// Room management
	roomGroup.POST("", chatHandler.StartChat)          // POST /v1/rooms - Resolve or create room for a listing
	roomGroup.GET("", chatHandler.ListRooms)           // GET /v1/rooms - List caller's rooms
	roomGroup.GET("/:id", chatHandler.GetRoom)         // GET /v1/rooms/:id - Get specific room
	roomGroup.PUT("/:id/read", chatHandler.MarkRoomRead) // PUT /v1/rooms/:id/read - Mark room as read

	// Message management
	roomGroup.GET("/:id/messages", chatHandler.ListMessages) // GET /v1/rooms/:id/messages - List room messages
	roomGroup.POST("/:id/messages", chatHandler.SendMessage) // POST /v1/rooms/:id/messages - Send message
}
