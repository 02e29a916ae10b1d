package handler

import (
	"pasarbekas/internal/infrastructure/firebase"
	ws "pasarbekas/internal/infrastructure/websocket"
	"pasarbekas/internal/usecase"
	"pasarbekas/pkg/config"
)

var (
	chatHandler      *ChatHandler
	webSocketHandler *WebSocketHandler
	devTokenHandler  *DevTokenHandler
	healthHandler    *HealthHandler
)

func Setup(
	chatUseCase *usecase.ChatUseCase,
	wsManager *ws.Manager,
	newSession SessionFactory,
	firebaseAuth *firebase.FirebaseAuthClient,
	cfg *config.Config,
) {
	chatHandler = NewChatHandler(chatUseCase)
	webSocketHandler = NewWebSocketHandler(wsManager, newSession)
	devTokenHandler = NewDevTokenHandler(firebaseAuth, cfg)
	healthHandler = NewHealthHandler(wsManager)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
