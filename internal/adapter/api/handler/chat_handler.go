package handler

import (
	"github.com/labstack/echo/v4"

	"pasarbekas/internal/usecase"
	"pasarbekas/pkg/response"
	"pasarbekas/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type startChatRequest struct {
	ListingID string `json:"listing_id" validate:"required"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// StartChat resolves or creates the buyer's room for a listing. Repeated
// calls for the same listing return the same room.
func (h *ChatHandler) StartChat(c echo.Context) error {
	var req startChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	room, err := h.chatUseCase.StartChat(c.Request().Context(), userID, req.ListingID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, room)
}

// ListRooms returns the caller's rooms, most recently created first, each
// with its listing and last message attached.
func (h *ChatHandler) ListRooms(c echo.Context) error {
	userID := c.Get("uid").(string)

	rooms, err := h.chatUseCase.ListRooms(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, rooms)
}

func (h *ChatHandler) GetRoom(c echo.Context) error {
	userID := c.Get("uid").(string)
	roomID := c.Param("id")

	room, err := h.chatUseCase.GetRoom(c.Request().Context(), userID, roomID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, room)
}

// ListMessages returns a room's history in ascending creation order.
func (h *ChatHandler) ListMessages(c echo.Context) error {
	userID := c.Get("uid").(string)
	roomID := c.Param("id")
	pagination := utils.GetPaginationParams(c)

	messages, total, err := h.chatUseCase.ListMessages(c.Request().Context(), userID, roomID, pagination.Limit, pagination.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Paginated(c, messages, total, pagination.Limit, pagination.Offset)
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	roomID := c.Param("id")

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, roomID, req.Content)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// MarkRoomRead flips every counterpart message in the room to read.
func (h *ChatHandler) MarkRoomRead(c echo.Context) error {
	userID := c.Get("uid").(string)
	roomID := c.Param("id")

	if err := h.chatUseCase.MarkRoomRead(c.Request().Context(), userID, roomID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"status": "ok"})
}
