package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	ws "pasarbekas/internal/infrastructure/websocket"
	"pasarbekas/internal/usecase"
	"pasarbekas/pkg/errors"
)

// SessionFactory builds a chat session bound to one user's change feed.
type SessionFactory func(userID string) *usecase.ChatSession

type WebSocketHandler struct {
	wsManager  *ws.Manager
	newSession SessionFactory
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // You should restrict this in production
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, newSession SessionFactory) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:  wsManager,
		newSession: newSession,
	}
}

// Inbound command frame. Type selects the session command; the other fields
// are read per type.
type wsCommand struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id,omitempty"`
	Content   string `json:"content,omitempty"`
	ListingID string `json:"listing_id,omitempty"`
}

type wsStateFrame struct {
	Type  string                  `json:"type"`
	State usecase.SessionSnapshot `json:"state"`
}

type wsResultFrame struct {
	Type          string      `json:"type"`
	Error         string      `json:"error,omitempty"`
	RestoredInput string      `json:"restored_input,omitempty"`
	RoomID        string      `json:"room_id,omitempty"`
	Message       interface{} `json:"message,omitempty"`
}

// HandleWebSocket upgrades the connection and runs one chat session for its
// lifetime. Every state change streams out as a full snapshot frame.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID, ok := c.Get("uid").(string)
	if !ok || userID == "" {
		return errors.Unauthorized("Authentication required", nil)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	session := h.newSession(userID)
	// The request context is canceled as soon as this handler returns, which
	// is immediately on an upgraded connection. The session lives for the
	// connection's lifetime instead; OnClose shuts it down.
	if err := session.Start(context.Background()); err != nil {
		log.Printf("WebSocket: session start for user %s: %v", userID, err)
		conn.Close()
		return err
	}

	client := &ws.Client{
		ConnID: uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	client.OnMessage = func(raw []byte) {
		h.dispatch(session, client, raw)
	}
	client.OnClose = func() {
		session.Close()
	}

	h.wsManager.Register <- client

	go h.pushStates(session, client)
	go client.ReadPump(h.wsManager)
	go client.WritePump()

	return nil
}

// pushStates forwards every session update as a snapshot frame until the
// session ends.
func (h *WebSocketHandler) pushStates(session *usecase.ChatSession, client *ws.Client) {
	send := func() {
		snap, err := session.Snapshot()
		if err != nil {
			return
		}
		frame, err := json.Marshal(wsStateFrame{Type: "state", State: snap})
		if err != nil {
			log.Printf("WebSocket: marshal state: %v", err)
			return
		}
		select {
		case client.Send <- frame:
		default:
			log.Printf("WebSocket: dropping state frame for %s", client.ConnID)
		}
	}

	send()
	for {
		select {
		case <-session.Done():
			return
		case <-session.Updates():
			send()
		}
	}
}

func (h *WebSocketHandler) dispatch(session *usecase.ChatSession, client *ws.Client, raw []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.reply(client, wsResultFrame{Type: "error", Error: "Malformed command"})
		return
	}

	switch cmd.Type {
	case "open_room":
		if err := session.OpenRoom(cmd.RoomID); err != nil {
			h.reply(client, wsResultFrame{Type: "error", Error: err.Error()})
		}

	case "close_room":
		if err := session.CloseRoom(); err != nil {
			h.reply(client, wsResultFrame{Type: "error", Error: err.Error()})
		}

	case "retry_rooms":
		if err := session.RetryRooms(); err != nil {
			h.reply(client, wsResultFrame{Type: "error", Error: err.Error()})
		}

	case "send":
		// Send blocks on store confirmation; run it off the read loop.
		go func() {
			result := session.Send(cmd.Content)
			frame := wsResultFrame{Type: "send_result"}
			if result.Err != nil {
				frame.Error = result.Err.Error()
				frame.RestoredInput = result.RestoredInput
			} else {
				frame.Message = result.Message
			}
			h.reply(client, frame)
		}()

	case "start_chat":
		go func() {
			roomID, err := session.StartChat(cmd.ListingID)
			frame := wsResultFrame{Type: "start_chat_result", RoomID: roomID}
			if err != nil {
				frame.Error = err.Error()
			}
			h.reply(client, frame)
		}()

	default:
		h.reply(client, wsResultFrame{Type: "error", Error: "Unknown command type"})
	}
}

func (h *WebSocketHandler) reply(client *ws.Client, frame wsResultFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("WebSocket: marshal reply: %v", err)
		return
	}
	select {
	case client.Send <- payload:
	default:
		log.Printf("WebSocket: dropping reply frame for %s", client.ConnID)
	}
}
