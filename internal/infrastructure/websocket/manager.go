package websocket

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents one WebSocket connection. A user may hold several
// connections (several tabs), each with its own session state, so clients
// are keyed by connection ID rather than user ID.
type Client struct {
	ConnID string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	// OnMessage receives every inbound frame; OnClose fires once when the
	// connection goes away. Both are set by the handler before the pumps run.
	OnMessage func([]byte)
	OnClose   func()

	closeOnce sync.Once
}

// Manager tracks all active WebSocket connections
type Manager struct {
	clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
}

// NewManager creates a new WebSocket connection manager
func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client.ConnID] = client
				m.mutex.Unlock()
				log.Printf("Client registered: %s (user %s)", client.ConnID, client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if _, ok := m.clients[client.ConnID]; ok {
					delete(m.clients, client.ConnID)
					close(client.Send)
				}
				m.mutex.Unlock()
				if client.OnClose != nil {
					client.OnClose()
				}
				log.Printf("Client unregistered: %s (user %s)", client.ConnID, client.UserID)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// SendToUser sends a frame to every connection the user holds.
func (m *Manager) SendToUser(userID string, message []byte) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, client := range m.clients {
		if client.UserID != userID {
			continue
		}
		select {
		case client.Send <- message:
		default:
			log.Printf("Dropping frame for slow client %s", client.ConnID)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (m *Manager) ConnectionCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

func (c *Client) unregister(m *Manager) {
	c.closeOnce.Do(func() {
		m.Unregister <- c
		c.Conn.Close()
	})
}

// ReadPump reads frames from the connection and hands them to OnMessage.
func (c *Client) ReadPump(m *Manager) {
	defer c.unregister(m)

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}

		if c.OnMessage != nil {
			c.OnMessage(message)
		}
	}
}

// WritePump drains the Send channel onto the connection.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		err := c.Conn.WriteMessage(websocket.TextMessage, message)
		if err != nil {
			log.Printf("error: %v", err)
			return
		}
	}
}
