package entity

import "time"

type Message struct {
	ID       string `json:"id" firestore:"id"`
	RoomID   string `json:"room_id" firestore:"roomId"`
	SenderID string `json:"sender_id" firestore:"senderId"`
	Content  string `json:"content" firestore:"content"`
	Read     bool   `json:"read" firestore:"read"`
	// Participants duplicates the room's participants so the realtime feed
	// can filter message inserts per principal without a join.
	Participants []string  `json:"-" firestore:"participants"`
	CreatedAt    time.Time `json:"created_at" firestore:"createdAt"`

	// Pending marks an optimistic local append that the store has not
	// confirmed yet. Never persisted.
	Pending bool `json:"pending,omitempty" firestore:"-"`
}

// Before reports whether m sorts ahead of other in a room's display order:
// store-assigned creation time, ties broken by identifier generation order.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
