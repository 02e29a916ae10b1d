package repository

import (
	"context"

	"pasarbekas/internal/domain/entity"
)

type MessageRepository interface {
	// Create appends a message to its room. The store assigns the identifier
	// and creation timestamp; callers never supply them.
	Create(ctx context.Context, message *entity.Message) error
	// ListByRoom returns messages in ascending creation order. limit <= 0
	// means no limit.
	ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]*entity.Message, int64, error)
	LastByRoom(ctx context.Context, roomID string) (*entity.Message, error)
	// MarkRead flips the read flag false -> true. It is a no-op, not an
	// error, when the message is already read or the reader is the sender.
	MarkRead(ctx context.Context, messageID, readerID string) error
}
