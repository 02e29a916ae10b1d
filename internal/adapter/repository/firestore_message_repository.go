package repository

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pasarbekas/internal/domain/entity"
	"pasarbekas/internal/domain/repository"
	"pasarbekas/pkg/errors"
	"pasarbekas/pkg/logger"
)

type firestoreMessageRepository struct {
	client *firestore.Client

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client:  client,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// nextID assigns message identifiers as ULIDs: lexicographic order follows
// generation order, which is what breaks creation-timestamp ties.
func (r *firestoreMessageRepository) nextID(now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
}

func (r *firestoreMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	content := strings.TrimSpace(message.Content)
	if content == "" {
		return errors.Validation("Message content is required", nil)
	}

	now := time.Now()
	message.Content = content
	message.ID = r.nextID(now)
	message.CreatedAt = now
	message.Read = false
	message.Pending = false

	_, err := r.client.Collection("messages").Doc(message.ID).Create(ctx, message)
	if err != nil {
		return errors.Transient("Failed to append message", err)
	}

	return nil
}

func (r *firestoreMessageRepository) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := r.client.Collection("messages").
		Where("roomId", "==", roomID).
		OrderBy("createdAt", firestore.Asc)

	countDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, 0, errors.Transient("Failed to count messages", err)
	}
	total := int64(len(countDocs))

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	iter := query.Documents(ctx)
	var messages []*entity.Message

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, errors.Transient("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return nil, 0, errors.Internal("Failed to parse message data", err)
		}

		messages = append(messages, &message)
	}

	return messages, total, nil
}

func (r *firestoreMessageRepository) LastByRoom(ctx context.Context, roomID string) (*entity.Message, error) {
	query := r.client.Collection("messages").
		Where("roomId", "==", roomID).
		OrderBy("createdAt", firestore.Desc).
		Limit(1)

	doc, err := query.Documents(ctx).Next()
	if err != nil {
		if err == iterator.Done {
			return nil, errors.NotFound("Message", nil)
		}
		return nil, errors.Transient("Failed to query last message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}

	return &message, nil
}

func (r *firestoreMessageRepository) MarkRead(ctx context.Context, messageID, readerID string) error {
	docRef := r.client.Collection("messages").Doc(messageID)

	doc, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Old or already pruned message, nothing to flip.
			logger.Debug("MarkRead: message %s not found", messageID)
			return nil
		}
		return errors.Transient("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return errors.Internal("Failed to parse message data", err)
	}

	// read only ever transitions false -> true, and never for own messages.
	if message.Read || message.SenderID == readerID {
		return nil
	}

	_, err = docRef.Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
	})
	if err != nil {
		return errors.Transient("Failed to update read flag", err)
	}

	return nil
}
