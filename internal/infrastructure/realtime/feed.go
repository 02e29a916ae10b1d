package realtime

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/firestore"

	"pasarbekas/internal/domain/entity"
	"pasarbekas/pkg/logger"
)

type EventKind int

const (
	RoomInserted EventKind = iota
	MessageInserted
	MessageUpdated
)

// Event is one insert (or read-flag update) pushed by the persistence layer.
// Exactly one of Room/Message is set, depending on Kind.
type Event struct {
	Kind    EventKind
	Room    *entity.Room
	Message *entity.Message
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Feed bridges Firestore snapshot listeners into a single event channel for
// one principal. Delivery is at-least-once: after a listener drop the whole
// filtered result set is re-delivered as adds, so consumers must dedup by
// identifier. Ordering holds per kind, per room, never across kinds.
type Feed struct {
	client      *firestore.Client
	principalID string
	events      chan Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

func NewFeed(client *firestore.Client, principalID string) *Feed {
	return &Feed{
		client:      client,
		principalID: principalID,
		events:      make(chan Event, 64),
	}
}

func (f *Feed) Events() <-chan Event {
	return f.events
}

// Subscribe starts the listeners. Calling it again while running is a no-op,
// so handlers are never registered twice.
func (f *Feed) Subscribe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.running = true

	go f.watchRooms(runCtx)
	go f.watchMessages(runCtx)

	return nil
}

func (f *Feed) Unsubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.cancel()
	f.running = false
}

// watchRooms re-establishes the room listener after every drop. A drop is
// not surfaced anywhere; state is simply stale until resubscription succeeds.
func (f *Feed) watchRooms(ctx context.Context) {
	backoff := initialBackoff
	for {
		query := f.client.Collection("rooms").
			Where("participants", "array-contains", f.principalID)

		it := query.Snapshots(ctx)
		err := f.consumeRooms(ctx, it)
		it.Stop()

		if ctx.Err() != nil {
			return
		}

		logger.Warn("Room feed for %s dropped, resubscribing in %v: %v", f.principalID, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (f *Feed) consumeRooms(ctx context.Context, it *firestore.QuerySnapshotIterator) error {
	for {
		snap, err := it.Next()
		if err != nil {
			return err
		}

		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}

			var room entity.Room
			if err := change.Doc.DataTo(&room); err != nil {
				logger.Error("Room feed: failed to parse room %s: %v", change.Doc.Ref.ID, err)
				continue
			}

			if !f.emit(ctx, Event{Kind: RoomInserted, Room: &room}) {
				return ctx.Err()
			}
		}
	}
}

func (f *Feed) watchMessages(ctx context.Context) {
	backoff := initialBackoff
	for {
		query := f.client.Collection("messages").
			Where("participants", "array-contains", f.principalID)

		it := query.Snapshots(ctx)
		err := f.consumeMessages(ctx, it)
		it.Stop()

		if ctx.Err() != nil {
			return
		}

		logger.Warn("Message feed for %s dropped, resubscribing in %v: %v", f.principalID, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (f *Feed) consumeMessages(ctx context.Context, it *firestore.QuerySnapshotIterator) error {
	for {
		snap, err := it.Next()
		if err != nil {
			return err
		}

		for _, change := range snap.Changes {
			var kind EventKind
			switch change.Kind {
			case firestore.DocumentAdded:
				kind = MessageInserted
			case firestore.DocumentModified:
				// The only mutation messages ever see is the read flag.
				kind = MessageUpdated
			default:
				continue
			}

			var message entity.Message
			if err := change.Doc.DataTo(&message); err != nil {
				logger.Error("Message feed: failed to parse message %s: %v", change.Doc.Ref.ID, err)
				continue
			}

			if !f.emit(ctx, Event{Kind: kind, Message: &message}) {
				return ctx.Err()
			}
		}
	}
}

func (f *Feed) emit(ctx context.Context, ev Event) bool {
	select {
	case f.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
