package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pasarbekas/internal/domain/entity"
	"pasarbekas/internal/infrastructure/realtime"
	"pasarbekas/pkg/errors"
)

// memRoomRepo is an in-memory RoomRepository with the same error taxonomy as
// the Firestore adapter.
type memRoomRepo struct {
	mu      sync.Mutex
	rooms   map[string]*entity.Room
	seq     int
	listErr error
	// forceConflict makes Create lose the race: the winner room is inserted
	// and CONFLICT is returned, as if a concurrent caller got there first.
	forceConflict bool
}

func newMemRoomRepo() *memRoomRepo {
	return &memRoomRepo{rooms: make(map[string]*entity.Room)}
}

func (r *memRoomRepo) Create(ctx context.Context, room *entity.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room.BuyerID == room.SellerID {
		return errors.Forbidden("You cannot open a chat on your own listing", nil)
	}
	for _, existing := range r.rooms {
		if existing.ListingID == room.ListingID && existing.BuyerID == room.BuyerID {
			return errors.Conflict("Room already exists for this listing and buyer")
		}
	}

	r.seq++
	if room.ID == "" {
		room.ID = fmt.Sprintf("room-%d", r.seq)
	}
	room.Participants = []string{room.BuyerID, room.SellerID}
	room.CreatedAt = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(r.seq) * time.Minute)

	stored := *room
	r.rooms[room.ID] = &stored

	if r.forceConflict {
		r.forceConflict = false
		return errors.Conflict("Room already exists for this listing and buyer")
	}
	return nil
}

func (r *memRoomRepo) GetByID(ctx context.Context, id string) (*entity.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, errors.NotFound("Room", nil)
	}
	c := *room
	return &c, nil
}

func (r *memRoomRepo) FindByListingAndBuyer(ctx context.Context, listingID, buyerID string) (*entity.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		if room.ListingID == listingID && room.BuyerID == buyerID {
			c := *room
			return &c, nil
		}
	}
	return nil, errors.NotFound("Room", nil)
}

func (r *memRoomRepo) ListByParticipant(ctx context.Context, userID string) ([]*entity.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listErr != nil {
		return nil, r.listErr
	}

	var result []*entity.Room
	for _, room := range r.rooms {
		if room.HasParticipant(userID) {
			c := *room
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *memRoomRepo) seed(room *entity.Room) *entity.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if room.ID == "" {
		room.ID = fmt.Sprintf("room-%d", r.seq)
	}
	if len(room.Participants) == 0 {
		room.Participants = []string{room.BuyerID, room.SellerID}
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(r.seq) * time.Minute)
	}
	stored := *room
	r.rooms[room.ID] = &stored
	return room
}

// memMessageRepo is an in-memory MessageRepository. Channel gates let tests
// hold a store call open to control the ordering of completions.
type memMessageRepo struct {
	mu       sync.Mutex
	messages []*entity.Message
	seq      int

	createErr  error
	createGate chan struct{}
	listGate   chan struct{}
	markCalls  []string
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{}
}

func (r *memMessageRepo) Create(ctx context.Context, message *entity.Message) error {
	if r.createGate != nil {
		<-r.createGate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}

	r.seq++
	message.ID = fmt.Sprintf("m%03d", r.seq)
	message.CreatedAt = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(r.seq) * time.Second)
	message.Read = false

	stored := *message
	r.messages = append(r.messages, &stored)
	return nil
}

func (r *memMessageRepo) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]*entity.Message, int64, error) {
	if r.listGate != nil {
		<-r.listGate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*entity.Message
	for _, msg := range r.messages {
		if msg.RoomID == roomID {
			c := *msg
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })

	total := int64(len(all))
	if offset > 0 {
		if offset >= len(all) {
			return nil, total, nil
		}
		all = all[offset:]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *memMessageRepo) LastByRoom(ctx context.Context, roomID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var last *entity.Message
	for _, msg := range r.messages {
		if msg.RoomID != roomID {
			continue
		}
		if last == nil || last.Before(msg) {
			last = msg
		}
	}
	if last == nil {
		return nil, errors.NotFound("Message", nil)
	}
	c := *last
	return &c, nil
}

func (r *memMessageRepo) MarkRead(ctx context.Context, messageID, readerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.markCalls = append(r.markCalls, messageID)
	for _, msg := range r.messages {
		if msg.ID == messageID {
			if msg.Read || msg.SenderID == readerID {
				return nil
			}
			msg.Read = true
			return nil
		}
	}
	return nil
}

func (r *memMessageRepo) seed(message *entity.Message) *entity.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if message.ID == "" {
		message.ID = fmt.Sprintf("m%03d", r.seq)
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(r.seq) * time.Second)
	}
	stored := *message
	r.messages = append(r.messages, &stored)
	return message
}

func (r *memMessageRepo) markedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.markCalls...)
}

func (r *memMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type memListingRepo struct {
	mu       sync.Mutex
	listings map[string]*entity.Listing
}

func newMemListingRepo() *memListingRepo {
	return &memListingRepo{listings: make(map[string]*entity.Listing)}
}

func (r *memListingRepo) GetByID(ctx context.Context, id string) (*entity.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	listing, ok := r.listings[id]
	if !ok {
		return nil, errors.NotFound("Listing", nil)
	}
	c := *listing
	return &c, nil
}

func (r *memListingRepo) seed(listing *entity.Listing) *entity.Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *listing
	r.listings[listing.ID] = &stored
	return listing
}

// fakeFeed is a channel-backed FeedBridge tests push events through.
type fakeFeed struct {
	mu           sync.Mutex
	events       chan realtime.Event
	subscribed   bool
	unsubscribed bool
	subErr       error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan realtime.Event, 16)}
}

func (f *fakeFeed) Subscribe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = true
	return nil
}

func (f *fakeFeed) Events() <-chan realtime.Event {
	return f.events
}

func (f *fakeFeed) Unsubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
}

func (f *fakeFeed) emitMessageInserted(msg *entity.Message) {
	c := *msg
	f.events <- realtime.Event{Kind: realtime.MessageInserted, Message: &c}
}

func (f *fakeFeed) emitMessageUpdated(msg *entity.Message) {
	c := *msg
	f.events <- realtime.Event{Kind: realtime.MessageUpdated, Message: &c}
}

func (f *fakeFeed) emitRoomInserted(room *entity.Room) {
	c := *room
	f.events <- realtime.Event{Kind: realtime.RoomInserted, Room: &c}
}
