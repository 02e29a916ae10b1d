package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasarbekas/internal/domain/entity"
	"pasarbekas/pkg/errors"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type sessionFixture struct {
	roomRepo    *memRoomRepo
	messageRepo *memMessageRepo
	listingRepo *memListingRepo
	feed        *fakeFeed
	session     *ChatSession
}

func newSessionFixture(t *testing.T, userID string) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		roomRepo:    newMemRoomRepo(),
		messageRepo: newMemMessageRepo(),
		listingRepo: newMemListingRepo(),
		feed:        newFakeFeed(),
	}
	chat := NewChatUseCase(f.roomRepo, f.messageRepo, f.listingRepo)
	f.session = NewChatSession(userID, chat, f.feed)
	return f
}

func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Start(context.Background()))
	t.Cleanup(f.session.Close)
}

func (f *sessionFixture) waitSnapshot(t *testing.T, cond func(SessionSnapshot) bool) SessionSnapshot {
	t.Helper()
	var snap SessionSnapshot
	require.Eventually(t, func() bool {
		s, err := f.session.Snapshot()
		if err != nil {
			return false
		}
		snap = s
		return cond(s)
	}, waitFor, tick)
	return snap
}

func (f *sessionFixture) waitRoomsReady(t *testing.T) SessionSnapshot {
	t.Helper()
	return f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return s.Phase == RoomsReady && s.RoomsError == ""
	})
}

func (f *sessionFixture) openAndWait(t *testing.T, roomID string) SessionSnapshot {
	t.Helper()
	require.NoError(t, f.session.OpenRoom(roomID))
	return f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return s.OpenRoomID == roomID && s.OpenPhase == MessagesReady
	})
}

func seedConversation(f *sessionFixture) (*entity.Room, *entity.Listing) {
	listing := f.listingRepo.seed(&entity.Listing{ID: "lst-1", SellerID: "seller", Title: "Road bike", Price: 250})
	room := f.roomRepo.seed(&entity.Room{ID: "room-a", ListingID: listing.ID, BuyerID: "buyer", SellerID: "seller"})
	return room, listing
}

func TestSessionStartLoadsRooms(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	room, _ := seedConversation(f)
	last := f.messageRepo.seed(&entity.Message{RoomID: room.ID, SenderID: "seller", Content: "Still available"})

	f.start(t)

	snap := f.waitRoomsReady(t)
	require.Len(t, snap.Rooms, 1)
	assert.Equal(t, room.ID, snap.Rooms[0].Room.ID)
	assert.Equal(t, "Road bike", snap.Rooms[0].Listing.Title)
	require.NotNil(t, snap.Rooms[0].LastMessage)
	assert.Equal(t, last.ID, snap.Rooms[0].LastMessage.ID)
	assert.Equal(t, NoRoomOpen, snap.OpenPhase)
}

func TestSessionRoomsLoadFailureDegradesAndRetries(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	seedConversation(f)
	f.roomRepo.listErr = errors.Transient("store down", nil)

	f.start(t)

	snap := f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return s.Phase == RoomsReady && s.RoomsError != ""
	})
	assert.Empty(t, snap.Rooms)

	f.roomRepo.mu.Lock()
	f.roomRepo.listErr = nil
	f.roomRepo.mu.Unlock()

	require.NoError(t, f.session.RetryRooms())
	snap = f.waitRoomsReady(t)
	assert.Len(t, snap.Rooms, 1)
}

func TestOpenRoomLoadsHistoryAndMarksRead(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	room, _ := seedConversation(f)
	m1 := f.messageRepo.seed(&entity.Message{RoomID: room.ID, SenderID: "seller", Content: "Hello"})
	m2 := f.messageRepo.seed(&entity.Message{RoomID: room.ID, SenderID: "buyer", Content: "Hi", Read: true})
	m3 := f.messageRepo.seed(&entity.Message{RoomID: room.ID, SenderID: "seller", Content: "Interested?"})

	f.start(t)
	f.waitRoomsReady(t)

	snap := f.openAndWait(t, room.ID)
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{snap.Messages[0].ID, snap.Messages[1].ID, snap.Messages[2].ID})

	// Counterpart messages flip to read locally right away.
	assert.True(t, snap.Messages[0].Read)
	assert.True(t, snap.Messages[2].Read)
	assert.Zero(t, snap.UnreadTotal)

	// And the store writes land eventually, skipping the buyer's own message.
	require.Eventually(t, func() bool {
		return len(f.messageRepo.markedIDs()) == 2
	}, waitFor, tick)
	assert.NotContains(t, f.messageRepo.markedIDs(), m2.ID)
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	room, _ := seedConversation(f)
	f.messageRepo.createGate = make(chan struct{})

	f.start(t)
	f.waitRoomsReady(t)
	f.openAndWait(t, room.ID)

	resultCh := make(chan SendResult, 1)
	go func() { resultCh <- f.session.Send("Is it still for sale?") }()

	// The pending entry shows up before the store confirms.
	snap := f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Messages) == 1
	})
	assert.True(t, snap.Messages[0].Pending)
	assert.Equal(t, "Is it still for sale?", snap.Messages[0].Content)

	close(f.messageRepo.createGate)
	result := <-resultCh
	require.NoError(t, result.Err)
	require.NotNil(t, result.Message)

	snap = f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Messages) == 1 && !s.Messages[0].Pending
	})
	assert.Equal(t, result.Message.ID, snap.Messages[0].ID)
}

func TestSendWhitespaceRejectedWithoutStateChange(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	room, _ := seedConversation(f)

	f.start(t)
	f.waitRoomsReady(t)
	f.openAndWait(t, room.ID)

	result := f.session.Send("   \n\t ")
	require.Error(t, result.Err)
	assert.True(t, errors.Is(result.Err, "VALIDATION_ERROR"))

	snap, err := f.session.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
	assert.Zero(t, f.messageRepo.count())
}

func TestSendFailureRollsBackAndRestoresInput(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	room, _ := seedConversation(f)
	f.messageRepo.createErr = errors.Transient("store down", nil)

	f.start(t)
	f.waitRoomsReady(t)
	f.openAndWait(t, room.ID)

	result := f.session.Send("Can you ship it?")
	require.Error(t, result.Err)
	assert.Equal(t, "Can you ship it?", result.RestoredInput)

	snap, err := f.session.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Messages, "pending entry must be rolled back")
}

func TestFeedEchoBeforeAckDoesNotDuplicate(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	room, _ := seedConversation(f)
	f.messageRepo.createGate = make(chan struct{})

	f.start(t)
	f.waitRoomsReady(t)
	f.openAndWait(t, room.ID)

	resultCh := make(chan SendResult, 1)
	go func() { resultCh <- f.session.Send("Deal") }()

	f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Pending
	})

	// The feed echo of the committed write arrives while the ack is still
	// in flight. It carries the identifier the store will assign.
	f.feed.emitMessageInserted(&entity.Message{
		ID:        "m001",
		RoomID:    room.ID,
		SenderID:  "buyer",
		Content:   "Deal",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC),
	})

	f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Messages) == 1 && !s.Messages[0].Pending
	})

	close(f.messageRepo.createGate)
	result := <-resultCh
	require.NoError(t, result.Err)

	snap, err := f.session.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1, "echo and ack must collapse into one message")
	assert.Equal(t, "m001", snap.Messages[0].ID)
}

func TestPendingSurvivesRoomSwitch(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	roomA, _ := seedConversation(f)
	roomB := f.roomRepo.seed(&entity.Room{ID: "room-b", ListingID: "lst-2", BuyerID: "buyer", SellerID: "other"})
	f.messageRepo.createGate = make(chan struct{})

	f.start(t)
	f.waitRoomsReady(t)
	f.openAndWait(t, roomA.ID)

	resultCh := make(chan SendResult, 1)
	go func() { resultCh <- f.session.Send("Hold it for me") }()

	f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Pending
	})

	// Switch away and back; the unconfirmed send must still render.
	f.openAndWait(t, roomB.ID)
	snap := f.openAndWait(t, roomA.ID)
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.Messages[0].Pending)
	assert.Equal(t, "Hold it for me", snap.Messages[0].Content)

	close(f.messageRepo.createGate)
	result := <-resultCh
	require.NoError(t, result.Err)
}

func TestFeedMessageInsertUpdatesRoomList(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	roomA, _ := seedConversation(f)
	roomB := f.roomRepo.seed(&entity.Room{ID: "room-b", ListingID: "lst-2", BuyerID: "buyer", SellerID: "other"})

	f.start(t)
	snap := f.waitRoomsReady(t)
	require.Len(t, snap.Rooms, 2)
	// Newest room first after the initial load.
	assert.Equal(t, roomB.ID, snap.Rooms[0].Room.ID)

	incoming := &entity.Message{
		ID:        "m900",
		RoomID:    roomA.ID,
		SenderID:  "seller",
		Content:   "Price drop",
		CreatedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
	}
	f.feed.emitMessageInserted(incoming)

	snap = f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Rooms) == 2 && s.Rooms[0].Room.ID == roomA.ID && s.Rooms[0].LastMessage != nil
	})
	assert.Equal(t, "m900", snap.Rooms[0].LastMessage.ID)
	assert.Equal(t, 1, snap.UnreadTotal)
}

func TestFeedMessageForUnknownRoomResolvesIt(t *testing.T) {
	f := newSessionFixture(t, "seller")

	f.start(t)
	f.waitRoomsReady(t)

	// Room created after the initial load; only its first message arrives.
	room := f.roomRepo.seed(&entity.Room{ID: "room-new", ListingID: "lst-9", BuyerID: "buyer", SellerID: "seller"})
	f.feed.emitMessageInserted(&entity.Message{
		ID:        "m500",
		RoomID:    room.ID,
		SenderID:  "buyer",
		Content:   "First contact",
		CreatedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
	})

	snap := f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Rooms) == 1
	})
	assert.Equal(t, room.ID, snap.Rooms[0].Room.ID)
}

func TestFeedRoomInsertedIsDeduplicated(t *testing.T) {
	f := newSessionFixture(t, "seller")

	f.start(t)
	f.waitRoomsReady(t)

	room := &entity.Room{ID: "room-x", ListingID: "lst-1", BuyerID: "buyer", SellerID: "seller", Participants: []string{"buyer", "seller"}}
	f.feed.emitRoomInserted(room)
	f.feed.emitRoomInserted(room)

	// A room the principal is not part of never shows up.
	f.feed.emitRoomInserted(&entity.Room{ID: "room-y", BuyerID: "a", SellerID: "b", Participants: []string{"a", "b"}})

	snap := f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Rooms) == 1
	})
	assert.Equal(t, "room-x", snap.Rooms[0].Room.ID)

	// Give the duplicate a chance to land, then confirm it was absorbed.
	time.Sleep(50 * time.Millisecond)
	snap, err := f.session.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Rooms, 1)
}

func TestFeedMessageUpdatedEchoesReadReceipt(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	room, _ := seedConversation(f)
	sent := f.messageRepo.seed(&entity.Message{RoomID: room.ID, SenderID: "buyer", Content: "Ping"})

	f.start(t)
	f.waitRoomsReady(t)
	snap := f.openAndWait(t, room.ID)
	require.Len(t, snap.Messages, 1)
	assert.False(t, snap.Messages[0].Read)

	// The counterpart read it; the update flows back through the feed.
	updated := *sent
	updated.Read = true
	f.feed.emitMessageUpdated(&updated)

	snap = f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Read
	})
	require.NotNil(t, snap.Rooms[0].LastMessage)
	assert.True(t, snap.Rooms[0].LastMessage.Read)
}

func TestStaleHistoryFetchIsDiscarded(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	roomA, _ := seedConversation(f)
	roomB := f.roomRepo.seed(&entity.Room{ID: "room-b", ListingID: "lst-2", BuyerID: "buyer", SellerID: "other"})
	f.messageRepo.seed(&entity.Message{RoomID: roomA.ID, SenderID: "seller", Content: "From A"})
	f.messageRepo.seed(&entity.Message{RoomID: roomB.ID, SenderID: "other", Content: "From B"})
	f.messageRepo.listGate = make(chan struct{})

	f.start(t)
	f.waitRoomsReady(t)

	require.NoError(t, f.session.OpenRoom(roomA.ID))
	require.NoError(t, f.session.OpenRoom(roomB.ID))

	// Release both in-flight fetches in whatever order they race.
	f.messageRepo.listGate <- struct{}{}
	f.messageRepo.listGate <- struct{}{}

	snap := f.waitSnapshot(t, func(s SessionSnapshot) bool {
		return s.OpenRoomID == roomB.ID && s.OpenPhase == MessagesReady && len(s.Messages) > 0
	})
	for _, msg := range snap.Messages {
		assert.Equal(t, roomB.ID, msg.RoomID, "stale fetch for the previous room must never render")
	}
}

func TestSessionStartChatIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	f.listingRepo.seed(&entity.Listing{ID: "lst-1", SellerID: "seller", Title: "Camera", Price: 80})

	f.start(t)
	f.waitRoomsReady(t)

	first, err := f.session.StartChat("lst-1")
	require.NoError(t, err)
	second, err := f.session.StartChat("lst-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	snap, err := f.session.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Rooms, 1)
}

func TestSessionStartChatOwnListingFails(t *testing.T) {
	f := newSessionFixture(t, "seller")
	f.listingRepo.seed(&entity.Listing{ID: "lst-1", SellerID: "seller", Title: "Camera", Price: 80})

	f.start(t)
	f.waitRoomsReady(t)

	_, err := f.session.StartChat("lst-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
}

func TestSessionCloseReleasesFeed(t *testing.T) {
	f := newSessionFixture(t, "buyer")
	f.start(t)
	f.waitRoomsReady(t)

	f.session.Close()
	select {
	case <-f.session.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not shut down")
	}

	f.feed.mu.Lock()
	defer f.feed.mu.Unlock()
	assert.True(t, f.feed.subscribed)
	assert.True(t, f.feed.unsubscribed)
}

func TestUnreadTotal(t *testing.T) {
	msg := func(sender string, read bool) *entity.Message {
		return &entity.Message{SenderID: sender, Read: read}
	}
	rooms := []*RoomResponse{
		{Room: &entity.Room{ID: "a"}, LastMessage: msg("other", false)},
		{Room: &entity.Room{ID: "b"}, LastMessage: msg("other", true)},
		{Room: &entity.Room{ID: "c"}, LastMessage: msg("me", false)},
		{Room: &entity.Room{ID: "d"}},
	}

	assert.Equal(t, 1, UnreadTotal("me", rooms))
	assert.Equal(t, 0, UnreadTotal("me", nil))
}
