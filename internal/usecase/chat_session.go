package usecase

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"pasarbekas/internal/domain/entity"
	"pasarbekas/internal/infrastructure/realtime"
	"pasarbekas/pkg/errors"
)

// FeedBridge is what the session needs from the realtime change feed.
type FeedBridge interface {
	Subscribe(ctx context.Context) error
	Events() <-chan realtime.Event
	Unsubscribe()
}

type SessionPhase string

const (
	SessionIdle  SessionPhase = "idle"
	RoomsLoading SessionPhase = "rooms_loading"
	RoomsReady   SessionPhase = "rooms_ready"
)

type OpenPhase string

const (
	NoRoomOpen      OpenPhase = "no_room_open"
	MessagesLoading OpenPhase = "messages_loading"
	MessagesReady   OpenPhase = "messages_ready"
)

var ErrSessionClosed = errors.New("SESSION_CLOSED", "Chat session is closed", 410, nil)

// SessionSnapshot is the reactive state a presentation surface renders.
// Every field is a copy; surfaces never share memory with the session.
type SessionSnapshot struct {
	Phase       SessionPhase      `json:"phase"`
	RoomsError  string            `json:"rooms_error,omitempty"`
	Rooms       []*RoomResponse   `json:"rooms"`
	OpenRoomID  string            `json:"open_room_id,omitempty"`
	OpenPhase   OpenPhase         `json:"open_phase"`
	OpenError   string            `json:"open_error,omitempty"`
	Messages    []*entity.Message `json:"messages"`
	UnreadTotal int               `json:"unread_total"`
}

// SendResult reports the outcome of a send command. On failure the submitted
// content comes back in RestoredInput so the surface can refill its input box.
type SendResult struct {
	Err           error
	Message       *entity.Message
	RestoredInput string
}

type openRoom struct {
	roomID   string
	phase    OpenPhase
	err      error
	messages []*entity.Message
	// gen guards against stale fetch results after the open room changed.
	gen int
}

// ChatSession holds one client's authoritative chat state: the room list and
// the currently open room's messages. All state lives on a single goroutine;
// commands and feed events are serialized onto it, and store I/O runs in
// spawned goroutines that post their completions back as tasks.
type ChatSession struct {
	principalID string
	chat        *ChatUseCase
	feed        FeedBridge

	tasks  chan func()
	closed chan struct{}
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the run loop.
	phase      SessionPhase
	roomsErr   error
	rooms      []*RoomResponse
	open       openRoom
	pending    map[string][]*entity.Message
	pendingSeq int
	fetching   map[string]bool
}

func NewChatSession(principalID string, chat *ChatUseCase, feed FeedBridge) *ChatSession {
	return &ChatSession{
		principalID: principalID,
		chat:        chat,
		feed:        feed,
		tasks:       make(chan func(), 32),
		closed:      make(chan struct{}),
		notify:      make(chan struct{}, 1),
		phase:       SessionIdle,
		open:        openRoom{phase: NoRoomOpen},
		pending:     make(map[string][]*entity.Message),
		fetching:    make(map[string]bool),
	}
}

// Start subscribes the feed and begins loading the room list.
func (s *ChatSession) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.feed.Subscribe(s.ctx); err != nil {
		s.cancel()
		return errors.Transient("Failed to subscribe to change feed", err)
	}

	go s.run()
	s.do(func() { s.loadRooms() })
	return nil
}

// Close tears the session down and releases the feed subscription. The
// cached state needs no persistence.
func (s *ChatSession) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Updates signals after every state change; read the new state via Snapshot.
func (s *ChatSession) Updates() <-chan struct{} {
	return s.notify
}

func (s *ChatSession) Done() <-chan struct{} {
	return s.closed
}

func (s *ChatSession) run() {
	defer s.feed.Unsubscribe()
	defer close(s.closed)

	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			task()
		case ev, ok := <-s.feed.Events():
			if !ok {
				return
			}
			s.handleFeedEvent(ev)
		}
	}
}

// do posts a task onto the session timeline. False means the session closed.
func (s *ChatSession) do(task func()) bool {
	select {
	case s.tasks <- task:
		return true
	case <-s.closed:
		return false
	}
}

// call posts a task and waits for it to run.
func (s *ChatSession) call(task func()) error {
	done := make(chan struct{})
	if !s.do(func() {
		task()
		close(done)
	}) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

func (s *ChatSession) changed() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Snapshot returns a deep copy of the current state.
func (s *ChatSession) Snapshot() (SessionSnapshot, error) {
	var snap SessionSnapshot
	err := s.call(func() {
		snap = s.buildSnapshot()
	})
	return snap, err
}

func (s *ChatSession) buildSnapshot() SessionSnapshot {
	snap := SessionSnapshot{
		Phase:       s.phase,
		OpenRoomID:  s.open.roomID,
		OpenPhase:   s.open.phase,
		Rooms:       make([]*RoomResponse, 0, len(s.rooms)),
		Messages:    make([]*entity.Message, 0, len(s.open.messages)),
		UnreadTotal: UnreadTotal(s.principalID, s.rooms),
	}
	if s.roomsErr != nil {
		snap.RoomsError = s.roomsErr.Error()
	}
	if s.open.err != nil {
		snap.OpenError = s.open.err.Error()
	}
	for _, view := range s.rooms {
		snap.Rooms = append(snap.Rooms, copyRoomResponse(view))
	}
	for _, msg := range s.open.messages {
		c := *msg
		snap.Messages = append(snap.Messages, &c)
	}
	return snap
}

func copyRoomResponse(view *RoomResponse) *RoomResponse {
	c := &RoomResponse{}
	if view.Room != nil {
		room := *view.Room
		c.Room = &room
	}
	if view.Listing != nil {
		listing := *view.Listing
		c.Listing = &listing
	}
	if view.LastMessage != nil {
		last := *view.LastMessage
		c.LastMessage = &last
	}
	return c
}

// UnreadTotal is a pure function over the room list: one per room whose last
// message exists, was not sent by the principal, and is unread. Derived on
// every snapshot, never stored.
func UnreadTotal(principalID string, rooms []*RoomResponse) int {
	total := 0
	for _, view := range rooms {
		last := view.LastMessage
		if last != nil && last.SenderID != principalID && !last.Read {
			total++
		}
	}
	return total
}

// ---- room list ----

func (s *ChatSession) loadRooms() {
	s.phase = RoomsLoading
	s.roomsErr = nil
	s.changed()

	go func() {
		views, err := s.chat.ListRooms(s.ctx, s.principalID)
		s.do(func() {
			s.phase = RoomsReady
			if err != nil {
				// Degrade, don't crash: keep whatever we had, flag the error,
				// and let the surface issue Retry.
				s.roomsErr = err
				s.changed()
				return
			}
			s.mergeRoomList(views)
			s.changed()
		})
	}()
}

// RetryRooms re-issues the room list fetch after a degraded load.
func (s *ChatSession) RetryRooms() error {
	return s.call(func() { s.loadRooms() })
}

// mergeRoomList adopts a fresh fetch but keeps rooms the feed delivered while
// the fetch was in flight, and never lets a last message go backwards.
func (s *ChatSession) mergeRoomList(fetched []*RoomResponse) {
	prev := make(map[string]*RoomResponse, len(s.rooms))
	for _, view := range s.rooms {
		prev[view.Room.ID] = view
	}

	merged := make([]*RoomResponse, 0, len(fetched))
	seen := make(map[string]bool, len(fetched))
	for _, view := range fetched {
		seen[view.Room.ID] = true
		if old, ok := prev[view.Room.ID]; ok {
			view.LastMessage = newerMessage(old.LastMessage, view.LastMessage)
			if view.Listing == nil {
				view.Listing = old.Listing
			}
		}
		merged = append(merged, view)
	}
	// Feed-delivered rooms the fetch didn't cover yet stay at the front.
	for i := len(s.rooms) - 1; i >= 0; i-- {
		if !seen[s.rooms[i].Room.ID] {
			merged = append([]*RoomResponse{s.rooms[i]}, merged...)
		}
	}

	s.rooms = merged
}

func newerMessage(a, b *entity.Message) *entity.Message {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Before(b) {
		return b
	}
	return a
}

func (s *ChatSession) findRoomView(roomID string) *RoomResponse {
	for _, view := range s.rooms {
		if view.Room.ID == roomID {
			return view
		}
	}
	return nil
}

// insertRoomView puts a room at the front of the list, dedup by identifier.
func (s *ChatSession) insertRoomView(view *RoomResponse) bool {
	if existing := s.findRoomView(view.Room.ID); existing != nil {
		existing.LastMessage = newerMessage(existing.LastMessage, view.LastMessage)
		if existing.Listing == nil {
			existing.Listing = view.Listing
		}
		return false
	}
	s.rooms = append([]*RoomResponse{view}, s.rooms...)
	return true
}

// touchRoom records activity: refresh the denormalized last message and move
// the room to the front (most-recently-active first). Unknown rooms are
// resolved from the store in the background.
func (s *ChatSession) touchRoom(roomID string, msg *entity.Message) {
	view := s.findRoomView(roomID)
	if view == nil {
		s.fetchRoomView(roomID)
		return
	}

	view.LastMessage = newerMessage(view.LastMessage, msg)
	s.moveRoomToFront(roomID)
}

func (s *ChatSession) moveRoomToFront(roomID string) {
	for i, view := range s.rooms {
		if view.Room.ID == roomID {
			if i > 0 {
				s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
				s.rooms = append([]*RoomResponse{view}, s.rooms...)
			}
			return
		}
	}
}

func (s *ChatSession) fetchRoomView(roomID string) {
	if s.fetching[roomID] {
		return
	}
	s.fetching[roomID] = true

	go func() {
		view, err := s.chat.GetRoom(s.ctx, s.principalID, roomID)
		s.do(func() {
			delete(s.fetching, roomID)
			if err != nil {
				log.Printf("ChatSession: failed to resolve room %s: %v", roomID, err)
				return
			}
			s.insertRoomView(view)
			s.moveRoomToFront(roomID)
			s.changed()
		})
	}()
}

// ---- open room ----

// OpenRoom switches the open room and fetches its history. The previous
// room's cache is discarded; only one full history is ever held.
func (s *ChatSession) OpenRoom(roomID string) error {
	return s.call(func() {
		s.open.gen++
		gen := s.open.gen

		// Seed with this room's unconfirmed sends so a pending message
		// survives leaving and re-entering the room.
		seed := make([]*entity.Message, len(s.pending[roomID]))
		copy(seed, s.pending[roomID])

		s.open = openRoom{
			roomID:   roomID,
			phase:    MessagesLoading,
			messages: seed,
			gen:      gen,
		}
		s.changed()

		go func() {
			messages, _, err := s.chat.ListMessages(s.ctx, s.principalID, roomID, 0, 0)
			s.do(func() {
				// Stale-response guard: the open room may have changed while
				// the fetch was in flight.
				if s.open.roomID != roomID || s.open.gen != gen {
					return
				}
				s.open.phase = MessagesReady
				if err != nil {
					s.open.err = err
					s.changed()
					return
				}
				for _, msg := range messages {
					s.mergeOpenMessage(msg)
				}
				s.sortOpenMessages()
				s.markOpenRoomRead()
				s.changed()
			})
		}()
	})
}

func (s *ChatSession) CloseRoom() error {
	return s.call(func() {
		s.open.gen++
		s.open = openRoom{phase: NoRoomOpen, gen: s.open.gen}
		s.changed()
	})
}

// mergeOpenMessage merges one store-confirmed message into the open room,
// deduplicating by identifier. A self-sent message may instead replace a
// matching pending entry (the optimistic-send echo path).
func (s *ChatSession) mergeOpenMessage(msg *entity.Message) {
	for i, existing := range s.open.messages {
		if !existing.Pending && existing.ID == msg.ID {
			s.open.messages[i] = msg
			return
		}
	}

	if msg.SenderID == s.principalID {
		if s.replacePendingMatch(msg) {
			return
		}
	}

	s.open.messages = append(s.open.messages, msg)
}

// replacePendingMatch swaps a pending entry for its confirmed counterpart,
// matching by sender+content+pending marker, never by identifier, since the
// pending entry has no store identifier yet.
func (s *ChatSession) replacePendingMatch(confirmed *entity.Message) bool {
	for i, existing := range s.open.messages {
		if existing.Pending && existing.SenderID == confirmed.SenderID && existing.Content == confirmed.Content {
			s.open.messages[i] = confirmed
			s.unregisterPending(confirmed.RoomID, existing)
			return true
		}
	}
	return false
}

func (s *ChatSession) sortOpenMessages() {
	sort.SliceStable(s.open.messages, func(i, j int) bool {
		a, b := s.open.messages[i], s.open.messages[j]
		// Pending entries sort after everything confirmed.
		if a.Pending != b.Pending {
			return b.Pending
		}
		return a.Before(b)
	})
}

func (s *ChatSession) registerPending(roomID string, msg *entity.Message) {
	s.pending[roomID] = append(s.pending[roomID], msg)
}

func (s *ChatSession) unregisterPending(roomID string, msg *entity.Message) {
	queue := s.pending[roomID]
	for i, p := range queue {
		if p == msg {
			s.pending[roomID] = append(queue[:i], queue[i+1:]...)
			if len(s.pending[roomID]) == 0 {
				delete(s.pending, roomID)
			}
			return
		}
	}
}

func (s *ChatSession) dropOpenMessage(target *entity.Message) {
	for i, msg := range s.open.messages {
		if msg == target {
			s.open.messages = append(s.open.messages[:i], s.open.messages[i+1:]...)
			return
		}
	}
}

// ---- commands ----

// Send optimistically appends to the open room, then confirms against the
// store. On failure the pending entry is removed and the submitted content is
// handed back; there is no automatic retry.
func (s *ChatSession) Send(content string) SendResult {
	resultCh := make(chan SendResult, 1)

	ok := s.do(func() {
		if s.open.phase != MessagesReady {
			resultCh <- SendResult{Err: errors.Validation("No open room to send to", nil)}
			return
		}

		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			// Rejected before any store call; state is untouched.
			resultCh <- SendResult{Err: errors.Validation("Message content is required", nil)}
			return
		}

		roomID := s.open.roomID
		s.pendingSeq++
		pending := &entity.Message{
			ID:        fmt.Sprintf("pending-%d", s.pendingSeq),
			RoomID:    roomID,
			SenderID:  s.principalID,
			Content:   trimmed,
			CreatedAt: time.Now(),
			Pending:   true,
		}
		s.registerPending(roomID, pending)
		s.open.messages = append(s.open.messages, pending)
		s.changed()

		go func() {
			confirmed, err := s.chat.SendMessage(s.ctx, s.principalID, roomID, trimmed)
			s.do(func() {
				if err != nil {
					s.unregisterPending(roomID, pending)
					if s.open.roomID == roomID {
						s.dropOpenMessage(pending)
					}
					s.changed()
					resultCh <- SendResult{Err: err, RestoredInput: content}
					return
				}

				if s.open.roomID == roomID {
					// The feed echo may have landed first; mergeOpenMessage
					// replaces the pending entry or dedups by identifier.
					s.mergeOpenMessage(confirmed)
					s.sortOpenMessages()
				}
				s.unregisterPending(roomID, pending)
				s.touchRoom(roomID, confirmed)
				s.changed()
				resultCh <- SendResult{Message: confirmed}
			})
		}()
	})
	if !ok {
		return SendResult{Err: ErrSessionClosed}
	}

	select {
	case result := <-resultCh:
		return result
	case <-s.closed:
		return SendResult{Err: ErrSessionClosed}
	}
}

// StartChat resolves or creates the room for a listing and inserts it into
// the room list. Conflicts from concurrent creation are absorbed by the
// usecase; only terminal failures (own listing, missing listing) surface.
func (s *ChatSession) StartChat(listingID string) (string, error) {
	type outcome struct {
		roomID string
		err    error
	}
	resultCh := make(chan outcome, 1)

	ok := s.do(func() {
		go func() {
			view, err := s.chat.StartChat(s.ctx, s.principalID, listingID)
			s.do(func() {
				if err != nil {
					resultCh <- outcome{err: err}
					return
				}
				s.insertRoomView(view)
				s.moveRoomToFront(view.Room.ID)
				s.changed()
				resultCh <- outcome{roomID: view.Room.ID}
			})
		}()
	})
	if !ok {
		return "", ErrSessionClosed
	}

	select {
	case result := <-resultCh:
		return result.roomID, result.err
	case <-s.closed:
		return "", ErrSessionClosed
	}
}

// markOpenRoomRead flips counterpart messages to read, locally first. The
// store writes are fire-and-forget: read state is cosmetic, so there is no
// rollback path for it.
func (s *ChatSession) markOpenRoomRead() {
	view := s.findRoomView(s.open.roomID)

	for _, msg := range s.open.messages {
		if msg.Pending || msg.Read || msg.SenderID == s.principalID {
			continue
		}
		msg.Read = true
		if view != nil && view.LastMessage != nil && view.LastMessage.ID == msg.ID {
			view.LastMessage.Read = true
		}

		messageID := msg.ID
		go func() {
			if err := s.chat.MarkMessageRead(s.ctx, s.principalID, messageID); err != nil {
				log.Printf("ChatSession: mark read for message %s: %v", messageID, err)
			}
		}()
	}
}

// ---- feed events ----

func (s *ChatSession) handleFeedEvent(ev realtime.Event) {
	switch ev.Kind {
	case realtime.RoomInserted:
		s.onRoomInserted(ev.Room)
	case realtime.MessageInserted:
		s.onMessageInserted(ev.Message)
	case realtime.MessageUpdated:
		s.onMessageUpdated(ev.Message)
	}
}

// onRoomInserted is how a seller discovers a brand-new incoming chat without
// polling. Duplicates (resubscribe re-delivery) are absorbed by identifier.
func (s *ChatSession) onRoomInserted(room *entity.Room) {
	if room == nil || !room.HasParticipant(s.principalID) {
		return
	}
	if s.insertRoomView(&RoomResponse{Room: room}) {
		s.changed()
	}
}

func (s *ChatSession) onMessageInserted(msg *entity.Message) {
	if msg == nil {
		return
	}

	if s.open.roomID == msg.RoomID {
		s.mergeOpenMessage(msg)
		s.sortOpenMessages()
	}

	s.touchRoom(msg.RoomID, msg)

	// The principal is looking at this room right now, so an incoming
	// counterpart message is read the moment it lands.
	if s.open.roomID == msg.RoomID && s.open.phase == MessagesReady {
		s.markOpenRoomRead()
	}
	s.changed()
}

// onMessageUpdated carries read-flag echoes: the sender sees the counterpart
// mark their message read.
func (s *ChatSession) onMessageUpdated(msg *entity.Message) {
	if msg == nil {
		return
	}

	changed := false
	if s.open.roomID == msg.RoomID {
		for i, existing := range s.open.messages {
			if !existing.Pending && existing.ID == msg.ID {
				s.open.messages[i] = msg
				changed = true
				break
			}
		}
	}

	if view := s.findRoomView(msg.RoomID); view != nil {
		if view.LastMessage != nil && view.LastMessage.ID == msg.ID {
			view.LastMessage = msg
			changed = true
		}
	}

	if changed {
		s.changed()
	}
}
