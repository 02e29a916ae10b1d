package usecase

import (
	"context"
	"log"
	"strings"
	"sync"

	"pasarbekas/internal/domain/entity"
	"pasarbekas/internal/domain/repository"
	"pasarbekas/internal/infrastructure/ratelimit"
	"pasarbekas/pkg/errors"
)

// lastMessageFanout bounds the parallel last-message lookups issued while
// building the room list.
const lastMessageFanout = 8

type ChatUseCase struct {
	roomRepo    repository.RoomRepository
	messageRepo repository.MessageRepository
	listingRepo repository.ListingRepository
	rateLimiter *ratelimit.RateLimiter
}

func NewChatUseCase(
	roomRepo repository.RoomRepository,
	messageRepo repository.MessageRepository,
	listingRepo repository.ListingRepository,
) *ChatUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ChatUseCase{
		roomRepo:    roomRepo,
		messageRepo: messageRepo,
		listingRepo: listingRepo,
		rateLimiter: rateLimiter,
	}
}

// RoomResponse is a room plus the denormalized bits the list view renders.
type RoomResponse struct {
	*entity.Room
	Listing     *entity.Listing `json:"listing,omitempty"`
	LastMessage *entity.Message `json:"last_message,omitempty"`
}

// StartChat resolves or creates the room for (listing, buyer). It is
// idempotent: an existing room is returned as-is, and a CONFLICT from a lost
// creation race is recovered by re-resolving, never surfaced to the caller.
func (uc *ChatUseCase) StartChat(ctx context.Context, buyerID, listingID string) (*RoomResponse, error) {
	if allowed, _ := uc.rateLimiter.Allow(buyerID, "start_chat"); !allowed {
		log.Printf("StartChat Rate Limited: User %s", buyerID)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before starting another chat")
	}

	listing, err := uc.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		log.Printf("StartChat Error: Listing %s not found: %v", listingID, err)
		return nil, err
	}

	if listing.SellerID == buyerID {
		log.Printf("StartChat Error: User %s attempted to chat on own listing %s", buyerID, listingID)
		return nil, errors.Forbidden("You cannot open a chat on your own listing", nil)
	}

	room, err := uc.roomRepo.FindByListingAndBuyer(ctx, listingID, buyerID)
	if err == nil {
		return &RoomResponse{Room: room, Listing: listing}, nil
	}
	if !errors.Is(err, "NOT_FOUND") {
		return nil, err
	}

	newRoom := &entity.Room{
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
	}

	if err := uc.roomRepo.Create(ctx, newRoom); err != nil {
		if errors.Is(err, "CONFLICT") {
			// Lost the race to a concurrent caller; their room is the answer.
			existing, ferr := uc.roomRepo.FindByListingAndBuyer(ctx, listingID, buyerID)
			if ferr != nil {
				log.Printf("StartChat Error: Failed to re-resolve room after conflict: %v", ferr)
				return nil, ferr
			}
			return &RoomResponse{Room: existing, Listing: listing}, nil
		}
		log.Printf("StartChat Error: Failed to create room for listing %s: %v", listingID, err)
		return nil, err
	}

	return &RoomResponse{Room: newRoom, Listing: listing}, nil
}

// ListRooms returns every room the principal participates in, each with its
// listing and most recent message attached via a bounded parallel fan-out.
func (uc *ChatUseCase) ListRooms(ctx context.Context, userID string) ([]*RoomResponse, error) {
	rooms, err := uc.roomRepo.ListByParticipant(ctx, userID)
	if err != nil {
		log.Printf("ListRooms Error: Failed to list rooms for user %s: %v", userID, err)
		return nil, err
	}

	responses := make([]*RoomResponse, len(rooms))
	sem := make(chan struct{}, lastMessageFanout)
	var wg sync.WaitGroup

	for i, room := range rooms {
		responses[i] = &RoomResponse{Room: room}

		wg.Add(1)
		sem <- struct{}{}
		go func(resp *RoomResponse) {
			defer wg.Done()
			defer func() { <-sem }()

			last, err := uc.messageRepo.LastByRoom(ctx, resp.Room.ID)
			if err == nil {
				resp.LastMessage = last
			} else if !errors.Is(err, "NOT_FOUND") {
				log.Printf("ListRooms Warning: Last message for room %s: %v", resp.Room.ID, err)
			}

			listing, err := uc.listingRepo.GetByID(ctx, resp.Room.ListingID)
			if err == nil {
				resp.Listing = listing
			} else {
				// Listing may have been removed; the room dangles but still renders.
				log.Printf("ListRooms Warning: Listing %s for room %s: %v", resp.Room.ListingID, resp.Room.ID, err)
			}
		}(responses[i])
	}

	wg.Wait()
	return responses, nil
}

func (uc *ChatUseCase) GetRoom(ctx context.Context, userID, roomID string) (*RoomResponse, error) {
	room, err := uc.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if !room.HasParticipant(userID) {
		log.Printf("GetRoom Error: User %s is not a participant in room %s", userID, roomID)
		return nil, errors.Forbidden("You are not a participant in this room", nil)
	}

	resp := &RoomResponse{Room: room}

	if last, err := uc.messageRepo.LastByRoom(ctx, roomID); err == nil {
		resp.LastMessage = last
	}
	if listing, err := uc.listingRepo.GetByID(ctx, room.ListingID); err == nil {
		resp.Listing = listing
	}

	return resp, nil
}

// ListMessages returns a room's history in ascending creation order.
// limit <= 0 fetches the full history.
func (uc *ChatUseCase) ListMessages(ctx context.Context, userID, roomID string, limit, offset int) ([]*entity.Message, int64, error) {
	room, err := uc.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, 0, err
	}

	if !room.HasParticipant(userID) {
		log.Printf("ListMessages Error: User %s is not a participant in room %s", userID, roomID)
		return nil, 0, errors.Forbidden("You are not a participant in this room", nil)
	}

	return uc.messageRepo.ListByRoom(ctx, roomID, limit, offset)
}

// SendMessage appends to a room. Content is validated before any store call
// so a rejected send never mutates anything.
func (uc *ChatUseCase) SendMessage(ctx context.Context, userID, roomID, content string) (*entity.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.Validation("Message content is required", nil)
	}

	if allowed, _ := uc.rateLimiter.Allow(userID, "send_message"); !allowed {
		log.Printf("SendMessage Rate Limited: User %s", userID)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message")
	}

	room, err := uc.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		log.Printf("SendMessage Error: Room %s not found: %v", roomID, err)
		return nil, err
	}

	if !room.HasParticipant(userID) {
		log.Printf("SendMessage Error: User %s is not a participant in room %s", userID, roomID)
		return nil, errors.Forbidden("You are not a participant in this room", nil)
	}

	message := &entity.Message{
		RoomID:       roomID,
		SenderID:     userID,
		Content:      content,
		Participants: room.Participants,
	}

	if err := uc.messageRepo.Create(ctx, message); err != nil {
		log.Printf("SendMessage Error: Failed to append message to room %s: %v", roomID, err)
		return nil, err
	}

	return message, nil
}

// MarkMessageRead flips a single read flag. The repository treats own or
// already-read messages as a no-op, so this is safely idempotent.
func (uc *ChatUseCase) MarkMessageRead(ctx context.Context, userID, messageID string) error {
	return uc.messageRepo.MarkRead(ctx, messageID, userID)
}

// MarkRoomRead marks every unread counterpart message in the room. Best
// effort: the first store failure is returned but earlier flips stand.
func (uc *ChatUseCase) MarkRoomRead(ctx context.Context, userID, roomID string) error {
	messages, _, err := uc.ListMessages(ctx, userID, roomID, 0, 0)
	if err != nil {
		return err
	}

	for _, message := range messages {
		if message.SenderID == userID || message.Read {
			continue
		}
		if err := uc.messageRepo.MarkRead(ctx, message.ID, userID); err != nil {
			log.Printf("MarkRoomRead Warning: Failed to mark message %s: %v", message.ID, err)
			return err
		}
	}

	return nil
}
