package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pasarbekas/internal/domain/entity"
	"pasarbekas/internal/domain/repository"
	"pasarbekas/pkg/errors"
)

type firestoreRoomRepository struct {
	client *firestore.Client
}

func NewFirestoreRoomRepository(client *firestore.Client) repository.RoomRepository {
	return &firestoreRoomRepository{
		client: client,
	}
}

// Create inserts a room inside a transaction so that two concurrent callers
// for the same (listing, buyer) pair cannot both succeed. The loser gets
// CONFLICT and must re-resolve via FindByListingAndBuyer.
func (r *firestoreRoomRepository) Create(ctx context.Context, room *entity.Room) error {
	if room.BuyerID == room.SellerID {
		return errors.Forbidden("You cannot open a chat on your own listing", nil)
	}

	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	room.Participants = []string{room.BuyerID, room.SellerID}
	room.CreatedAt = time.Now()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		query := r.client.Collection("rooms").
			Where("listingId", "==", room.ListingID).
			Where("buyerId", "==", room.BuyerID).
			Limit(1)

		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return errors.Conflict("Room already exists for this listing and buyer")
		}

		return tx.Create(r.client.Collection("rooms").Doc(room.ID), room)
	})

	if err != nil {
		if errors.Is(err, "CONFLICT") {
			return err
		}
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Room already exists for this listing and buyer")
		}
		return errors.Transient("Failed to create room", err)
	}

	return nil
}

func (r *firestoreRoomRepository) GetByID(ctx context.Context, id string) (*entity.Room, error) {
	doc, err := r.client.Collection("rooms").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Room", nil)
		}
		return nil, errors.Transient("Failed to get room", err)
	}

	var room entity.Room
	if err := doc.DataTo(&room); err != nil {
		return nil, errors.Internal("Failed to parse room data", err)
	}

	return &room, nil
}

func (r *firestoreRoomRepository) FindByListingAndBuyer(ctx context.Context, listingID, buyerID string) (*entity.Room, error) {
	query := r.client.Collection("rooms").
		Where("listingId", "==", listingID).
		Where("buyerId", "==", buyerID).
		Limit(1)

	doc, err := query.Documents(ctx).Next()
	if err != nil {
		if err == iterator.Done {
			return nil, errors.NotFound("Room", nil)
		}
		return nil, errors.Transient("Failed to query room", err)
	}

	var room entity.Room
	if err := doc.DataTo(&room); err != nil {
		return nil, errors.Internal("Failed to parse room data", err)
	}

	return &room, nil
}

func (r *firestoreRoomRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.Room, error) {
	query := r.client.Collection("rooms").
		Where("participants", "array-contains", userID).
		OrderBy("createdAt", firestore.Desc)

	iter := query.Documents(ctx)
	var rooms []*entity.Room

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Transient("Failed to list rooms", err)
		}

		var room entity.Room
		if err := doc.DataTo(&room); err != nil {
			return nil, errors.Internal("Failed to parse room data", err)
		}

		rooms = append(rooms, &room)
	}

	return rooms, nil
}
