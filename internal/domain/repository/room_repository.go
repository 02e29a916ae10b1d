package repository

import (
	"context"

	"pasarbekas/internal/domain/entity"
)

type RoomRepository interface {
	// Create persists a new room. It fails with CONFLICT when a room for the
	// same (listing, buyer) pair already exists, and with FORBIDDEN when the
	// buyer and seller are the same principal.
	Create(ctx context.Context, room *entity.Room) error
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	FindByListingAndBuyer(ctx context.Context, listingID, buyerID string) (*entity.Room, error)
	// ListByParticipant returns every room where the principal is buyer or
	// seller. The participant filter is applied at the store, never client-side.
	ListByParticipant(ctx context.Context, userID string) ([]*entity.Room, error)
}
