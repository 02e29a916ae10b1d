package repository

import (
	"context"

	"pasarbekas/internal/domain/entity"
)

// ListingRepository is the narrow contract the chat subsystem holds against
// the listings CRUD, which is owned elsewhere.
type ListingRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Listing, error)
}
