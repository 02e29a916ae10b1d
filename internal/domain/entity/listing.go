package entity

import "time"

// Listing is the narrow slice of the marketplace listing the chat subsystem
// needs: enough to resolve the seller and render a room header.
type Listing struct {
	ID        string    `json:"id" firestore:"id"`
	SellerID  string    `json:"seller_id" firestore:"sellerId"`
	Title     string    `json:"title" firestore:"title"`
	Price     float64   `json:"price" firestore:"price"`
	ImageURL  string    `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	Status    string    `json:"status" firestore:"status"` // "selling", "reserved", "sold"
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}
