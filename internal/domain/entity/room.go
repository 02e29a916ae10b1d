package entity

import "time"

// Room is a single buyer-seller conversation scoped to one listing.
// At most one room exists per (listing, buyer) pair.
type Room struct {
	ID           string    `json:"id" firestore:"id"`
	ListingID    string    `json:"listing_id" firestore:"listingId"`
	BuyerID      string    `json:"buyer_id" firestore:"buyerId"`
	SellerID     string    `json:"seller_id" firestore:"sellerId"`
	Participants []string  `json:"participants" firestore:"participants"`
	CreatedAt    time.Time `json:"created_at" firestore:"createdAt"`
}

func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return userID == r.BuyerID || userID == r.SellerID
}

// Counterpart returns the other side of the conversation.
func (r *Room) Counterpart(userID string) string {
	if userID == r.BuyerID {
		return r.SellerID
	}
	return r.BuyerID
}
