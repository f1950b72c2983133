package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventListingCreated   EventType = "listing.created"
	EventListingSold      EventType = "listing.sold"
	EventListingCancelled EventType = "listing.cancelled"
)

// Event is a notification emitted by a committed operation. Buyer is set
// only for EventListingSold; Amount and Price are unset for
// EventListingCancelled.
type Event struct {
	Type      EventType
	ListingID uint64
	Seller    Address
	Buyer     Address
	Amount    decimal.Decimal
	Price     decimal.Decimal
	At        time.Time
}

func listingCreated(l Listing) Event {
	return Event{
		Type:      EventListingCreated,
		ListingID: l.ID,
		Seller:    l.Seller,
		Amount:    l.Amount,
		Price:     l.Price,
		At:        l.CreatedAt,
	}
}

func listingSold(l Listing, buyer Address, at time.Time) Event {
	return Event{
		Type:      EventListingSold,
		ListingID: l.ID,
		Seller:    l.Seller,
		Buyer:     buyer,
		Amount:    l.Amount,
		Price:     l.Price,
		At:        at,
	}
}

func listingCancelled(l Listing, at time.Time) Event {
	return Event{
		Type:      EventListingCancelled,
		ListingID: l.ID,
		Seller:    l.Seller,
		At:        at,
	}
}
