package events

import (
	"math/big"

	"sncmarket/core/types"
)

const (
	TypeOfferMade      = "offer.made"
	TypeOfferAccepted  = "offer.accepted"
	TypeOfferCancelled = "offer.cancelled"
	TypeOfferExpired   = "offer.expired"
)

// OfferMade is emitted when a buyer locks funds behind a new offer.
type OfferMade struct {
	TokenID uint64
	Buyer   [20]byte
	Seller  [20]byte
	Escrow  [20]byte
	Price   *big.Int
	Fee     *big.Int
	Expiry  int64
}

func (OfferMade) EventType() string { return TypeOfferMade }

func (e OfferMade) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferMade,
		Attributes: map[string]string{
			"tokenId": formatUint(e.TokenID),
			"buyer":   formatAddress(e.Buyer),
			"seller":  formatAddress(e.Seller),
			"escrow":  formatAddress(e.Escrow),
			"price":   formatAmount(e.Price),
			"fee":     formatAmount(e.Fee),
			"expiry":  formatInt(e.Expiry),
		},
	}
}

// OfferAccepted is emitted once the seller settles the winning offer and the
// rest of the book has been refunded.
type OfferAccepted struct {
	TokenID  uint64
	Buyer    [20]byte
	Seller   [20]byte
	Price    *big.Int
	Refunded int
}

func (OfferAccepted) EventType() string { return TypeOfferAccepted }

func (e OfferAccepted) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferAccepted,
		Attributes: map[string]string{
			"tokenId":  formatUint(e.TokenID),
			"buyer":    formatAddress(e.Buyer),
			"seller":   formatAddress(e.Seller),
			"price":    formatAmount(e.Price),
			"refunded": formatInt(int64(e.Refunded)),
		},
	}
}

// OfferCancelled is emitted when either side withdraws a single offer.
type OfferCancelled struct {
	TokenID uint64
	Buyer   [20]byte
	ByBuyer bool
}

func (OfferCancelled) EventType() string { return TypeOfferCancelled }

func (e OfferCancelled) Event() *types.Event {
	side := "seller"
	if e.ByBuyer {
		side = "buyer"
	}
	return &types.Event{
		Type: TypeOfferCancelled,
		Attributes: map[string]string{
			"tokenId": formatUint(e.TokenID),
			"buyer":   formatAddress(e.Buyer),
			"by":      side,
		},
	}
}

// OfferExpired is emitted when an expiry sweep refunds a stale offer.
type OfferExpired struct {
	TokenID uint64
	Buyer   [20]byte
}

func (OfferExpired) EventType() string { return TypeOfferExpired }

func (e OfferExpired) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferExpired,
		Attributes: map[string]string{
			"tokenId": formatUint(e.TokenID),
			"buyer":   formatAddress(e.Buyer),
		},
	}
}
