package events

import (
	"math/big"

	"sncmarket/core/types"
)

const (
	TypeMarketListed    = "market.listed"
	TypeMarketSold      = "market.sold"
	TypeMarketCancelled = "market.cancelled"
	TypeMarketExpired   = "market.expired"
	TypeMarketUpdated   = "market.updated"
)

// MarketListed is emitted when a token enters the direct-sale book.
type MarketListed struct {
	TokenID uint64
	Seller  [20]byte
	Escrow  [20]byte
	Price   *big.Int
	Expiry  int64
}

func (MarketListed) EventType() string { return TypeMarketListed }

func (e MarketListed) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketListed,
		Attributes: map[string]string{
			"tokenId": formatUint(e.TokenID),
			"seller":  formatAddress(e.Seller),
			"escrow":  formatAddress(e.Escrow),
			"price":   formatAmount(e.Price),
			"expiry":  formatInt(e.Expiry),
		},
	}
}

// MarketSold is emitted when a buy settles.
type MarketSold struct {
	TokenID   uint64
	Buyer     [20]byte
	Seller    [20]byte
	Price     *big.Int
	SellerFee *big.Int
	FlatFee   *big.Int
}

func (MarketSold) EventType() string { return TypeMarketSold }

func (e MarketSold) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketSold,
		Attributes: map[string]string{
			"tokenId":   formatUint(e.TokenID),
			"buyer":     formatAddress(e.Buyer),
			"seller":    formatAddress(e.Seller),
			"price":     formatAmount(e.Price),
			"sellerFee": formatAmount(e.SellerFee),
			"flatFee":   formatAmount(e.FlatFee),
		},
	}
}

// MarketCancelled is emitted when the seller withdraws a listing.
type MarketCancelled struct {
	TokenID uint64
	Seller  [20]byte
}

func (MarketCancelled) EventType() string { return TypeMarketCancelled }

func (e MarketCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketCancelled,
		Attributes: map[string]string{
			"tokenId": formatUint(e.TokenID),
			"seller":  formatAddress(e.Seller),
		},
	}
}

// MarketExpired is emitted when an expiry sweep returns a listing to the
// seller.
type MarketExpired struct {
	TokenID uint64
	Seller  [20]byte
}

func (MarketExpired) EventType() string { return TypeMarketExpired }

func (e MarketExpired) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketExpired,
		Attributes: map[string]string{
			"tokenId": formatUint(e.TokenID),
			"seller":  formatAddress(e.Seller),
		},
	}
}

// MarketUpdated is emitted when a live listing's price or expiry changes.
type MarketUpdated struct {
	TokenID uint64
	Price   *big.Int
	Expiry  int64
}

func (MarketUpdated) EventType() string { return TypeMarketUpdated }

func (e MarketUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketUpdated,
		Attributes: map[string]string{
			"tokenId": formatUint(e.TokenID),
			"price":   formatAmount(e.Price),
			"expiry":  formatInt(e.Expiry),
		},
	}
}
