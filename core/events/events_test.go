package events

import (
	"math/big"
	"testing"
)

func TestMarketSoldEvent(t *testing.T) {
	seller := [20]byte{0x01}
	buyer := [20]byte{0x02}
	evt := MarketSold{
		TokenID:   7,
		Buyer:     buyer,
		Seller:    seller,
		Price:     big.NewInt(500),
		SellerFee: big.NewInt(5),
		FlatFee:   big.NewInt(100),
	}.Event()
	if evt.Type != TypeMarketSold {
		t.Fatalf("type = %q, want %q", evt.Type, TypeMarketSold)
	}
	if evt.Attributes["tokenId"] != "7" {
		t.Fatalf("tokenId = %q", evt.Attributes["tokenId"])
	}
	if evt.Attributes["price"] != "500" || evt.Attributes["sellerFee"] != "5" {
		t.Fatalf("amounts = %q/%q", evt.Attributes["price"], evt.Attributes["sellerFee"])
	}
	if evt.Attributes["buyer"] != "0x0200000000000000000000000000000000000000" {
		t.Fatalf("buyer = %q", evt.Attributes["buyer"])
	}
}

func TestOfferAcceptedEvent(t *testing.T) {
	evt := OfferAccepted{
		TokenID:  3,
		Buyer:    [20]byte{0x02},
		Seller:   [20]byte{0x01},
		Price:    big.NewInt(200),
		Refunded: 2,
	}.Event()
	if evt.Type != TypeOfferAccepted {
		t.Fatalf("type = %q, want %q", evt.Type, TypeOfferAccepted)
	}
	if evt.Attributes["refunded"] != "2" {
		t.Fatalf("refunded = %q", evt.Attributes["refunded"])
	}
}

func TestNilAmountsFormatAsZero(t *testing.T) {
	evt := MarketUpdated{TokenID: 1, Price: nil, Expiry: -5}.Event()
	if evt.Attributes["price"] != "0" {
		t.Fatalf("price = %q, want 0", evt.Attributes["price"])
	}
	if evt.Attributes["expiry"] != "-5" {
		t.Fatalf("expiry = %q, want -5", evt.Attributes["expiry"])
	}
}
