package storage

import (
	"errors"
	"math/big"
	"testing"

	"sncmarket/core/types"
	"sncmarket/native/market"
	"sncmarket/native/offer"
)

func TestMemDBPutGetDelete(t *testing.T) {
	db := NewMemDB()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get = %q, %v", got, err)
	}
	// Stored values are copies; mutating the returned slice must not leak.
	got[0] = 'x'
	again, _ := db.Get([]byte("k"))
	if string(again) != "v" {
		t.Fatalf("stored value mutated through returned slice")
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted err = %v, want ErrNotFound", err)
	}
}

func TestAddressRoundTrip(t *testing.T) {
	var addr [20]byte
	addr[0] = 0xde
	addr[19] = 0x42
	decoded, err := DecodeAddress(EncodeAddress(addr))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %x", decoded)
	}
	if _, err := DecodeAddress("abcd"); err == nil {
		t.Fatalf("short address accepted")
	}
	if _, err := DecodeAddress("zz"); err == nil {
		t.Fatalf("non-hex address accepted")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := NewMemDB()
	seller := [20]byte{0x01}
	buyer := [20]byte{0x02}
	escrow := [20]byte{0x03}
	snap := &Snapshot{
		Accounts: map[string]*types.Account{
			EncodeAddress(seller): {
				BalanceSNC: big.NewInt(1_000),
				Holdings:   map[uint64]uint64{2: 1},
			},
		},
		Sales: map[uint64]*market.Sale{
			1: {
				TokenID:    1,
				Seller:     seller,
				Price:      big.NewInt(500),
				Duration:   50_000,
				FloorPrice: big.NewInt(10),
				Escrow:     escrow,
			},
		},
		Books: map[uint64][]*offer.Offer{
			2: {
				{
					TokenID:  2,
					Price:    big.NewInt(200),
					Duration: 40_000,
					Buyer:    buyer,
					Seller:   seller,
					Fee:      big.NewInt(10),
					Escrow:   escrow,
				},
			},
		},
	}
	if err := SaveSnapshot(db, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadSnapshot(db)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	acc := loaded.Accounts[EncodeAddress(seller)]
	if acc == nil || acc.BalanceSNC.Cmp(big.NewInt(1_000)) != 0 || acc.Holdings[2] != 1 {
		t.Fatalf("account not restored: %+v", acc)
	}
	sale := loaded.Sales[1]
	if sale == nil || sale.Seller != seller || sale.Price.Cmp(big.NewInt(500)) != 0 || sale.Escrow != escrow {
		t.Fatalf("sale not restored: %+v", sale)
	}
	book := loaded.Books[2]
	if len(book) != 1 || book[0].Buyer != buyer || book[0].Fee.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("book not restored: %+v", book)
	}
}

func TestLoadSnapshotEmptyDatabase(t *testing.T) {
	snap, err := LoadSnapshot(NewMemDB())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Accounts == nil || snap.Sales == nil || snap.Books == nil {
		t.Fatalf("empty snapshot has nil maps: %+v", snap)
	}
	if len(snap.Accounts) != 0 || len(snap.Sales) != 0 || len(snap.Books) != 0 {
		t.Fatalf("empty snapshot not empty: %+v", snap)
	}
}

func TestSaveSnapshotNil(t *testing.T) {
	if err := SaveSnapshot(NewMemDB(), nil); err == nil {
		t.Fatalf("nil snapshot accepted")
	}
}
