package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"sncmarket/core/types"
	"sncmarket/native/market"
	"sncmarket/native/offer"
)

var snapshotKey = []byte("marketplace/snapshot")

// Snapshot is the persisted image of the marketplace: every ledger account
// plus the open sale and offer books. Escrow locks are re-derived from the
// open records on restore.
type Snapshot struct {
	Accounts map[string]*types.Account `json:"accounts"`
	Sales    map[uint64]*market.Sale   `json:"sales"`
	Books    map[uint64][]*offer.Offer `json:"books"`
}

// EncodeAddress renders a 20-byte address as the hex form used in snapshot
// keys.
func EncodeAddress(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

// DecodeAddress parses the hex form produced by EncodeAddress.
func DecodeAddress(s string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, err
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("storage: address must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// SaveSnapshot serialises the snapshot and writes it under the snapshot key.
func SaveSnapshot(db Database, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("storage: nil snapshot")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return db.Put(snapshotKey, raw)
}

// LoadSnapshot reads and decodes the stored snapshot. A missing snapshot
// yields an empty image rather than an error.
func LoadSnapshot(db Database) (*Snapshot, error) {
	raw, err := db.Get(snapshotKey)
	if errors.Is(err, ErrNotFound) {
		return &Snapshot{
			Accounts: map[string]*types.Account{},
			Sales:    map[uint64]*market.Sale{},
			Books:    map[uint64][]*offer.Offer{},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, err
	}
	if snap.Accounts == nil {
		snap.Accounts = map[string]*types.Account{}
	}
	if snap.Sales == nil {
		snap.Sales = map[uint64]*market.Sale{}
	}
	if snap.Books == nil {
		snap.Books = map[uint64][]*offer.Offer{}
	}
	return snap, nil
}
