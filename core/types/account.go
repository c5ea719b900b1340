package types

import "math/big"

// Account holds the SNC balance and NFT inventory tracked for a single
// 20-byte address in the marketplace ledger.
type Account struct {
	Nonce      uint64            `json:"nonce"`
	BalanceSNC *big.Int          `json:"balanceSNC"`
	Holdings   map[uint64]uint64 `json:"holdings,omitempty"`
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{BalanceSNC: big.NewInt(0), Holdings: map[uint64]uint64{}}
	}
	clone := &Account{
		Nonce:      a.Nonce,
		BalanceSNC: big.NewInt(0),
		Holdings:   make(map[uint64]uint64, len(a.Holdings)),
	}
	if a.BalanceSNC != nil {
		clone.BalanceSNC = new(big.Int).Set(a.BalanceSNC)
	}
	for id, qty := range a.Holdings {
		clone.Holdings[id] = qty
	}
	return clone
}
