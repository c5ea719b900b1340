package market

import "math/big"

// Sale captures a direct-sale listing. Price and Duration hold whatever the
// seller last stored, verbatim: the update paths are deliberately lenient and
// accept zero or negative values. Duration is an absolute expiry timestamp.
type Sale struct {
	TokenContract [20]byte `json:"tokenContract"`
	TokenID       uint64   `json:"tokenId"`
	Seller        [20]byte `json:"seller"`
	Price         *big.Int `json:"price"`
	Duration      int64    `json:"duration"`
	FloorPrice    *big.Int `json:"floorPrice"`
	Escrow        [20]byte `json:"escrow"`
	Complete      bool     `json:"complete"`
	Resolved      bool     `json:"resolved"`
}

// Clone returns a deep copy of the sale so callers can safely mutate the copy
// without affecting the stored instance.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Price != nil {
		clone.Price = new(big.Int).Set(s.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	if s.FloorPrice != nil {
		clone.FloorPrice = new(big.Int).Set(s.FloorPrice)
	} else {
		clone.FloorPrice = big.NewInt(0)
	}
	return &clone
}

// Open reports whether the listing can still settle: neither bought nor
// returned by an expiry sweep.
func (s *Sale) Open() bool {
	return s != nil && !s.Complete && !s.Resolved
}
