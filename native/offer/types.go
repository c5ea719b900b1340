package offer

import "math/big"

// Offer is a single timed bid on a token. Offers are kept in creation order
// per token id; index 0 is the oldest pending offer. Price and Fee are locked
// into the offer's escrow account at creation time.
type Offer struct {
	TokenID  uint64   `json:"tokenId"`
	Price    *big.Int `json:"price"`
	Duration int64    `json:"duration"`
	Buyer    [20]byte `json:"buyer"`
	Seller   [20]byte `json:"seller"`
	Fee      *big.Int `json:"fee"`
	Escrow   [20]byte `json:"escrow"`
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Price != nil {
		clone.Price = new(big.Int).Set(o.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	if o.Fee != nil {
		clone.Fee = new(big.Int).Set(o.Fee)
	} else {
		clone.Fee = big.NewInt(0)
	}
	return &clone
}

func (o *Offer) locked() *big.Int {
	total := big.NewInt(0)
	if o.Price != nil {
		total.Add(total, o.Price)
	}
	if o.Fee != nil {
		total.Add(total, o.Fee)
	}
	return total
}
