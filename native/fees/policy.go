package fees

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FeeDivisor converts a stored percentage value into a fraction of the trade
// price. A value of 100 therefore charges 1% of the price.
const FeeDivisor = 10_000

var (
	// ErrUnauthorized is returned when a caller other than the CHANGE_FEE
	// admin attempts to mutate the policy.
	ErrUnauthorized = errors.New("fees: caller is not the fee admin")
	// ErrInvalidAddress is returned when a fee address update carries a
	// malformed account identifier. The update is a no-op.
	ErrInvalidAddress = errors.New("fees: malformed fee address")
)

// Policy carries the process-wide fee configuration shared by the market and
// offer engines: the buyer/seller percentages, the house wallet collecting
// every fee leg, and the CHANGE_FEE admin address authorised to mutate the
// parameters. The percentage setters are deliberately lenient and store any
// integer verbatim, including negative values; settlement clamps the computed
// cut to the [0, price] range so fee legs never produce negative transfers.
type Policy struct {
	mu     sync.Mutex
	buyer  int64
	seller int64
	house  [20]byte
	admin  [20]byte
}

// NewPolicy constructs a policy with the supplied initial parameters. The
// admin doubles as the initial CHANGE_FEE address.
func NewPolicy(house, admin [20]byte, buyerPercent, sellerPercent int64) *Policy {
	return &Policy{
		buyer:  buyerPercent,
		seller: sellerPercent,
		house:  house,
		admin:  admin,
	}
}

// BuyerFeePercent returns the stored buyer percentage verbatim.
func (p *Policy) BuyerFeePercent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buyer
}

// SellerFeePercent returns the stored seller percentage verbatim.
func (p *Policy) SellerFeePercent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seller
}

// House returns the wallet credited with collected fees.
func (p *Policy) House() [20]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.house
}

// FeeAdmin returns the current CHANGE_FEE address.
func (p *Policy) FeeAdmin() [20]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admin
}

// SetBuyerFee stores the buyer percentage. Any integer is accepted.
func (p *Policy) SetBuyerFee(caller [20]byte, percent int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.admin {
		return ErrUnauthorized
	}
	p.buyer = percent
	return nil
}

// SetSellerFee stores the seller percentage. Any integer is accepted.
func (p *Policy) SetSellerFee(caller [20]byte, percent int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.admin {
		return ErrUnauthorized
	}
	p.seller = percent
	return nil
}

// ChangeFeeAddress rotates the CHANGE_FEE admin to the supplied hex address.
// Malformed identifiers leave the stored address untouched.
func (p *Policy) ChangeFeeAddress(caller [20]byte, newAddress string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.admin {
		return ErrUnauthorized
	}
	if !common.IsHexAddress(newAddress) {
		return ErrInvalidAddress
	}
	p.admin = common.HexToAddress(newAddress)
	return nil
}

// SellerCut computes the seller-side percentage fee for a trade of the given
// price. Negative stored percentages and non-positive prices yield zero;
// percentages at or above FeeDivisor cap the cut at the full price so a
// settlement leg can never go negative.
func (p *Policy) SellerCut(price *big.Int) *big.Int {
	p.mu.Lock()
	pct := p.seller
	p.mu.Unlock()
	return percentageOf(price, pct)
}

// BuyerCut computes the buyer-side percentage fee for a trade of the given
// price, with the same clamping as SellerCut.
func (p *Policy) BuyerCut(price *big.Int) *big.Int {
	p.mu.Lock()
	pct := p.buyer
	p.mu.Unlock()
	return percentageOf(price, pct)
}

func percentageOf(price *big.Int, percent int64) *big.Int {
	if price == nil || price.Sign() <= 0 || percent <= 0 {
		return big.NewInt(0)
	}
	if percent >= FeeDivisor {
		return new(big.Int).Set(price)
	}
	cut := new(big.Int).Mul(price, big.NewInt(percent))
	return cut.Div(cut, big.NewInt(FeeDivisor))
}
