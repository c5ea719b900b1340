package token

import (
	"errors"
	"math/big"
	"sync"

	"sncmarket/core/state"
)

var (
	errInvalidAmount        = errors.New("token: amount must be non-negative")
	errInsufficientAllowLim = errors.New("token: transfer exceeds allowance")
)

// SNC is the fungible settlement token facade over the marketplace ledger.
// Amounts are 18-decimal base units. Transfers out of escrow-flagged
// addresses are rejected here; only engine resolution routines may debit an
// escrow entry through the ledger directly.
type SNC struct {
	ledger *state.Ledger

	mu         sync.Mutex
	allowances map[[20]byte]map[[20]byte]*big.Int
}

// NewSNC constructs the token facade and mints the initial supply to the
// deployer address.
func NewSNC(ledger *state.Ledger, deployer [20]byte, supply *big.Int) (*SNC, error) {
	t := &SNC{
		ledger:     ledger,
		allowances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
	if supply != nil && supply.Sign() > 0 {
		if err := ledger.Mint(deployer, supply); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// BalanceOf returns the balance held by addr.
func (t *SNC) BalanceOf(addr [20]byte) *big.Int {
	return t.ledger.BalanceOf(addr)
}

// Transfer moves amount from the caller to the recipient.
func (t *SNC) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if t.ledger.IsEscrow(from) {
		return state.ErrEscrowLocked
	}
	return t.ledger.Move(from, to, amount)
}

// Approve grants spender the right to move up to amount from owner.
func (t *SNC) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.allowances[owner]; !ok {
		t.allowances[owner] = make(map[[20]byte]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining amount spender may move from owner.
func (t *SNC) Allowance(owner, spender [20]byte) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	granted, ok := t.allowances[owner][spender]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(granted)
}

// TransferFrom moves amount from the owner to the recipient on behalf of
// spender, consuming the owner's allowance.
func (t *SNC) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if t.ledger.IsEscrow(from) {
		return state.ErrEscrowLocked
	}
	t.mu.Lock()
	granted, ok := t.allowances[from][spender]
	if !ok || granted.Cmp(amount) < 0 {
		t.mu.Unlock()
		return errInsufficientAllowLim
	}
	t.mu.Unlock()
	if err := t.ledger.Move(from, to, amount); err != nil {
		return err
	}
	t.mu.Lock()
	t.allowances[from][spender] = new(big.Int).Sub(granted, amount)
	t.mu.Unlock()
	return nil
}
