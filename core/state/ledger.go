package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"sncmarket/core/types"
)

var (
	// ErrInsufficientBalance is returned when a move would overdraw the
	// source account.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrEscrowLocked is returned when an external token API attempts to
	// debit an escrow account. Escrowed positions are inert until a
	// resolution routine moves them.
	ErrEscrowLocked = errors.New("ledger: account is escrow locked")
)

// Ledger is the single mutable store backing the marketplace. It tracks SNC
// balances and per-id NFT holdings for every address, and flags the addresses
// that currently act as escrow accounts. Moves are atomic under one mutex;
// the host serialises state-changing calls, so each call observes a fully
// committed ledger.
type Ledger struct {
	mu       sync.Mutex
	accounts map[[20]byte]*types.Account
	escrows  map[[20]byte]struct{}
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[[20]byte]*types.Account),
		escrows:  make(map[[20]byte]struct{}),
	}
}

func (l *Ledger) account(addr [20]byte) *types.Account {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = &types.Account{BalanceSNC: big.NewInt(0), Holdings: map[uint64]uint64{}}
		l.accounts[addr] = acc
	}
	if acc.BalanceSNC == nil {
		acc.BalanceSNC = big.NewInt(0)
	}
	if acc.Holdings == nil {
		acc.Holdings = map[uint64]uint64{}
	}
	return acc
}

// GetAccount returns a deep copy of the account stored for addr.
func (l *Ledger) GetAccount(addr [20]byte) *types.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(addr).Clone()
}

// PutAccount replaces the stored account for addr. Used when restoring a
// persisted snapshot.
func (l *Ledger) PutAccount(addr [20]byte, acc *types.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[addr] = acc.Clone()
}

// Accounts returns a deep copy of every stored account keyed by address.
func (l *Ledger) Accounts() map[[20]byte]*types.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[[20]byte]*types.Account, len(l.accounts))
	for addr, acc := range l.accounts {
		out[addr] = acc.Clone()
	}
	return out
}

// BalanceOf returns the SNC balance held by addr.
func (l *Ledger) BalanceOf(addr [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.account(addr).BalanceSNC)
}

// NFTBalance returns the quantity of tokenID held by addr.
func (l *Ledger) NFTBalance(addr [20]byte, tokenID uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(addr).Holdings[tokenID]
}

// Mint credits amount of SNC to addr without a source account. Used to seed
// the token supply at genesis.
func (l *Ledger) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: invalid mint amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.account(addr)
	acc.BalanceSNC = new(big.Int).Add(acc.BalanceSNC, amount)
	return nil
}

// MintNFT credits one unit of tokenID to addr.
func (l *Ledger) MintNFT(addr [20]byte, tokenID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.account(addr)
	acc.Holdings[tokenID]++
}

// Move transfers amount of SNC between two accounts unconditionally. Only
// engine resolution routines may call Move for escrow sources; the token
// facade enforces the escrow lock for everyone else.
func (l *Ledger) Move(from, to [20]byte, amount *big.Int) error {
	if amount == nil {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative move amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.account(from)
	if src.BalanceSNC.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	dst := l.account(to)
	src.BalanceSNC = new(big.Int).Sub(src.BalanceSNC, amount)
	dst.BalanceSNC = new(big.Int).Add(dst.BalanceSNC, amount)
	return nil
}

// MoveNFT transfers one unit of tokenID between two accounts.
func (l *Ledger) MoveNFT(from, to [20]byte, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.account(from)
	if src.Holdings[tokenID] == 0 {
		return fmt.Errorf("ledger: address does not hold token %d", tokenID)
	}
	dst := l.account(to)
	src.Holdings[tokenID]--
	if src.Holdings[tokenID] == 0 {
		delete(src.Holdings, tokenID)
	}
	dst.Holdings[tokenID]++
	return nil
}

// LockEscrow flags addr as an escrow account. While flagged, the token facade
// rejects any externally initiated debit of the address.
func (l *Ledger) LockEscrow(addr [20]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.escrows[addr] = struct{}{}
}

// ReleaseEscrow clears the escrow flag for addr.
func (l *Ledger) ReleaseEscrow(addr [20]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.escrows, addr)
}

// IsEscrow reports whether addr is currently flagged as an escrow account.
func (l *Ledger) IsEscrow(addr [20]byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.escrows[addr]
	return ok
}
