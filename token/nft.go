package token

import (
	"errors"
	"sync"

	"sncmarket/core/state"
)

var (
	errNotApproved = errors.New("token: operator not approved for transfer")
)

// NFT is the semi-fungible token facade over the marketplace ledger. Balances
// are tracked per address per token id (0 or 1 in practice). Token ids are
// assigned sequentially starting at 1, mirroring the minter contract.
type NFT struct {
	ledger *state.Ledger
	issuer [20]byte

	mu        sync.Mutex
	approvals map[[20]byte]map[[20]byte]bool
	nextID    uint64
}

// NewNFT constructs the NFT facade; freshly minted tokens are credited to the
// issuer address.
func NewNFT(ledger *state.Ledger, issuer [20]byte) *NFT {
	return &NFT{
		ledger:    ledger,
		issuer:    issuer,
		approvals: make(map[[20]byte]map[[20]byte]bool),
		nextID:    1,
	}
}

// Mint issues the next token id to the issuer. The seed value carries no
// semantics beyond matching the minter signature.
func (n *NFT) Mint(seed int64) uint64 {
	_ = seed
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.mu.Unlock()
	n.ledger.MintNFT(n.issuer, id)
	return id
}

// Advance bumps the mint cursor past id. Used when restoring a snapshot so
// future mints do not reuse persisted token ids.
func (n *NFT) Advance(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id >= n.nextID {
		n.nextID = id + 1
	}
}

// BalanceOf returns the quantity of tokenID held by addr.
func (n *NFT) BalanceOf(addr [20]byte, tokenID uint64) uint64 {
	return n.ledger.NFTBalance(addr, tokenID)
}

// SetApprovalForAll grants or revokes operator rights over every token owned
// by owner.
func (n *NFT) SetApprovalForAll(owner, operator [20]byte, approved bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.approvals[owner]; !ok {
		n.approvals[owner] = make(map[[20]byte]bool)
	}
	n.approvals[owner][operator] = approved
}

// IsApprovedForAll reports whether operator may move owner's tokens.
func (n *NFT) IsApprovedForAll(owner, operator [20]byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.approvals[owner][operator]
}

// TransferFrom moves one unit of tokenID from the owner to the recipient.
// The operator must be the owner or hold operator approval, and the source
// must not be escrow locked.
func (n *NFT) TransferFrom(operator, from, to [20]byte, tokenID uint64) error {
	if n.ledger.IsEscrow(from) {
		return state.ErrEscrowLocked
	}
	if operator != from && !n.IsApprovedForAll(from, operator) {
		return errNotApproved
	}
	return n.ledger.MoveNFT(from, to, tokenID)
}
