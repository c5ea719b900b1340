package offer

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"sncmarket/core/events"
	"sncmarket/core/types"
	"sncmarket/native/fees"
)

var (
	errNilState        = errors.New("offer engine: state not configured")
	ErrOfferNotFound   = errors.New("offer engine: offer not found")
	ErrNotSeller       = errors.New("offer engine: caller is not the seller")
	ErrNotOwned        = errors.New("offer engine: seller does not hold the token")
	ErrInvalidPrice    = errors.New("offer engine: offer price must be positive")
	ErrInvalidFee      = errors.New("offer engine: offer fee must be non-negative")
	ErrInsufficientSNC = errors.New("offer engine: buyer balance below price plus fee")
)

// ModuleAddress identifies the offer engine as a token operator and allowance
// spender.
var ModuleAddress = deriveModuleAddress("snc/offer-module")

func deriveModuleAddress(tag string) [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte(tag))
	copy(addr[:], hash[12:])
	return addr
}

type engineState interface {
	Move(from, to [20]byte, amount *big.Int) error
	MoveNFT(from, to [20]byte, tokenID uint64) error
	LockEscrow(addr [20]byte)
	ReleaseEscrow(addr [20]byte)
	BalanceOf(addr [20]byte) *big.Int
}

// SettlementToken is the fungible collaborator used to lock buyer funds.
type SettlementToken interface {
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) *big.Int
}

// NFTLedger is the semi-fungible collaborator used to move the token through
// escrow on accept.
type NFTLedger interface {
	TransferFrom(operator, from, to [20]byte, tokenID uint64) error
	BalanceOf(addr [20]byte, tokenID uint64) uint64
}

type offerEvent struct {
	evt *types.Event
}

func (e offerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e offerEvent) Event() *types.Event { return e.evt }

// Engine is the negotiation-market state machine. Buyers post competing
// timed offers against a token, each backed by its own escrow holding
// price+fee. The seller accepts exactly one — a clearing event that refunds
// every other pending offer — or cancels individually or wholesale. Expiry
// is realised only by the explicit per-offer sweep.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	snc     SettlementToken
	nft     NFTLedger
	policy  *fees.Policy
	emitter events.Emitter
	nowFn   func() int64
	books   map[uint64][]*Offer
	nonce   uint64
}

// NewEngine constructs an offer engine over the supplied collaborators.
func NewEngine(state engineState, snc SettlementToken, nft NFTLedger, policy *fees.Policy) *Engine {
	return &Engine{
		state:   state,
		snc:     snc,
		nft:     nft,
		policy:  policy,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		books:   make(map[uint64][]*Offer),
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(offerEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) deriveEscrow(tokenID uint64, buyer [20]byte) [20]byte {
	e.nonce++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], tokenID)
	binary.BigEndian.PutUint64(buf[8:], e.nonce)
	hash := ethcrypto.Keccak256([]byte("snc/offer-escrow"), buyer[:], buf[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// MakeOffer locks price+fee from the buyer into a fresh escrow and appends
// the offer to the token's book. Multiple concurrent offers per token are
// allowed, including several from the same buyer.
func (e *Engine) MakeOffer(tokenID uint64, price *big.Int, expiry int64, buyer, seller [20]byte, fee *big.Int) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	lockedFee := cloneBigInt(fee)
	if lockedFee.Sign() < 0 {
		return nil, ErrInvalidFee
	}
	total := new(big.Int).Add(price, lockedFee)
	if e.snc.BalanceOf(buyer).Cmp(total) < 0 {
		return nil, ErrInsufficientSNC
	}
	escrow := e.deriveEscrow(tokenID, buyer)
	if err := e.snc.TransferFrom(ModuleAddress, buyer, escrow, total); err != nil {
		return nil, err
	}
	e.state.LockEscrow(escrow)
	off := &Offer{
		TokenID:  tokenID,
		Price:    new(big.Int).Set(price),
		Duration: expiry,
		Buyer:    buyer,
		Seller:   seller,
		Fee:      lockedFee,
		Escrow:   escrow,
	}
	e.books[tokenID] = append(e.books[tokenID], off)
	e.emit(events.OfferMade{
		TokenID: tokenID,
		Buyer:   buyer,
		Seller:  seller,
		Escrow:  escrow,
		Price:   off.Price,
		Fee:     off.Fee,
		Expiry:  expiry,
	}.Event())
	return off.Clone(), nil
}

// ViewAllOffer returns the pending offers for a token in creation order.
func (e *Engine) ViewAllOffer(tokenID uint64) []*Offer {
	e.mu.Lock()
	defer e.mu.Unlock()
	book := e.books[tokenID]
	out := make([]*Offer, 0, len(book))
	for _, off := range book {
		out = append(out, off.Clone())
	}
	return out
}

// OfferAt returns a copy of the offer at the given book index.
func (e *Engine) OfferAt(tokenID uint64, index int) (*Offer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book := e.books[tokenID]
	if index < 0 || index >= len(book) {
		return nil, false
	}
	return book[index].Clone(), true
}

// Books returns a copy of every pending offer book, used for snapshot
// persistence.
func (e *Engine) Books() map[uint64][]*Offer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[uint64][]*Offer, len(e.books))
	for id, book := range e.books {
		cloned := make([]*Offer, 0, len(book))
		for _, off := range book {
			cloned = append(cloned, off.Clone())
		}
		out[id] = cloned
	}
	return out
}

// Restore reinstates a persisted offer without moving any funds and
// re-applies its escrow lock.
func (e *Engine) Restore(off *Offer) {
	if off == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.books[off.TokenID] = append(e.books[off.TokenID], off.Clone())
	e.state.LockEscrow(off.Escrow)
}

// AcceptOffer settles the offer at the given index: the NFT passes through
// the offer's escrow to the winning buyer, the seller is credited the price
// minus the seller percentage, and the house collects the percentage plus
// the winner's locked fee. Accepting is a clearing event — every other
// pending offer on the token is refunded price+fee to its buyer and the book
// empties. transferNow selects immediate finalization of the NFT leg; the
// deferred path finalizes after the refund loop within the same call.
// Accepting a vacated index fails without touching any balance.
func (e *Engine) AcceptOffer(tokenID uint64, index int, seller [20]byte, transferNow bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	book := e.books[tokenID]
	if index < 0 || index >= len(book) {
		return ErrOfferNotFound
	}
	winner := book[index]
	if winner.Seller != seller {
		return ErrNotSeller
	}
	if e.nft.BalanceOf(seller, tokenID) == 0 {
		return ErrNotOwned
	}
	if err := e.nft.TransferFrom(ModuleAddress, seller, winner.Escrow, tokenID); err != nil {
		return err
	}
	sellerCut := e.policy.SellerCut(winner.Price)
	sellerTake := new(big.Int).Sub(winner.Price, sellerCut)
	houseTake := new(big.Int).Add(sellerCut, winner.Fee)
	if transferNow {
		if err := e.state.MoveNFT(winner.Escrow, winner.Buyer, tokenID); err != nil {
			return err
		}
	}
	if err := e.state.Move(winner.Escrow, seller, sellerTake); err != nil {
		return err
	}
	if err := e.state.Move(winner.Escrow, e.policy.House(), houseTake); err != nil {
		return err
	}
	refunded := 0
	for i, off := range book {
		if i == index {
			continue
		}
		if err := e.state.Move(off.Escrow, off.Buyer, off.locked()); err != nil {
			return err
		}
		e.state.ReleaseEscrow(off.Escrow)
		refunded++
	}
	if !transferNow {
		if err := e.state.MoveNFT(winner.Escrow, winner.Buyer, tokenID); err != nil {
			return err
		}
	}
	e.state.ReleaseEscrow(winner.Escrow)
	delete(e.books, tokenID)
	e.emit(events.OfferAccepted{
		TokenID:  tokenID,
		Buyer:    winner.Buyer,
		Seller:   seller,
		Price:    winner.Price,
		Refunded: refunded,
	}.Event())
	return nil
}

// CancelOfferBuyer withdraws the caller's oldest pending offer on the token.
// The locked price returns to the buyer; the locked fee routes to the house
// wallet and is not returned.
func (e *Engine) CancelOfferBuyer(buyer [20]byte, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	book := e.books[tokenID]
	for i, off := range book {
		if off.Buyer != buyer {
			continue
		}
		if err := e.state.Move(off.Escrow, off.Buyer, cloneBigInt(off.Price)); err != nil {
			return err
		}
		if err := e.state.Move(off.Escrow, e.policy.House(), cloneBigInt(off.Fee)); err != nil {
			return err
		}
		e.state.ReleaseEscrow(off.Escrow)
		e.books[tokenID] = append(book[:i:i], book[i+1:]...)
		if len(e.books[tokenID]) == 0 {
			delete(e.books, tokenID)
		}
		e.emit(events.OfferCancelled{TokenID: tokenID, Buyer: buyer, ByBuyer: true}.Event())
		return nil
	}
	return ErrOfferNotFound
}

// CancelOfferSeller rejects the offer at the given index, refunding price+fee
// to its buyer. The buyer may immediately re-offer.
func (e *Engine) CancelOfferSeller(tokenID uint64, index int, seller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	book := e.books[tokenID]
	if index < 0 || index >= len(book) {
		return ErrOfferNotFound
	}
	off := book[index]
	if off.Seller != seller {
		return ErrNotSeller
	}
	if err := e.refundLocked(off); err != nil {
		return err
	}
	e.books[tokenID] = append(book[:index:index], book[index+1:]...)
	if len(e.books[tokenID]) == 0 {
		delete(e.books, tokenID)
	}
	e.emit(events.OfferCancelled{TokenID: tokenID, Buyer: off.Buyer, ByBuyer: false}.Event())
	return nil
}

// CancelAll rejects every pending offer on the token, each refunded exactly
// as in the single seller cancel.
func (e *Engine) CancelAll(caller [20]byte, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	book := e.books[tokenID]
	for _, off := range book {
		if off.Seller != caller {
			return ErrNotSeller
		}
	}
	for _, off := range book {
		if err := e.refundLocked(off); err != nil {
			return err
		}
		e.emit(events.OfferCancelled{TokenID: tokenID, Buyer: off.Buyer, ByBuyer: false}.Event())
	}
	delete(e.books, tokenID)
	return nil
}

// MonitorNftOffer is the per-offer expiry sweep. Once the offer's duration
// has elapsed the locked price+fee returns to the buyer, the buyer field is
// zeroed, and the offer leaves the book. Non-expired offers and vacated
// indexes are a no-op.
func (e *Engine) MonitorNftOffer(tokenID uint64, index int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	book := e.books[tokenID]
	if index < 0 || index >= len(book) {
		return nil
	}
	off := book[index]
	if e.now() <= off.Duration {
		return nil
	}
	if err := e.refundLocked(off); err != nil {
		return err
	}
	buyer := off.Buyer
	off.Buyer = [20]byte{}
	e.books[tokenID] = append(book[:index:index], book[index+1:]...)
	if len(e.books[tokenID]) == 0 {
		delete(e.books, tokenID)
	}
	e.emit(events.OfferExpired{TokenID: tokenID, Buyer: buyer}.Event())
	return nil
}

func (e *Engine) refundLocked(off *Offer) error {
	if err := e.state.Move(off.Escrow, off.Buyer, off.locked()); err != nil {
		return err
	}
	e.state.ReleaseEscrow(off.Escrow)
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
