package market

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
	errNilState        = errors.New("market engine: state not configured")
	ErrAlreadyListed   = errors.New("market engine: token already listed")
	ErrSaleNotFound    = errors.New("market engine: sale not found")
	ErrSaleCompleted   = errors.New("market engine: sale already settled")
	ErrNotSeller       = errors.New("market engine: caller is not the seller")
	ErrNotOwned        = errors.New("market engine: seller does not hold the token")
	ErrInvalidPrice    = errors.New("market engine: offered price must be positive")
	ErrInvalidFee      = errors.New("market engine: fee amount must be non-negative")
	ErrPriceTooLow     = errors.New("market engine: offered price below listing price")
	ErrSaleExpired     = errors.New("market engine: listing past its expiry")
	ErrInsufficientSNC = errors.New("market engine: buyer balance below total due")
)

// ModuleAddress identifies the direct-sale engine as a token operator and
// allowance spender. Sellers approve it for NFT custody, buyers approve it
// for SNC settlement pulls.
var ModuleAddress = deriveModuleAddress("snc/market-module")

func deriveModuleAddress(tag string) [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte(tag))
	copy(addr[:], hash[12:])
	return addr
}

// engineState is the ledger surface the engine settles against. Move and
// MoveNFT are the only routines allowed to debit escrow entries.
type engineState interface {
	Move(from, to [20]byte, amount *big.Int) error
	MoveNFT(from, to [20]byte, tokenID uint64) error
	LockEscrow(addr [20]byte)
	ReleaseEscrow(addr [20]byte)
	BalanceOf(addr [20]byte) *big.Int
}

// SettlementToken is the fungible collaborator used to pull buyer funds into
// escrow under the buyer's allowance.
type SettlementToken interface {
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) *big.Int
}

// NFTLedger is the semi-fungible collaborator used to pull the listed token
// into escrow under the seller's operator approval.
type NFTLedger interface {
	TransferFrom(operator, from, to [20]byte, tokenID uint64) error
	BalanceOf(addr [20]byte, tokenID uint64) uint64
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine is the direct-sale settlement state machine. One active sale per
// token id; every listing owns a dedicated escrow address that holds the NFT
// until a buy, cancel, or expiry sweep resolves it. State-changing calls are
// serialised by the engine mutex, matching the host's total ordering, so the
// first qualifying buy wins and later calls observe the terminal state.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	snc     SettlementToken
	nft     NFTLedger
	policy  *fees.Policy
	emitter events.Emitter
	nowFn   func() int64
	sales   map[uint64]*Sale
	nonce   uint64
}

// NewEngine constructs a direct-sale engine over the supplied collaborators.
func NewEngine(state engineState, snc SettlementToken, nft NFTLedger, policy *fees.Policy) *Engine {
	return &Engine{
		state:   state,
		snc:     snc,
		nft:     nft,
		policy:  policy,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		sales:   make(map[uint64]*Sale),
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
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) deriveEscrow(tokenID uint64, seller [20]byte) [20]byte {
	e.nonce++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], tokenID)
	binary.BigEndian.PutUint64(buf[8:], e.nonce)
	hash := ethcrypto.Keccak256([]byte("snc/market-escrow"), seller[:], buf[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// Sale returns a copy of the stored listing for the token id.
func (e *Engine) Sale(tokenID uint64) (*Sale, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sale, ok := e.sales[tokenID]
	if !ok {
		return nil, false
	}
	return sale.Clone(), true
}

// Sales returns a copy of every stored listing keyed by token id, used for
// snapshot persistence.
func (e *Engine) Sales() map[uint64]*Sale {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[uint64]*Sale, len(e.sales))
	for id, sale := range e.sales {
		out[id] = sale.Clone()
	}
	return out
}

// Restore reinstates a persisted listing without moving any assets. The
// escrow lock is re-applied for open listings.
func (e *Engine) Restore(sale *Sale) {
	if sale == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sales[sale.TokenID] = sale.Clone()
	if sale.Open() {
		e.state.LockEscrow(sale.Escrow)
	}
}

// PutForSale lists a token at a fixed price with an absolute expiry. The
// seller must hold the token; it moves into a freshly derived escrow account
// and stays locked there until resolution.
func (e *Engine) PutForSale(tokenContract [20]byte, tokenID uint64, seller [20]byte, price *big.Int, expiry int64, floorPrice *big.Int) (*Sale, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.sales[tokenID]; ok && existing.Open() {
		return nil, ErrAlreadyListed
	}
	if e.nft.BalanceOf(seller, tokenID) == 0 {
		return nil, ErrNotOwned
	}
	escrow := e.deriveEscrow(tokenID, seller)
	if err := e.nft.TransferFrom(ModuleAddress, seller, escrow, tokenID); err != nil {
		return nil, err
	}
	e.state.LockEscrow(escrow)
	sale := &Sale{
		TokenContract: tokenContract,
		TokenID:       tokenID,
		Seller:        seller,
		Price:         cloneBigInt(price),
		Duration:      expiry,
		FloorPrice:    cloneBigInt(floorPrice),
		Escrow:        escrow,
	}
	e.sales[tokenID] = sale
	e.emit(events.MarketListed{
		TokenID: tokenID,
		Seller:  seller,
		Escrow:  escrow,
		Price:   sale.Price,
		Expiry:  expiry,
	}.Event())
	return sale.Clone(), nil
}

// UpdateSalePrice stores a new listing price verbatim. Any integer is
// accepted, including zero and negative values; only the settled state is
// off-limits.
func (e *Engine) UpdateSalePrice(caller [20]byte, newPrice *big.Int, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sale, ok := e.sales[tokenID]
	if !ok {
		return ErrSaleNotFound
	}
	if sale.Seller != caller {
		return ErrNotSeller
	}
	if !sale.Open() {
		return ErrSaleCompleted
	}
	sale.Price = cloneBigInt(newPrice)
	e.emit(events.MarketUpdated{TokenID: tokenID, Price: sale.Price, Expiry: sale.Duration}.Event())
	return nil
}

// UpdateDuration stores a new expiry timestamp verbatim, with the same
// lenient validation as UpdateSalePrice.
func (e *Engine) UpdateDuration(caller [20]byte, newExpiry int64, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sale, ok := e.sales[tokenID]
	if !ok {
		return ErrSaleNotFound
	}
	if sale.Seller != caller {
		return ErrNotSeller
	}
	if !sale.Open() {
		return ErrSaleCompleted
	}
	sale.Duration = newExpiry
	e.emit(events.MarketUpdated{TokenID: tokenID, Price: sale.Price, Expiry: newExpiry}.Event())
	return nil
}

// BuyNft settles the listing for the first caller meeting the listed price
// before expiry. The buyer pays offeredPrice plus the flat feeAmount; the
// seller receives offeredPrice minus the seller percentage; the house
// receives the percentage plus the flat fee. The whole settlement either
// commits or leaves every balance untouched. Unlike the update paths, the
// offered price is validated strictly.
func (e *Engine) BuyNft(buyer [20]byte, tokenID uint64, offeredPrice, feeAmount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if offeredPrice == nil || offeredPrice.Sign() <= 0 {
		return ErrInvalidPrice
	}
	flat := cloneBigInt(feeAmount)
	if flat.Sign() < 0 {
		return ErrInvalidFee
	}
	sale, ok := e.sales[tokenID]
	if !ok {
		return ErrSaleNotFound
	}
	if !sale.Open() {
		return ErrSaleCompleted
	}
	if sale.Price != nil && offeredPrice.Cmp(sale.Price) < 0 {
		return ErrPriceTooLow
	}
	if e.now() > sale.Duration {
		return ErrSaleExpired
	}
	total := new(big.Int).Add(offeredPrice, flat)
	if e.snc.BalanceOf(buyer).Cmp(total) < 0 {
		return ErrInsufficientSNC
	}
	// Pull the full amount into escrow first; the distribution below cannot
	// fail once the escrow holds it.
	if err := e.snc.TransferFrom(ModuleAddress, buyer, sale.Escrow, total); err != nil {
		return err
	}
	sellerCut := e.policy.SellerCut(offeredPrice)
	houseTake := new(big.Int).Add(sellerCut, flat)
	sellerTake := new(big.Int).Sub(offeredPrice, sellerCut)
	if err := e.state.Move(sale.Escrow, sale.Seller, sellerTake); err != nil {
		return err
	}
	if err := e.state.Move(sale.Escrow, e.policy.House(), houseTake); err != nil {
		return err
	}
	if err := e.state.MoveNFT(sale.Escrow, buyer, tokenID); err != nil {
		return err
	}
	e.state.ReleaseEscrow(sale.Escrow)
	sale.Complete = true
	e.emit(events.MarketSold{
		TokenID:   tokenID,
		Buyer:     buyer,
		Seller:    sale.Seller,
		Price:     offeredPrice,
		SellerFee: sellerCut,
		FlatFee:   flat,
	}.Event())
	return nil
}

// CancelSale returns the NFT to the seller and removes the listing. Settled
// listings are a terminal state: cancellation after a successful buy is
// rejected without touching any balance. Cancelling a listing the expiry
// sweep already resolved clears the record without moving assets or emitting.
func (e *Engine) CancelSale(caller [20]byte, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sale, ok := e.sales[tokenID]
	if !ok {
		return ErrSaleNotFound
	}
	if sale.Seller != caller {
		return ErrNotSeller
	}
	if sale.Complete {
		return ErrSaleCompleted
	}
	if sale.Resolved {
		// The expiry sweep already returned the NFT and emitted its event;
		// cancelling only clears the record.
		delete(e.sales, tokenID)
		return nil
	}
	if err := e.state.MoveNFT(sale.Escrow, sale.Seller, tokenID); err != nil {
		return err
	}
	e.state.ReleaseEscrow(sale.Escrow)
	delete(e.sales, tokenID)
	e.emit(events.MarketCancelled{TokenID: tokenID, Seller: sale.Seller}.Event())
	return nil
}

// MonitorNftSale is the explicit expiry sweep. Once the expiry has elapsed on
// a still-open listing the NFT returns to the seller and the stored price is
// zeroed. Calling it early, repeatedly, or on a settled listing is a no-op.
func (e *Engine) MonitorNftSale(tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sale, ok := e.sales[tokenID]
	if !ok {
		return nil
	}
	if !sale.Open() {
		return nil
	}
	if e.now() <= sale.Duration {
		return nil
	}
	if err := e.state.MoveNFT(sale.Escrow, sale.Seller, tokenID); err != nil {
		return err
	}
	e.state.ReleaseEscrow(sale.Escrow)
	sale.Price = big.NewInt(0)
	sale.Resolved = true
	e.emit(events.MarketExpired{TokenID: tokenID, Seller: sale.Seller}.Event())
	return nil
}

// ChangeFeeAddress rotates the CHANGE_FEE admin; malformed addresses leave
// the configuration untouched.
func (e *Engine) ChangeFeeAddress(caller [20]byte, newAddress string) error {
	return e.policy.ChangeFeeAddress(caller, newAddress)
}

// SetBuyerFee stores the buyer fee percentage verbatim.
func (e *Engine) SetBuyerFee(caller [20]byte, percent int64) error {
	return e.policy.SetBuyerFee(caller, percent)
}

// SetSellerFee stores the seller fee percentage verbatim.
func (e *Engine) SetSellerFee(caller [20]byte, percent int64) error {
	return e.policy.SetSellerFee(caller, percent)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
