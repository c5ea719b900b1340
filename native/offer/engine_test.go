package offer

import (
	"errors"
	"math/big"
	"testing"

	"sncmarket/core/state"
	"sncmarket/native/fees"
	"sncmarket/token"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func wei(ether int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(ether), scale)
}

type fixture struct {
	ledger *state.Ledger
	snc    *token.SNC
	nft    *token.NFT
	policy *fees.Policy
	engine *Engine

	owner [20]byte
	user  [20]byte
	other [20]byte
	house [20]byte

	tokenID uint64
}

// newFixture mirrors the negotiation-market deployment: the owner holds the
// minted NFT and supply, two funded buyers hold 9e9 SNC each, and both fee
// percentages are 150 (1.5%).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: state.NewLedger(),
		owner:  testAddress(0x01),
		user:   testAddress(0x02),
		other:  testAddress(0x03),
		house:  testAddress(0x04),
	}
	snc, err := token.NewSNC(f.ledger, f.owner, wei(1_800_000_000_000))
	if err != nil {
		t.Fatalf("deploy snc: %v", err)
	}
	f.snc = snc
	f.nft = token.NewNFT(f.ledger, f.owner)
	f.policy = fees.NewPolicy(f.house, f.owner, 150, 150)
	f.engine = NewEngine(f.ledger, f.snc, f.nft, f.policy)

	for _, buyer := range [][20]byte{f.user, f.other} {
		if err := f.snc.Transfer(f.owner, buyer, wei(9_000_000_000)); err != nil {
			t.Fatalf("fund buyer: %v", err)
		}
	}
	for _, holder := range [][20]byte{f.owner, f.user, f.other} {
		if err := f.snc.Approve(holder, ModuleAddress, wei(9_000_000_000)); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	f.tokenID = f.nft.Mint(1)
	f.nft.SetApprovalForAll(f.owner, ModuleAddress, true)
	return f
}

func (f *fixture) offer(t *testing.T, buyer [20]byte, priceEther, feeEther int64, expiry int64) *Offer {
	t.Helper()
	off, err := f.engine.MakeOffer(f.tokenID, wei(priceEther), expiry, buyer, f.owner, wei(feeEther))
	if err != nil {
		t.Fatalf("make offer: %v", err)
	}
	return off
}

func TestMakeOfferLocksPricePlusFee(t *testing.T) {
	f := newFixture(t)
	before := f.snc.BalanceOf(f.user)
	off := f.offer(t, f.user, 200, 10, 50_000)
	if got := f.snc.BalanceOf(off.Escrow); got.Cmp(wei(210)) != 0 {
		t.Fatalf("escrow balance = %s, want %s", got, wei(210))
	}
	wantBuyer := new(big.Int).Sub(before, wei(210))
	if got := f.snc.BalanceOf(f.user); got.Cmp(wantBuyer) != 0 {
		t.Fatalf("buyer balance = %s, want %s", got, wantBuyer)
	}
}

func TestMakeOfferStoresTerms(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	stored, ok := f.engine.OfferAt(f.tokenID, 0)
	if !ok {
		t.Fatalf("offer missing from book")
	}
	if stored.Buyer != f.user || stored.Seller != f.owner {
		t.Fatalf("stored parties wrong: buyer %x seller %x", stored.Buyer, stored.Seller)
	}
	if stored.Price.Cmp(wei(200)) != 0 || stored.Fee.Cmp(wei(10)) != 0 {
		t.Fatalf("stored terms wrong: price %s fee %s", stored.Price, stored.Fee)
	}
	if stored.Duration != 50_000 {
		t.Fatalf("stored duration = %d, want 50000", stored.Duration)
	}
}

func TestMakeOfferValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.MakeOffer(f.tokenID, big.NewInt(-1), 50_000, f.user, f.owner, wei(10)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("negative price err = %v, want ErrInvalidPrice", err)
	}
	if _, err := f.engine.MakeOffer(f.tokenID, nil, 50_000, f.user, f.owner, wei(10)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("nil price err = %v, want ErrInvalidPrice", err)
	}
	if _, err := f.engine.MakeOffer(f.tokenID, wei(200), 50_000, f.user, f.owner, big.NewInt(-1)); !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("negative fee err = %v, want ErrInvalidFee", err)
	}
	if got := len(f.engine.ViewAllOffer(f.tokenID)); got != 0 {
		t.Fatalf("book length = %d after rejected offers, want 0", got)
	}
}

func TestBookOrdersOffersByCreation(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	f.offer(t, f.other, 100, 10, 50_000)
	f.offer(t, f.user, 150, 5, 50_000)
	book := f.engine.ViewAllOffer(f.tokenID)
	if len(book) != 3 {
		t.Fatalf("book length = %d, want 3", len(book))
	}
	if book[0].Buyer != f.user || book[1].Buyer != f.other || book[2].Buyer != f.user {
		t.Fatalf("book out of order")
	}
}

func TestAcceptOfferSettles(t *testing.T) {
	f := newFixture(t)
	off := f.offer(t, f.user, 200, 10, 50_000)
	sellerBefore := f.snc.BalanceOf(f.owner)
	if err := f.engine.AcceptOffer(f.tokenID, 0, f.owner, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// 1.5% of 200 SNC is 3; plus the winner's 10 SNC locked fee the house
	// collects 13.
	if got := f.snc.BalanceOf(f.house); got.Cmp(wei(13)) != 0 {
		t.Fatalf("house balance = %s, want %s", got, wei(13))
	}
	wantSeller := new(big.Int).Add(sellerBefore, wei(197))
	if got := f.snc.BalanceOf(f.owner); got.Cmp(wantSeller) != 0 {
		t.Fatalf("seller balance = %s, want %s", got, wantSeller)
	}
	if got := f.nft.BalanceOf(f.user, f.tokenID); got != 1 {
		t.Fatalf("buyer NFT balance = %d, want 1", got)
	}
	if got := f.snc.BalanceOf(off.Escrow); got.Sign() != 0 {
		t.Fatalf("escrow balance = %s, want 0", got)
	}
	if got := len(f.engine.ViewAllOffer(f.tokenID)); got != 0 {
		t.Fatalf("book length = %d after accept, want 0", got)
	}
}

func TestAcceptOfferRefundsLosers(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	f.offer(t, f.other, 100, 10, 50_000)
	otherBefore := f.snc.BalanceOf(f.other)
	if err := f.engine.AcceptOffer(f.tokenID, 0, f.owner, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// The losing buyer gets the full locked price+fee back.
	wantOther := new(big.Int).Add(otherBefore, wei(110))
	if got := f.snc.BalanceOf(f.other); got.Cmp(wantOther) != 0 {
		t.Fatalf("loser balance = %s, want %s", got, wantOther)
	}
	if got := f.snc.BalanceOf(f.house); got.Cmp(wei(13)) != 0 {
		t.Fatalf("house balance = %s, want %s", got, wei(13))
	}
	if got := f.nft.BalanceOf(f.other, f.tokenID); got != 0 {
		t.Fatalf("loser NFT balance = %d, want 0", got)
	}
}

func TestAcceptOfferDeferredTransfer(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	f.offer(t, f.other, 100, 10, 50_000)
	if err := f.engine.AcceptOffer(f.tokenID, 0, f.owner, false); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := f.nft.BalanceOf(f.user, f.tokenID); got != 1 {
		t.Fatalf("buyer NFT balance = %d, want 1", got)
	}
	if got := len(f.engine.ViewAllOffer(f.tokenID)); got != 0 {
		t.Fatalf("book length = %d after accept, want 0", got)
	}
}

func TestAcceptOfferWithOverDivisorSellerFee(t *testing.T) {
	f := newFixture(t)
	off := f.offer(t, f.user, 200, 10, 50_000)
	f.offer(t, f.other, 100, 10, 50_000)
	if err := f.policy.SetSellerFee(f.owner, 20_000); err != nil {
		t.Fatalf("set seller fee: %v", err)
	}
	sellerBefore := f.snc.BalanceOf(f.owner)
	otherBefore := f.snc.BalanceOf(f.other)
	// The cut caps at the price, so the clearing settles as one unit: the
	// seller nets zero, the house collects price plus the winner's fee, and
	// the losing offer still refunds in full.
	if err := f.engine.AcceptOffer(f.tokenID, 0, f.owner, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := f.snc.BalanceOf(f.owner); got.Cmp(sellerBefore) != 0 {
		t.Fatalf("seller balance = %s, want %s", got, sellerBefore)
	}
	if got := f.snc.BalanceOf(f.house); got.Cmp(wei(210)) != 0 {
		t.Fatalf("house balance = %s, want %s", got, wei(210))
	}
	wantOther := new(big.Int).Add(otherBefore, wei(110))
	if got := f.snc.BalanceOf(f.other); got.Cmp(wantOther) != 0 {
		t.Fatalf("loser balance = %s, want %s", got, wantOther)
	}
	if got := f.nft.BalanceOf(f.user, f.tokenID); got != 1 {
		t.Fatalf("buyer NFT balance = %d, want 1", got)
	}
	if got := f.snc.BalanceOf(off.Escrow); got.Sign() != 0 {
		t.Fatalf("escrow balance = %s, want 0", got)
	}
	if got := len(f.engine.ViewAllOffer(f.tokenID)); got != 0 {
		t.Fatalf("book length = %d after accept, want 0", got)
	}
}

func TestAcceptOfferRequiresSellerAndOwnership(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	if err := f.engine.AcceptOffer(f.tokenID, 0, f.user, true); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("wrong seller err = %v, want ErrNotSeller", err)
	}
	// Seller who already parted with the token cannot accept.
	if err := f.nft.TransferFrom(f.owner, f.owner, f.other, f.tokenID); err != nil {
		t.Fatalf("move token: %v", err)
	}
	if err := f.engine.AcceptOffer(f.tokenID, 0, f.owner, true); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("non-holder err = %v, want ErrNotOwned", err)
	}
}

func TestAcceptVacatedIndexRejected(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	if err := f.engine.CancelOfferBuyer(f.user, f.tokenID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	sellerBefore := f.snc.BalanceOf(f.owner)
	if err := f.engine.AcceptOffer(f.tokenID, 0, f.owner, true); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("err = %v, want ErrOfferNotFound", err)
	}
	if got := f.snc.BalanceOf(f.owner); got.Cmp(sellerBefore) != 0 {
		t.Fatalf("seller balance changed on rejected accept")
	}
	if got := f.nft.BalanceOf(f.owner, f.tokenID); got != 1 {
		t.Fatalf("owner NFT balance = %d, want 1", got)
	}
}

func TestCancelOfferBuyerForfeitsFee(t *testing.T) {
	f := newFixture(t)
	before := f.snc.BalanceOf(f.user)
	f.offer(t, f.user, 200, 10, 50_000)
	if err := f.engine.CancelOfferBuyer(f.user, f.tokenID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Price returns; the locked fee routes to the house.
	wantBuyer := new(big.Int).Sub(before, wei(10))
	if got := f.snc.BalanceOf(f.user); got.Cmp(wantBuyer) != 0 {
		t.Fatalf("buyer balance = %s, want %s", got, wantBuyer)
	}
	if got := f.snc.BalanceOf(f.house); got.Cmp(wei(10)) != 0 {
		t.Fatalf("house balance = %s, want %s", got, wei(10))
	}
	if got := len(f.engine.ViewAllOffer(f.tokenID)); got != 0 {
		t.Fatalf("book length = %d after cancel, want 0", got)
	}
}

func TestCancelOfferBuyerPicksOldestMatch(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	f.offer(t, f.other, 100, 10, 50_000)
	f.offer(t, f.user, 150, 5, 50_000)
	if err := f.engine.CancelOfferBuyer(f.user, f.tokenID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	book := f.engine.ViewAllOffer(f.tokenID)
	if len(book) != 2 {
		t.Fatalf("book length = %d, want 2", len(book))
	}
	if book[0].Buyer != f.other || book[1].Buyer != f.user {
		t.Fatalf("wrong offer removed")
	}
	if book[1].Price.Cmp(wei(150)) != 0 {
		t.Fatalf("surviving user offer price = %s, want %s", book[1].Price, wei(150))
	}
}

func TestCancelOfferBuyerWithoutOffer(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	if err := f.engine.CancelOfferBuyer(f.other, f.tokenID); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("err = %v, want ErrOfferNotFound", err)
	}
}

func TestCancelOfferSellerRefundsInFull(t *testing.T) {
	f := newFixture(t)
	before := f.snc.BalanceOf(f.user)
	off := f.offer(t, f.user, 200, 10, 50_000)
	if err := f.engine.CancelOfferSeller(f.tokenID, 0, f.owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.snc.BalanceOf(f.user); got.Cmp(before) != 0 {
		t.Fatalf("buyer balance = %s, want %s", got, before)
	}
	if got := f.snc.BalanceOf(off.Escrow); got.Sign() != 0 {
		t.Fatalf("escrow balance = %s, want 0", got)
	}
	if got := f.snc.BalanceOf(f.house); got.Sign() != 0 {
		t.Fatalf("house credited on seller cancel")
	}
	// The buyer may immediately re-offer.
	f.offer(t, f.user, 180, 10, 50_000)
	stored, ok := f.engine.OfferAt(f.tokenID, 0)
	if !ok || stored.Buyer != f.user {
		t.Fatalf("re-offer missing from book")
	}
}

func TestCancelOfferSellerChecksCaller(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	if err := f.engine.CancelOfferSeller(f.tokenID, 0, f.user); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("err = %v, want ErrNotSeller", err)
	}
	if err := f.engine.CancelOfferSeller(f.tokenID, 5, f.owner); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("out-of-range err = %v, want ErrOfferNotFound", err)
	}
}

func TestCancelAllRefundsEveryOffer(t *testing.T) {
	f := newFixture(t)
	userBefore := f.snc.BalanceOf(f.user)
	otherBefore := f.snc.BalanceOf(f.other)
	f.offer(t, f.user, 200, 10, 50_000)
	f.offer(t, f.other, 100, 10, 50_000)
	if err := f.engine.CancelAll(f.owner, f.tokenID); err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	if got := f.snc.BalanceOf(f.user); got.Cmp(userBefore) != 0 {
		t.Fatalf("user balance = %s, want %s", got, userBefore)
	}
	if got := f.snc.BalanceOf(f.other); got.Cmp(otherBefore) != 0 {
		t.Fatalf("other balance = %s, want %s", got, otherBefore)
	}
	if got := len(f.engine.ViewAllOffer(f.tokenID)); got != 0 {
		t.Fatalf("book length = %d after cancel all, want 0", got)
	}
	if got := f.nft.BalanceOf(f.owner, f.tokenID); got != 1 {
		t.Fatalf("owner NFT balance = %d, want 1", got)
	}
}

func TestCancelAllChecksCaller(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	userBefore := f.snc.BalanceOf(f.user)
	if err := f.engine.CancelAll(f.user, f.tokenID); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("err = %v, want ErrNotSeller", err)
	}
	if got := f.snc.BalanceOf(f.user); got.Cmp(userBefore) != 0 {
		t.Fatalf("funds moved on rejected cancel all")
	}
}

func TestCancelAllOnEmptyBook(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.user, 200, 10, 50_000)
	if err := f.engine.AcceptOffer(f.tokenID, 0, f.owner, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.engine.CancelAll(f.owner, f.tokenID); err != nil {
		t.Fatalf("cancel all on empty book: %v", err)
	}
}

func TestMonitorNftOfferExpiry(t *testing.T) {
	f := newFixture(t)
	now := int64(1_000)
	f.engine.SetNowFunc(func() int64 { return now })
	before := f.snc.BalanceOf(f.user)
	off := f.offer(t, f.user, 200, 10, 1_500)

	// Early sweep is a no-op.
	if err := f.engine.MonitorNftOffer(f.tokenID, 0); err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if got := f.snc.BalanceOf(off.Escrow); got.Cmp(wei(210)) != 0 {
		t.Fatalf("early sweep moved escrow funds")
	}

	now = 2_000
	if err := f.engine.MonitorNftOffer(f.tokenID, 0); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := f.snc.BalanceOf(f.user); got.Cmp(before) != 0 {
		t.Fatalf("buyer balance = %s, want %s", got, before)
	}
	if got := f.snc.BalanceOf(off.Escrow); got.Sign() != 0 {
		t.Fatalf("escrow balance = %s, want 0", got)
	}
	if got := len(f.engine.ViewAllOffer(f.tokenID)); got != 0 {
		t.Fatalf("book length = %d after sweep, want 0", got)
	}

	// Sweeping the vacated index again must not move funds.
	if err := f.engine.MonitorNftOffer(f.tokenID, 0); err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if got := f.snc.BalanceOf(f.user); got.Cmp(before) != 0 {
		t.Fatalf("repeat sweep duplicated the refund")
	}
}

func TestEscrowedOfferFundsAreInert(t *testing.T) {
	f := newFixture(t)
	off := f.offer(t, f.user, 200, 10, 50_000)
	if err := f.snc.Transfer(off.Escrow, f.user, big.NewInt(1)); !errors.Is(err, state.ErrEscrowLocked) {
		t.Fatalf("err = %v, want ErrEscrowLocked", err)
	}
	if err := f.snc.TransferFrom(ModuleAddress, off.Escrow, f.user, big.NewInt(1)); !errors.Is(err, state.ErrEscrowLocked) {
		t.Fatalf("transferFrom err = %v, want ErrEscrowLocked", err)
	}
}
