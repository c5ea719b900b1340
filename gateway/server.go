package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sncmarket/core/state"
	"sncmarket/native/fees"
	"sncmarket/native/market"
	"sncmarket/native/offer"
	"sncmarket/observability"
)

const callerHeader = "X-Snc-Caller"

// Server exposes the marketplace engines over HTTP JSON. Engine-level
// authorization (seller-only operations, the CHANGE_FEE admin) is enforced by
// the engines themselves against the caller address supplied in each request;
// the admin routes additionally require a signed bearer token.
type Server struct {
	market  *market.Engine
	offers  *offer.Engine
	ledger  *state.Ledger
	policy  *fees.Policy
	auth    *Authenticator
	log     *slog.Logger
	metrics *observability.MarketplaceMetrics
	persist func() error
	router  chi.Router
}

// NewServer wires the engines into a routed handler. persist, when non-nil,
// is invoked after every state-changing call to flush a snapshot.
func NewServer(marketEngine *market.Engine, offerEngine *offer.Engine, ledger *state.Ledger, policy *fees.Policy, auth *Authenticator, log *slog.Logger, persist func() error) *Server {
	s := &Server{
		market:  marketEngine,
		offers:  offerEngine,
		ledger:  ledger,
		policy:  policy,
		auth:    auth,
		log:     log,
		metrics: observability.Metrics(),
		persist: persist,
	}
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/balances/{addr}", s.handleBalance)
	r.Get("/quote", s.handleQuote)
	r.Route("/market", func(r chi.Router) {
		r.Post("/sales", s.handlePutForSale)
		r.Get("/sales/{tokenId}", s.handleGetSale)
		r.Post("/sales/{tokenId}/buy", s.handleBuy)
		r.Post("/sales/{tokenId}/price", s.handleUpdatePrice)
		r.Post("/sales/{tokenId}/duration", s.handleUpdateDuration)
		r.Post("/sales/{tokenId}/cancel", s.handleCancelSale)
		r.Post("/sales/{tokenId}/sweep", s.handleSweepSale)
	})
	r.Route("/offers", func(r chi.Router) {
		r.Post("/", s.handleMakeOffer)
		r.Get("/{tokenId}", s.handleViewOffers)
		r.Post("/{tokenId}/accept", s.handleAcceptOffer)
		r.Post("/{tokenId}/cancel-buyer", s.handleCancelOfferBuyer)
		r.Post("/{tokenId}/cancel-seller", s.handleCancelOfferSeller)
		r.Post("/{tokenId}/cancel-all", s.handleCancelAll)
		r.Post("/{tokenId}/sweep", s.handleSweepOffer)
	})
	r.Route("/admin/fees", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Post("/buyer", s.handleSetBuyerFee)
		r.Post("/seller", s.handleSetSellerFee)
		r.Post("/address", s.handleChangeFeeAddress)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		started := time.Now()
		next.ServeHTTP(w, r)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.URL.Path, r.Method, started)
		}
	})
}

func (s *Server) flush() {
	if s.persist == nil {
		return
	}
	if err := s.persist(); err != nil && s.log != nil {
		s.log.Error("snapshot flush failed", "err", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, market.ErrNotSeller),
		errors.Is(err, offer.ErrNotSeller),
		errors.Is(err, fees.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, market.ErrSaleNotFound),
		errors.Is(err, offer.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrSaleCompleted),
		errors.Is(err, market.ErrAlreadyListed),
		errors.Is(err, market.ErrSaleExpired):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func parseAddress(s string) ([20]byte, error) {
	if !common.IsHexAddress(s) {
		return [20]byte{}, fmt.Errorf("gateway: malformed address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("gateway: malformed amount %q", s)
	}
	return v, nil
}

func tokenIDParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "tokenId"), 10, 64)
}

type saleView struct {
	TokenID  uint64 `json:"tokenId"`
	Seller   string `json:"seller"`
	Price    string `json:"price"`
	Duration int64  `json:"duration"`
	Floor    string `json:"floorPrice"`
	Escrow   string `json:"escrow"`
	Complete bool   `json:"complete"`
}

func viewSale(sale *market.Sale) saleView {
	return saleView{
		TokenID:  sale.TokenID,
		Seller:   common.Address(sale.Seller).Hex(),
		Price:    sale.Price.String(),
		Duration: sale.Duration,
		Floor:    sale.FloorPrice.String(),
		Escrow:   common.Address(sale.Escrow).Hex(),
		Complete: sale.Complete,
	}
}

type offerView struct {
	TokenID  uint64 `json:"tokenId"`
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
	Price    string `json:"price"`
	Fee      string `json:"fee"`
	Duration int64  `json:"duration"`
	Escrow   string `json:"escrow"`
}

func viewOffer(off *offer.Offer) offerView {
	return offerView{
		TokenID:  off.TokenID,
		Buyer:    common.Address(off.Buyer).Hex(),
		Seller:   common.Address(off.Seller).Hex(),
		Price:    off.Price.String(),
		Fee:      off.Fee.String(),
		Duration: off.Duration,
		Escrow:   common.Address(off.Escrow).Hex(),
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acc := s.ledger.GetAccount(addr)
	holdings := make(map[string]uint64, len(acc.Holdings))
	for id, qty := range acc.Holdings {
		holdings[strconv.FormatUint(id, 10)] = qty
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  common.Address(addr).Hex(),
		"balance":  acc.BalanceSNC.String(),
		"holdings": holdings,
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	price, err := parseAmount(r.URL.Query().Get("price"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"price":     price.String(),
		"buyerFee":  s.policy.BuyerCut(price).String(),
		"sellerFee": s.policy.SellerCut(price).String(),
	})
}

type putForSaleRequest struct {
	TokenContract string `json:"tokenContract"`
	TokenID       uint64 `json:"tokenId"`
	Seller        string `json:"seller"`
	Price         string `json:"price"`
	Expiry        int64  `json:"expiry"`
	FloorPrice    string `json:"floorPrice"`
}

func (s *Server) handlePutForSale(w http.ResponseWriter, r *http.Request) {
	var req putForSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	contract, err := parseAddress(req.TokenContract)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	floor, err := parseAmount(req.FloorPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := s.market.PutForSale(contract, req.TokenID, seller, price, req.Expiry, floor)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.flush()
	writeJSON(w, http.StatusCreated, viewSale(sale))
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, ok := s.market.Sale(tokenID)
	if !ok {
		writeError(w, http.StatusNotFound, market.ErrSaleNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewSale(sale))
}

type buyRequest struct {
	Buyer        string `json:"buyer"`
	OfferedPrice string `json:"offeredPrice"`
	FeeAmount    string `json:"feeAmount"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := parseAmount(req.OfferedPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, err := parseAmount(req.FeeAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.market.BuyNft(buyer, tokenID, price, fee); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveSettlement("market", "sold")
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

type updateRequest struct {
	Caller string `json:"caller"`
	Price  string `json:"price,omitempty"`
	Expiry int64  `json:"expiry,omitempty"`
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.market.UpdateSalePrice(caller, price, tokenID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleUpdateDuration(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.market.UpdateDuration(caller, req.Expiry, tokenID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.market.CancelSale(caller, tokenID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveRefund("market", "cancel")
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSweepSale(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.market.MonitorNftSale(tokenID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveSweep("market", "done")
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}

type makeOfferRequest struct {
	TokenID uint64 `json:"tokenId"`
	Price   string `json:"price"`
	Expiry  int64  `json:"expiry"`
	Buyer   string `json:"buyer"`
	Seller  string `json:"seller"`
	Fee     string `json:"fee"`
}

func (s *Server) handleMakeOffer(w http.ResponseWriter, r *http.Request) {
	var req makeOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, err := parseAmount(req.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	off, err := s.offers.MakeOffer(req.TokenID, price, req.Expiry, buyer, seller, fee)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.flush()
	writeJSON(w, http.StatusCreated, viewOffer(off))
}

func (s *Server) handleViewOffers(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	book := s.offers.ViewAllOffer(tokenID)
	views := make([]offerView, 0, len(book))
	for _, off := range book {
		views = append(views, viewOffer(off))
	}
	writeJSON(w, http.StatusOK, views)
}

type acceptRequest struct {
	Index       int    `json:"index"`
	Seller      string `json:"seller"`
	TransferNow bool   `json:"transferNow"`
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.offers.AcceptOffer(tokenID, req.Index, seller, req.TransferNow); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveSettlement("offer", "accepted")
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type cancelBuyerRequest struct {
	Buyer string `json:"buyer"`
}

func (s *Server) handleCancelOfferBuyer(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req cancelBuyerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.offers.CancelOfferBuyer(buyer, tokenID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveRefund("offer", "buyer-cancel")
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type cancelSellerRequest struct {
	Index  int    `json:"index"`
	Seller string `json:"seller"`
}

func (s *Server) handleCancelOfferSeller(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req cancelSellerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.offers.CancelOfferSeller(tokenID, req.Index, seller); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveRefund("offer", "seller-cancel")
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.offers.CancelAll(caller, tokenID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveRefund("offer", "cancel-all")
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type sweepOfferRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleSweepOffer(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req sweepOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.offers.MonitorNftOffer(tokenID, req.Index); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.metrics.ObserveSweep("offer", "done")
	s.flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}

type feeRequest struct {
	Percent int64  `json:"percent"`
	Address string `json:"address,omitempty"`
}

func (s *Server) adminCaller(r *http.Request) ([20]byte, error) {
	return parseAddress(r.Header.Get(callerHeader))
}

func (s *Server) handleSetBuyerFee(w http.ResponseWriter, r *http.Request) {
	caller, err := s.adminCaller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.policy.SetBuyerFee(caller, req.Percent); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"buyerFeePercent": s.policy.BuyerFeePercent()})
}

func (s *Server) handleSetSellerFee(w http.ResponseWriter, r *http.Request) {
	caller, err := s.adminCaller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.policy.SetSellerFee(caller, req.Percent); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sellerFeePercent": s.policy.SellerFeePercent()})
}

func (s *Server) handleChangeFeeAddress(w http.ResponseWriter, r *http.Request) {
	caller, err := s.adminCaller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.policy.ChangeFeeAddress(caller, req.Address); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"feeAdmin": common.Address(s.policy.FeeAdmin()).Hex(),
	})
}
