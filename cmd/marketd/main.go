package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sncmarket/config"
	"sncmarket/core/state"
	"sncmarket/core/types"
	"sncmarket/gateway"
	"sncmarket/native/fees"
	"sncmarket/native/market"
	"sncmarket/native/offer"
	"sncmarket/observability/logging"
	"sncmarket/storage"
	"sncmarket/token"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "marketd.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("marketd", cfg.Env, cfg.LogFile)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "marketplace"))
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	snap, err := storage.LoadSnapshot(db)
	if err != nil {
		log.Fatalf("load snapshot: %v", err)
	}

	ledger := state.NewLedger()
	for encoded, acc := range snap.Accounts {
		addr, err := storage.DecodeAddress(encoded)
		if err != nil {
			log.Fatalf("decode snapshot account %q: %v", encoded, err)
		}
		ledger.PutAccount(addr, acc)
	}

	snc, err := token.NewSNC(ledger, cfg.House(), nil)
	if err != nil {
		log.Fatalf("init settlement token: %v", err)
	}
	nft := token.NewNFT(ledger, cfg.House())
	for _, acc := range snap.Accounts {
		for id := range acc.Holdings {
			nft.Advance(id)
		}
	}

	policy := fees.NewPolicy(cfg.House(), cfg.FeeAdmin(), cfg.BuyerFeePercent, cfg.SellerFeePercent)
	marketEngine := market.NewEngine(ledger, snc, nft, policy)
	offerEngine := offer.NewEngine(ledger, snc, nft, policy)
	for _, sale := range snap.Sales {
		marketEngine.Restore(sale)
	}
	for _, book := range snap.Books {
		for _, off := range book {
			offerEngine.Restore(off)
		}
	}

	persist := func() error {
		image := &storage.Snapshot{
			Accounts: map[string]*types.Account{},
			Sales:    marketEngine.Sales(),
			Books:    offerEngine.Books(),
		}
		for addr, acc := range ledger.Accounts() {
			image.Accounts[storage.EncodeAddress(addr)] = acc
		}
		return storage.SaveSnapshot(db, image)
	}

	auth := gateway.NewAuthenticator(cfg.JWTSecret)
	server := gateway.NewServer(marketEngine, offerEngine, ledger, policy, auth, logger, persist)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server,
	}
	go func() {
		logger.Info("marketd listening", "addr", cfg.ListenAddress, "network", cfg.NetworkName)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down marketd")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	if err := persist(); err != nil {
		logger.Error("final snapshot", "err", err)
	}
}
