// Command walletd runs the wallet engine's Session & Confirmation
// Orchestrator behind an HTTP server: the agent request/response envelope
// for signing, preference reads/writes, manual confirmation resolve/cancel,
// and a per-request progress websocket.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/near-passkey/wallet-engine/cmd/walletd/httpapi"
	"github.com/near-passkey/wallet-engine/infrastructure/config"
	"github.com/near-passkey/wallet-engine/infrastructure/logging"
	"github.com/near-passkey/wallet-engine/infrastructure/metrics"
	"github.com/near-passkey/wallet-engine/infrastructure/ratelimit"
	"github.com/near-passkey/wallet-engine/internal/chain"
	"github.com/near-passkey/wallet-engine/internal/confirmation"
	"github.com/near-passkey/wallet-engine/internal/orchestrator"
	"github.com/near-passkey/wallet-engine/internal/orchestrator/noncestore"
	"github.com/near-passkey/wallet-engine/internal/relay"
	"github.com/near-passkey/wallet-engine/internal/signer"
	"github.com/near-passkey/wallet-engine/internal/store"
	"github.com/near-passkey/wallet-engine/internal/vrfagent"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New("walletd", cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.Init("walletd")

	rootCtx := context.Background()

	db, err := store.Open(rootCtx, cfg.Store.PostgresDSN)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	chainClient := chain.NewClient(cfg.Chain.RPCURL, nil)

	var mirror *noncestore.Mirror
	if cfg.Store.RedisURL != "" {
		mirror = noncestore.New(cfg.Store.RedisURL, "", 0)
		defer mirror.Close()
	}

	vrf := vrfagent.New(logger, m)
	manual := confirmation.NewManualAgent()

	var relayClient *relay.Client
	if cfg.Relay.RelayURL != "" {
		var tokenSigner *relay.TokenSigner
		if cfg.Relay.BearerSecret != "" {
			tokenSigner = relay.NewTokenSigner([]byte(cfg.Relay.BearerSecret), "walletd", 5*time.Minute)
		}
		relayClient = relay.NewClient(cfg.Relay.RelayURL, tokenSigner, nil)
	}

	orc := orchestrator.New(orchestrator.Config{
		Confirmer:             manual,
		Chain:                 chainClient,
		VRF:                   vrf,
		Logger:                logger,
		Metrics:               m,
		RateLimit:             ratelimit.DefaultConfig(),
		Mirror:                mirror,
		DefaultSignerBehavior: signer.SignerBehavior(cfg.Relay.DefaultBehavior),
	})
	if err := orc.StartReaper("*/5 * * * *"); err != nil {
		log.Fatalf("start vrf session reaper: %v", err)
	}
	defer orc.Stop()

	handler := httpapi.NewHandler(orc, manual, db, vrf, logger, m, relayClient)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8443"
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.WithFields(map[string]interface{}{"addr": addr}).Info("walletd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
