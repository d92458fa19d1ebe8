// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/payattn/broker/pkg/api"
	"github.com/payattn/broker/pkg/assess"
	"github.com/payattn/broker/pkg/chain"
	"github.com/payattn/broker/pkg/escrow"
	"github.com/payattn/broker/pkg/evaluator"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/metric"
	"github.com/payattn/broker/pkg/proof"
	"github.com/payattn/broker/pkg/session"
	"github.com/payattn/broker/pkg/settlement"
	"github.com/payattn/broker/pkg/store"
)

var (
	port            = flag.String("port", "8080", "API server port")
	env             = flag.String("env", "development", "Environment (development/production)")
	logLevel        = flag.String("log-level", "info", "Log level")
	dbType          = flag.String("db", "badger", "Database backend (badger/memory)")
	dbPath          = flag.String("db-path", "./data/payattn", "Database path")
	programID       = flag.String("program-id", "6ZEekbTJZ6D6KrfSGDY2ByoWENWfe8RzhvpBS4KtPdZr", "Escrow program id")
	platformAddress = flag.String("platform-address", "", "Platform payout address")
	feeBuffer       = flag.Uint64("fee-buffer", 10_000, "Fee headroom required over escrow amount, minor units")
	maxDelay        = flag.Duration("max-settle-delay", 5*time.Second, "Upper bound on the random delay between settlement shares")
	llmURL          = flag.String("llm-url", "", "Completion service URL (empty: fallback only)")
	llmKey          = flag.String("llm-key", "", "Completion service API key")
	rpcTimeout      = flag.Duration("rpc-timeout", 30*time.Second, "Timeout for chain and verifier calls")
	retryInterval   = flag.Duration("retry-interval", 5*time.Minute, "Settlement retry job interval")
	retryCooldown   = flag.Duration("retry-cooldown", 10*time.Minute, "Minimum age before a queued share is retried")
	retryAttempts   = flag.Int("retry-attempts", 5, "Attempt cap per queued share")
	retryBatch      = flag.Int("retry-batch", 25, "Max queued shares per retry pass")
	apiSecret       = flag.String("api-secret", "", "API auth secret (empty: open API, demo only)")
	authTTL         = flag.Duration("auth-ttl", time.Hour, "Derived API token cache TTL")
)

func main() {
	flag.Parse()

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	metrics, err := metric.NewMetrics()
	if err != nil {
		logger.Fatal("metrics init failed", log.Error(err))
	}

	db, err := store.New(*dbType, *dbPath)
	if err != nil {
		logger.Fatal("database open failed", log.Error(err))
	}
	defer db.Close()

	offers := store.NewOfferStore(db)
	creatives := store.NewCreativeStore(db)
	queue := store.NewQueueStore(db)
	recorder := session.NewRecorder(db, logger)

	// The daemon ships with the in-memory ledger and a fallback-only
	// evaluator unless real backends are configured. The pipeline treats
	// both as opaque either way.
	ledger := chain.NewMemoryLedger()
	validator := proof.NewValidator(acceptAllVerifier{}, *rpcTimeout, logger)

	var completion evaluator.CompletionClient
	if c := evaluator.NewHTTPCompletionClient(*llmURL, *llmKey, &http.Client{Timeout: *rpcTimeout}); c != nil {
		completion = c
	}
	eval := evaluator.New(completion, *rpcTimeout, logger)

	funder := escrow.NewFunder(ledger, *programID, *feeBuffer, *rpcTimeout, metrics, logger)
	engine := settlement.NewEngine(ledger, offers, queue, *programID, *platformAddress, *maxDelay, metrics, logger)
	retry := settlement.NewRetryQueue(ledger, offers, queue, *programID, *retryCooldown, *retryAttempts, *retryBatch, metrics, logger)
	pipeline := assess.New(offers, creatives, validator, eval, funder, engine, recorder, *programID, *platformAddress, metrics, logger)

	ctx, stop := context.WithCancel(context.Background())
	go retry.Run(ctx, *retryInterval)

	auth := api.NewAuthenticator([]byte(*apiSecret), *authTTL)
	if auth == nil {
		logger.Warn("api auth disabled, all endpoints are open")
	}
	server := api.NewServer(pipeline, offers, creatives, recorder, retry, auth, metrics, logger)
	srv := &http.Server{
		Addr:    ":" + *port,
		Handler: server.Router(*env == "production"),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", log.Error(err))
		}
	}()

	logger.Info("payattn broker started",
		log.String("port", *port),
		log.String("env", *env),
		log.String("db", *dbType))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", log.Error(err))
	}
}

// acceptAllVerifier stands in when no external verification service is
// wired. It verifies nothing; structurally complete proofs pass.
type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(ctx context.Context, circuitName string, proofData json.RawMessage, publicSignals []string) (bool, string, error) {
	if circuitName == "" || len(proofData) == 0 {
		return false, "missing circuit name or proof data", nil
	}
	return true, "structural check only", nil
}
