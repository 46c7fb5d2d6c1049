// Package main runs the unified engine server:
// - HTTP API (lifecycle, trading, distribution)
// - Sale-window sweeper (scheduled)
// - Settlement callback listener (WebSocket)
// - Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"proptoken-engine/internal/api"
	"proptoken-engine/internal/distribution"
	"proptoken-engine/internal/lifecycle"
	"proptoken-engine/internal/scheduler"
	"proptoken-engine/internal/settlement"
	"proptoken-engine/internal/settlement/stub"
	"proptoken-engine/internal/storage"
	chstore "proptoken-engine/internal/storage/clickhouse"
	"proptoken-engine/internal/storage/memory"
	"proptoken-engine/internal/storage/migrations"
	pgstore "proptoken-engine/internal/storage/postgres"
	"proptoken-engine/internal/trading"
)

// allStores holds the storage implementations behind the services.
type allStores struct {
	assets storage.AssetStore
	ledger storage.LedgerStore
	dist   storage.DistributionStore
	events storage.EngineEventStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP API listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	settlementURL := flag.String("settlement-endpoint", os.Getenv("SETTLEMENT_ENDPOINT"), "Settlement gateway HTTP endpoint (empty = in-process stub)")
	settlementWS := flag.String("settlement-ws", os.Getenv("SETTLEMENT_WS_ENDPOINT"), "Settlement gateway WebSocket callback endpoint")
	settlementKey := flag.String("settlement-key", os.Getenv("SETTLEMENT_SIGNING_KEY"), "Hex-encoded ed25519 seed for intent signing")
	sweepInterval := flag.Duration("sweep-interval", 30*time.Second, "Sale-window sweep interval")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	if *settlementURL != "" && (*settlementWS == "" || *settlementKey == "") {
		logger.Fatal("--settlement-ws and --settlement-key are required with --settlement-endpoint")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Settlement client: real gateway when configured, otherwise the
	// in-process stub so the engine runs standalone.
	var settlementClient settlement.Client
	if *settlementURL != "" {
		signer, err := settlement.NewSigner(*settlementKey)
		if err != nil {
			logger.Fatalf("Invalid settlement signing key: %v", err)
		}
		settlementClient = settlement.NewHTTPClient(*settlementURL, signer)
	} else {
		logger.Println("No settlement endpoint configured, using in-process stub")
		settlementClient = stub.NewClient()
	}

	machine := lifecycle.NewMachine(stores.assets, stores.ledger, stores.events, settlementClient,
		log.New(os.Stdout, "[lifecycle] ", log.LstdFlags))
	tradingSvc := trading.NewService(stores.assets, stores.ledger, stores.events,
		log.New(os.Stdout, "[trading] ", log.LstdFlags))
	accounts := distribution.NewMemoryDirectory()
	engine := distribution.NewEngine(stores.assets, stores.ledger, stores.dist, stores.events, machine, settlementClient, accounts,
		log.New(os.Stdout, "[distribution] ", log.LstdFlags))
	sweeper := scheduler.NewSweeper(stores.assets, machine,
		log.New(os.Stdout, "[scheduler] ", log.LstdFlags))

	// Settlement callback listener, only against a real gateway.
	if *settlementWS != "" {
		listener, err := settlement.NewListener(ctx, *settlementWS, machine, engine, nil,
			log.New(os.Stdout, "[settlement] ", log.LstdFlags))
		if err != nil {
			logger.Fatalf("Failed to start settlement listener: %v", err)
		}
		defer listener.Close()
	}

	go sweeper.Run(ctx, *sweepInterval)

	apiServer := api.NewServer(machine, tradingSvc, engine, accounts, stores.assets, stores.events,
		log.New(os.Stdout, "[api] ", log.LstdFlags))
	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: apiServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("HTTP API listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, shutting down...", sig)
	case err := <-errCh:
		logger.Printf("HTTP server error: %v", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores creates the store set and runs migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		assets := memory.NewAssetStore()
		return &allStores{
			assets: assets,
			ledger: memory.NewLedgerStore(assets),
			dist:   memory.NewDistributionStore(),
			events: memory.NewEngineEventStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		assets: pgstore.NewAssetStore(pool),
		ledger: pgstore.NewLedgerStore(pool),
		dist:   pgstore.NewDistributionStore(pool),
		events: chstore.NewEngineEventStore(chConn),
	}
	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads .env into the environment without overriding
// variables that are already set.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
