// Package main runs one sale-window sweep and exits. Useful for cron
// driven deployments and for manual catch-up after downtime.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proptoken-engine/internal/lifecycle"
	"proptoken-engine/internal/scheduler"
	"proptoken-engine/internal/settlement"
	"proptoken-engine/internal/settlement/stub"
	chstore "proptoken-engine/internal/storage/clickhouse"
	pgstore "proptoken-engine/internal/storage/postgres"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	settlementURL := flag.String("settlement-endpoint", os.Getenv("SETTLEMENT_ENDPOINT"), "Settlement gateway HTTP endpoint (empty = in-process stub)")
	settlementKey := flag.String("settlement-key", os.Getenv("SETTLEMENT_SIGNING_KEY"), "Hex-encoded ed25519 seed for intent signing")
	outputJSON := flag.Bool("json", false, "Output the sweep result as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[sweep] ", log.LstdFlags)

	if *postgresDSN == "" || *clickhouseDSN == "" {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	chConn, err := chstore.NewConn(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("connect to clickhouse: %v", err)
	}
	defer chConn.Close()

	assets := pgstore.NewAssetStore(pool)
	ledger := pgstore.NewLedgerStore(pool)
	events := chstore.NewEngineEventStore(chConn)

	var settlementClient settlement.Client
	if *settlementURL != "" {
		signer, err := settlement.NewSigner(*settlementKey)
		if err != nil {
			logger.Fatalf("invalid settlement signing key: %v", err)
		}
		settlementClient = settlement.NewHTTPClient(*settlementURL, signer)
	} else {
		settlementClient = stub.NewClient()
	}

	machine := lifecycle.NewMachine(assets, ledger, events, settlementClient, logger)
	sweeper := scheduler.NewSweeper(assets, machine, logger)

	result, err := sweeper.RunSweep(ctx, time.Now())
	if err != nil {
		logger.Fatalf("sweep: %v", err)
	}

	if *outputJSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("activated=%d ended=%d skipped=%d failed=%d\n", result.Activated, result.Ended, result.Skipped, result.Failed)
}
