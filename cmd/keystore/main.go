// Package main launches the keystore service: it owns the metadata store,
// opens one durable shard per configured shard count, wires the router and
// the 2PC coordinator on top of them, and serves a health endpoint.
//
// Configuration is read from environment variables so the binary runs
// unmodified in a container:
//   - SHARD_COUNT: number of durable shard files (default 4)
//   - DATA_DIR: directory holding metadata.db, coordinator.db, and one
//     shard_<n>.db file per shard (default ./data)
//   - PORT: HTTP listen port for the health endpoint (default 8080)
//   - ENVIRONMENT: "production" selects JSON structured logging;
//     anything else selects development (console) logging
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/keystore/internal/coordinator"
	"github.com/dreamware/keystore/internal/metadata"
	"github.com/dreamware/keystore/internal/router"
	"github.com/dreamware/keystore/internal/shard"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "keystore",
	Short: "keystore is a sharded, transactional key-value store",
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the keystore server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	shardCount := envInt("SHARD_COUNT", 4)
	dataDir := envString("DATA_DIR", "./data")
	port := envInt("PORT", 8080)

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	meta, err := metadata.Open(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer meta.Close()

	if err := meta.EnsureShardCount(shardCount); err != nil {
		return fmt.Errorf("shard count mismatch for %s: %w", dataDir, err)
	}

	shards := make([]*shard.Shard, shardCount)
	for i := 0; i < shardCount; i++ {
		path := filepath.Join(dataDir, fmt.Sprintf("shard_%d.db", i))
		sh, err := shard.Open(i, path, logger.Named("shard").With(zap.Int("shard", i)))
		if err != nil {
			return fmt.Errorf("failed to open shard %d: %w", i, err)
		}
		defer sh.Close()
		shards[i] = sh
	}
	shardLookup := func(index int) *shard.Shard { return shards[index] }

	ledger, err := coordinator.OpenLedger(filepath.Join(dataDir, "coordinator.db"))
	if err != nil {
		return fmt.Errorf("failed to open coordinator ledger: %w", err)
	}
	defer ledger.Close()

	coord := coordinator.New(shardCount, shardLookup, ledger, logger.Named("coordinator"))
	// The router is the complete request surface (table ops, item ops,
	// scan/query, batch, transactions). Wiring it onto a wire protocol
	// (a DynamoDB-JSON HTTP front end) is out of scope here, so this
	// launcher only ever serves /healthz; rt is held rather than
	// discarded so that wiring one in later is a one-line change.
	rt := router.New(meta, shardLookup, shardCount, coord)
	_ = rt

	sweeper := coordinator.NewCleanupSweeper(coord)
	go sweeper.Start()
	defer sweeper.Stop()

	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("keystore listening", zap.Int("port", port), zap.Int("shard_count", shardCount), zap.String("data_dir", dataDir))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("keystore stopped")
	return nil
}

func newLogger() (*zap.Logger, error) {
	if envString("ENVIRONMENT", "development") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func envString(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
