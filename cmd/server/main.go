/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the MIND reward engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load and validate the reward configuration (fatal if broken)
  3. Initialize the SQLite store
  4. Wire engine, guard, rebalancer, and transfer sink
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -db            SQLite database path (default: rewards.db, ":memory:" works)
  -config        Reward configuration YAML path (default: reward-config.yaml)
  -transfer-url  Payout service endpoint; empty logs transfers instead

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, drain active requests
  (30s timeout), close the database, exit.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mindleap/reward-engine/api"
	"github.com/mindleap/reward-engine/config"
	"github.com/mindleap/reward-engine/reward"
	"github.com/mindleap/reward-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "rewards.db", "SQLite database path")
	configPath := flag.String("config", "reward-config.yaml", "Reward configuration YAML path")
	transferURL := flag.String("transfer-url", "", "Token payout service URL (empty: log only)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// A missing or unparsable config must refuse to serve reward traffic.
	configStore := config.NewFileStore(*configPath)
	cfg, err := configStore.Load(context.Background())
	if err != nil {
		logger.Fatal("failed to load reward configuration", zap.Error(err))
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	var sink reward.TransferSink
	if *transferURL != "" {
		sink = reward.NewHTTPSink(*transferURL)
	} else {
		sink = reward.NewLogSink(logger)
	}

	metrics := reward.EngineMetrics()
	metrics.SetCoefficient(cfg.RebalanceCoefficient)

	guard := reward.NewGuard(store, nil, logger)
	engine := reward.NewEngine(store, configStore, guard, sink, logger, metrics)
	rebalancer := reward.NewRebalancer(configStore, store, logger, metrics)

	handler := api.NewHandler(engine, rebalancer, configStore, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("config", *configPath),
			zap.Float64("coefficient", cfg.RebalanceCoefficient))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
