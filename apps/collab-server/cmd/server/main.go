package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qamatch/collab/apps/collab-server/internal/api"
	"github.com/qamatch/collab/apps/collab-server/internal/api/websocket"
	"github.com/qamatch/collab/pkg/collaboration"
	"github.com/qamatch/collab/pkg/config"
	"github.com/qamatch/collab/pkg/observability"
	"github.com/qamatch/collab/pkg/storage"
)

var healthCheck = flag.Bool("health-check", false, "Query the local /health endpoint and exit")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *healthCheck {
		os.Exit(runHealthCheck(cfg.API.ListenAddress))
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(cfg *config.Config) error {
	obs := observability.NewProvider(cfg.Observability())
	defer func() { _ = obs.Shutdown() }()
	logger := obs.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	contents, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := contents.Close(); err != nil {
			logger.Warn("Failed to close content store", map[string]interface{}{"error": err.Error()})
		}
	}()

	store, err := collaboration.NewStore(collaboration.StoreConfig{
		HistoryLimit:       cfg.Collaboration.HistoryLimit,
		RetiredHistoryTail: cfg.Collaboration.RetiredHistoryTail,
		RetiredSessions:    cfg.Collaboration.RetiredSessions,
	})
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger.WithPrefix("hub"), obs.Metrics)
	coordinator, err := collaboration.NewCoordinator(collaboration.CoordinatorConfig{
		Store:       store,
		Broadcaster: hub,
		Contents:    contents,
		Logger:      logger.WithPrefix("collaboration"),
		Metrics:     obs.Metrics,
		StartSpan:   obs.StartSpan,
	})
	if err != nil {
		return err
	}

	var metricsHandler http.Handler
	if prom, ok := obs.Metrics.(*observability.PrometheusMetricsClient); ok {
		metricsHandler = prom.Handler()
	}

	wsServer := websocket.NewServer(coordinator, hub, cfg.WebSocket, logger, obs.Metrics)
	server, err := api.NewServer(cfg.API, api.Dependencies{
		Coordinator:    coordinator,
		WebSocket:      wsServer,
		Contents:       contents,
		MetricsHandler: metricsHandler,
		Logger:         logger,
		Metrics:        obs.Metrics,
	})
	if err != nil {
		return err
	}

	sweeper := collaboration.NewSweeper(
		coordinator,
		cfg.Collaboration.SweepInterval,
		cfg.Collaboration.MaxSessionAge,
		logger.WithPrefix("sweeper"),
	)

	logger.Info("Starting collaboration server", map[string]interface{}{
		"environment": cfg.Environment,
		"address":     cfg.API.ListenAddress,
		"storage":     cfg.Storage.Type,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully", nil)
	return nil
}

func runHealthCheck(listenAddress string) int {
	host := listenAddress
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", host))
	if err != nil {
		log.Printf("Health check failed: %v", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		log.Printf("Health check failed with status: %d", resp.StatusCode)
		return 1
	}
	return 0
}
