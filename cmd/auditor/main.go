// Package main is the entry point for the fleetgate auditor.
// The auditor consumes action events from NATS, records them in Postgres
// and serves the log over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fleetgate/internal/auditor"
	"fleetgate/internal/config"
	"fleetgate/internal/events"
	"fleetgate/internal/logger"
	"fleetgate/internal/observability"
	"fleetgate/internal/store/postgres"
)

// queueGroup lets several auditors share one event stream.
const queueGroup = "fleetgate-auditor"

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: fleetgate.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.NATSURL == "" {
		log.Fatal("NATS_URL is required")
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	appLog := logger.New(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if *migrateFlag {
		log.Println("Running database migrations...")
		version, err := postgres.Migrate(store.DB())
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Printf("Migrations completed successfully (version %d)", version)
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "fleetgate-auditor", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	sub, err := events.NewSubscriber(cfg.NATSURL, cfg.NATSSubject, queueGroup, appLog)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer sub.Close()

	agent := auditor.New(store, appLog)
	go func() {
		if err := agent.Run(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Auditor agent stopped: %v", err)
			cancel()
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.AuditPort)
	srv := auditor.NewServer(auditor.ServerConfig{
		Addr:   addr,
		Secret: cfg.SecureString,
		Logger: appLog,
	}, store, metricsHandler, store, sub)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		log.Printf("fleetgate auditor starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Println("Shutting down auditor...")
	cancel()

	<-agent.Done()
	<-serverDone
	log.Println("Auditor exited properly")
}
