// Package main is the entry point for the standalone fleetgate dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetgate/internal/config"
	"fleetgate/internal/dispatcher"
	"fleetgate/internal/events"
	"fleetgate/internal/fleet"
	"fleetgate/internal/logger"
	"fleetgate/internal/observability"
	"fleetgate/internal/providers"
	"fleetgate/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: fleetgate.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	appLog := logger.New(level)

	if cfg.SecureString == "" {
		log.Println("WARNING: SECURESTRING is not set, every request will be rejected with 412")
	}

	ctx := context.Background()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "fleetgate-dispatcher", cfg.OTELEndpoint)
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

	// Fleet backend
	provider, closeProvider, err := providers.Open(ctx, cfg, appLog)
	if err != nil {
		log.Fatalf("Failed to open %s fleet provider: %v", cfg.FleetProvider, err)
	}
	defer func() {
		if err := closeProvider(); err != nil {
			log.Printf("Failed to close fleet provider: %v", err)
		}
	}()

	opts := []dispatcher.Option{dispatcher.WithLogger(appLog)}
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL, cfg.NATSSubject, appLog)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer pub.Close()
		opts = append(opts, dispatcher.WithEventSink(pub))
		log.Printf("Publishing action events to %s", pub.Subject())
	}

	d := dispatcher.New(cfg.SecureString, provider, opts...)

	var probe fleet.Pinger
	if p, ok := provider.(fleet.Pinger); ok {
		probe = p
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := server.New(server.Config{
		Addr:              addr,
		RateLimit:         cfg.RateLimit,
		RateLimitBurst:    cfg.RateLimitBurst,
		TrustForwardedFor: cfg.TrustForwardedFor,
		Logger:            appLog,
	}, d, probe, metricsHandler)

	go func() {
		log.Printf("fleetgate dispatcher (%s) starting on %s", cfg.FleetProvider, addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down dispatcher...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		return
	}
	log.Println("Server exited properly")
}
