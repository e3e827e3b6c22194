// Package main is the AWS Lambda entry point for fleetgate. It sits behind an
// API Gateway proxy integration and reads its settings from the environment.
package main

import (
	"context"
	"log"

	"fleetgate/internal/config"
	"fleetgate/internal/dispatcher"
	"fleetgate/internal/events"
	"fleetgate/internal/lambdaadapter"
	"fleetgate/internal/logger"
	"fleetgate/internal/observability"
	"fleetgate/internal/providers"

	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	appLog := logger.New(level)

	ctx := context.Background()

	if _, err := observability.InitTracer(ctx, "fleetgate-lambda", cfg.OTELEndpoint); err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}

	// Clients are built once per execution environment and reused across invocations.
	provider, _, err := providers.Open(ctx, cfg, appLog)
	if err != nil {
		log.Fatalf("Failed to open %s fleet provider: %v", cfg.FleetProvider, err)
	}

	opts := []dispatcher.Option{dispatcher.WithLogger(appLog)}
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL, cfg.NATSSubject, appLog)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		opts = append(opts, dispatcher.WithEventSink(pub))
	}

	// Lambda freezes the environment between invocations, so buffered spans
	// are exported before each response is returned.
	handler := lambdaadapter.New(dispatcher.New(cfg.SecureString, provider, opts...), appLog,
		lambdaadapter.WithFlush(observability.ForceFlush))
	lambda.Start(handler.Handle)
}
