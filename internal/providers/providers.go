// Package providers builds the configured fleet backend.
package providers

import (
	"context"
	"fmt"
	"log/slog"

	"fleetgate/internal/config"
	"fleetgate/internal/fleet"
	"fleetgate/internal/fleet/docker"
	"fleetgate/internal/fleet/ec2"
	"fleetgate/internal/fleet/kube"
	"fleetgate/internal/fleet/sim"
)

// Open returns the provider selected by cfg.FleetProvider and a function
// releasing its resources.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (fleet.Provider, func() error, error) {
	noop := func() error { return nil }

	switch cfg.FleetProvider {
	case config.ProviderEC2:
		p, err := ec2.New(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, nil, err
		}
		return p, noop, nil

	case config.ProviderDocker:
		p, err := docker.New(cfg.DockerLabel, cfg.DockerStopTimeout)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil

	case config.ProviderKubernetes:
		p, err := kube.New(cfg.KubeNamespace, cfg.KubeSelector, cfg.KubeConfig)
		if err != nil {
			return nil, nil, err
		}
		return p, noop, nil

	case config.ProviderSim:
		p, err := sim.Open(cfg.SimDBPath, cfg.SimBootDelay)
		if err != nil {
			return nil, nil, err
		}
		n, err := p.Seed(ctx, cfg.SimSeed...)
		if err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("failed to seed simulator: %w", err)
		}
		if n > 0 {
			log.Info("seeded simulated fleet", "instances", n, "path", cfg.SimDBPath)
		}
		return p, p.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown fleet provider %q", cfg.FleetProvider)
	}
}
