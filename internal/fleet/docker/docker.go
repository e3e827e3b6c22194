// Package docker implements fleet.Provider on a local Docker engine,
// treating each container as an instance.
package docker

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"fleetgate/internal/fleet"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// API is the part of the Docker client the provider uses.
type API interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	Ping(ctx context.Context) (types.Ping, error)
}

// Provider lists and controls containers, optionally scoped by a label filter
// such as "fleet=demo".
type Provider struct {
	client      API
	label       string
	stopTimeout time.Duration
}

// New creates a provider from the standard environment (DOCKER_HOST, etc.).
func New(label string, stopTimeout time.Duration) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return NewWithClient(cli, label, stopTimeout), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(cli API, label string, stopTimeout time.Duration) *Provider {
	return &Provider{client: cli, label: label, stopTimeout: stopTimeout}
}

// Close releases the underlying client when it holds connections.
func (p *Provider) Close() error {
	if c, ok := p.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// stopSeconds converts the grace timeout to the engine's whole seconds. A
// sub-second timeout becomes 1 rather than an immediate kill.
func stopSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// ListInstances lists all containers, stopped ones included.
func (p *Provider) ListInstances(ctx context.Context) ([]fleet.Instance, error) {
	opts := container.ListOptions{All: true}
	if p.label != "" {
		opts.Filters = filters.NewArgs(filters.Arg("label", p.label))
	}

	containers, err := p.client.ContainerList(ctx, opts)
	if err != nil {
		return nil, classify("ContainerList", err)
	}

	out := make([]fleet.Instance, 0, len(containers))
	for _, c := range containers {
		out = append(out, fleet.Instance{
			ID:        c.ID,
			Name:      containerName(c.Names),
			State:     mapState(string(c.State)),
			IPAddress: firstIP(c),
		})
	}
	return out, nil
}

// StartInstance starts a container. Starting a running container is a no-op.
func (p *Provider) StartInstance(ctx context.Context, id string) error {
	if err := p.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return classify("ContainerStart", err)
	}
	return nil
}

// StopInstance sends the stop signal and lets the engine kill the container
// after the grace timeout, rounded up to whole seconds.
func (p *Provider) StopInstance(ctx context.Context, id string) error {
	timeout := stopSeconds(p.stopTimeout)
	if err := p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return classify("ContainerStop", err)
	}
	return nil
}

// Ping checks the engine is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if _, err := p.client.Ping(ctx); err != nil {
		return classify("Ping", err)
	}
	return nil
}

func mapState(s string) fleet.State {
	switch s {
	case "created", "restarting":
		return fleet.StatePending
	case "running":
		return fleet.StateRunning
	case "paused", "exited":
		return fleet.StateStopped
	case "removing":
		return fleet.StateShuttingDown
	case "dead":
		return fleet.StateTerminated
	default:
		return fleet.State(s)
	}
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func firstIP(c container.Summary) string {
	if c.NetworkSettings == nil {
		return ""
	}
	for _, ep := range c.NetworkSettings.Networks {
		if ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}

func classify(op string, err error) error {
	kind := fleet.KindUnavailable
	code := ""
	switch {
	case errdefs.IsNotFound(err):
		kind, code = fleet.KindNotFound, "NotFound"
	case errdefs.IsConflict(err):
		kind, code = fleet.KindInvalidState, "Conflict"
	case errdefs.IsForbidden(err), errdefs.IsUnauthorized(err):
		kind, code = fleet.KindPermission, "Forbidden"
	}
	return fleet.NewError(kind, op, code, err)
}
