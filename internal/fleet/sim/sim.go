// Package sim is a simulated fleet persisted in Badger. Start and stop are
// accepted immediately and converge in the background after a boot delay,
// which mirrors how a real control plane behaves.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fleetgate/internal/fleet"

	"github.com/google/uuid"
)

// Provider implements fleet.Provider over a local Badger database.
type Provider struct {
	store     *store
	bootDelay time.Duration

	// operations mutex per instance id
	opMu sync.Map

	// Operations hold life for reading; Close takes it for writing, so
	// it waits for them and no wg.Add can follow its wg.Wait.
	life   sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	done   chan struct{}
}

var errClosed = errors.New("simulator closed")

// Open opens (or creates) the simulator database at path.
func Open(path string, bootDelay time.Duration) (*Provider, error) {
	s, err := openStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open simulator store: %w", err)
	}
	return &Provider{
		store:     s,
		bootDelay: bootDelay,
		done:      make(chan struct{}),
	}, nil
}

// Close abandons pending transitions and closes the database. Operations
// after Close fail as unavailable.
func (p *Provider) Close() error {
	p.life.Lock()
	if p.closed {
		p.life.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.life.Unlock()

	p.wg.Wait()
	return p.store.close()
}

// enter registers an in-flight operation. It reports false after Close;
// otherwise the caller must call leave.
func (p *Provider) enter() bool {
	p.life.RLock()
	if p.closed {
		p.life.RUnlock()
		return false
	}
	return true
}

func (p *Provider) leave() {
	p.life.RUnlock()
}

// Seed creates one stopped instance per name when the fleet is empty.
// It returns the number of instances created.
func (p *Provider) Seed(ctx context.Context, names ...string) (int, error) {
	existing, err := p.store.list(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for _, name := range names {
		if _, err := p.Create(ctx, name); err != nil {
			return 0, err
		}
	}
	return len(names), nil
}

// Create adds a stopped instance with an EC2-style identifier.
func (p *Provider) Create(ctx context.Context, name string) (fleet.Instance, error) {
	if !p.enter() {
		return fleet.Instance{}, errClosed
	}
	defer p.leave()
	id := "i-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:17]
	now := time.Now().UTC()
	m := &machine{
		Instance:  fleet.Instance{ID: id, Name: name, State: fleet.StateStopped},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.save(ctx, m); err != nil {
		return fleet.Instance{}, fmt.Errorf("save: %w", err)
	}
	return m.Instance, nil
}

// Terminate marks an instance terminated. Terminated instances stay listed
// but can no longer change state.
func (p *Provider) Terminate(ctx context.Context, id string) error {
	if !p.enter() {
		return fleet.NewError(fleet.KindUnavailable, "Terminate", "", errClosed)
	}
	defer p.leave()

	mtx := p.acquireOpLock(id)
	defer mtx.Unlock()

	m, err := p.load(ctx, "Terminate", id)
	if err != nil {
		return err
	}
	m.IPAddress = ""
	return p.update(ctx, m, fleet.StateTerminated)
}

// ListInstances returns every simulated instance.
func (p *Provider) ListInstances(ctx context.Context) ([]fleet.Instance, error) {
	if !p.enter() {
		return nil, fleet.NewError(fleet.KindUnavailable, "ListInstances", "", errClosed)
	}
	defer p.leave()
	machines, err := p.store.list(ctx)
	if err != nil {
		return nil, fleet.NewError(fleet.KindUnavailable, "ListInstances", "", err)
	}
	out := make([]fleet.Instance, 0, len(machines))
	for _, m := range machines {
		out = append(out, m.Instance)
	}
	return out, nil
}

// StartInstance moves a stopped instance to pending and schedules running.
func (p *Provider) StartInstance(ctx context.Context, id string) error {
	if !p.enter() {
		return fleet.NewError(fleet.KindUnavailable, "StartInstance", "", errClosed)
	}
	defer p.leave()

	mtx := p.acquireOpLock(id)
	defer mtx.Unlock()

	m, err := p.load(ctx, "StartInstance", id)
	if err != nil {
		return err
	}

	switch m.State {
	case fleet.StateRunning, fleet.StatePending:
		return nil
	case fleet.StateStopped:
	default:
		return fleet.NewError(fleet.KindInvalidState, "StartInstance", "IncorrectInstanceState",
			fmt.Errorf("instance %s is %s", id, m.State))
	}

	if err := p.update(ctx, m, fleet.StatePending); err != nil {
		return err
	}
	p.schedule(id, fleet.StatePending, fleet.StateRunning)
	return nil
}

// StopInstance moves a running instance to stopping and schedules stopped.
func (p *Provider) StopInstance(ctx context.Context, id string) error {
	if !p.enter() {
		return fleet.NewError(fleet.KindUnavailable, "StopInstance", "", errClosed)
	}
	defer p.leave()

	mtx := p.acquireOpLock(id)
	defer mtx.Unlock()

	m, err := p.load(ctx, "StopInstance", id)
	if err != nil {
		return err
	}

	switch m.State {
	case fleet.StateStopped, fleet.StateStopping:
		return nil
	case fleet.StateRunning, fleet.StatePending:
	default:
		return fleet.NewError(fleet.KindInvalidState, "StopInstance", "IncorrectInstanceState",
			fmt.Errorf("instance %s is %s", id, m.State))
	}

	if err := p.update(ctx, m, fleet.StateStopping); err != nil {
		return err
	}
	p.schedule(id, fleet.StateStopping, fleet.StateStopped)
	return nil
}

// Ping reports whether the database is open.
func (p *Provider) Ping(ctx context.Context) error {
	if !p.enter() {
		return fleet.NewError(fleet.KindUnavailable, "Ping", "", errClosed)
	}
	defer p.leave()
	if p.store.db.IsClosed() {
		return fleet.NewError(fleet.KindUnavailable, "Ping", "", errClosed)
	}
	return nil
}

func (p *Provider) load(ctx context.Context, op, id string) (*machine, error) {
	m, err := p.store.get(ctx, id)
	if errors.Is(err, errNotFound) {
		return nil, fleet.NewError(fleet.KindNotFound, op, "InvalidInstanceID.NotFound", fleet.ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fleet.NewError(fleet.KindUnavailable, op, "", err)
	}
	return m, nil
}

func (p *Provider) update(ctx context.Context, m *machine, state fleet.State) error {
	m.State = state
	m.Version++
	m.UpdatedAt = time.Now().UTC()
	if err := p.store.save(ctx, m); err != nil {
		return fleet.NewError(fleet.KindUnavailable, "save", "", err)
	}
	return nil
}

// schedule completes a transition after the boot delay unless another
// operation moved the instance away from the expected state in between.
func (p *Provider) schedule(id string, from, to fleet.State) {
	// Callers hold life, so Close cannot be waiting on wg yet.
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		timer := time.NewTimer(p.bootDelay)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		}

		if !p.enter() {
			return
		}
		defer p.leave()

		mtx := p.acquireOpLock(id)
		defer mtx.Unlock()

		ctx := context.Background()
		m, err := p.store.get(ctx, id)
		if err != nil || m.State != from {
			return
		}
		if to == fleet.StateRunning {
			m.IPAddress = simulatedIP(id)
		} else {
			m.IPAddress = ""
		}
		_ = p.update(ctx, m, to)
	}()
}

// acquireOpLock ensures only one op per instance at a time.
func (p *Provider) acquireOpLock(id string) *sync.Mutex {
	v, _ := p.opMu.LoadOrStore(id, &sync.Mutex{})
	mtx := v.(*sync.Mutex)
	mtx.Lock()
	return mtx
}

func simulatedIP(id string) string {
	var sum uint32
	for _, b := range []byte(id) {
		sum = sum*31 + uint32(b)
	}
	return fmt.Sprintf("10.%d.%d.%d", (sum>>16)&0xff, (sum>>8)&0xff, sum&0xff|1)
}
