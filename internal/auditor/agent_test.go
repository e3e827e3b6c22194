package auditor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleetgate/internal/events"
	"fleetgate/internal/store"
	"fleetgate/pkg/api"
)

// MockStore implements store.ActionStore for testing.
type MockStore struct {
	mu sync.Mutex

	RecordErr error
	ListFunc  func(ctx context.Context, filter store.ActionFilter) ([]store.ActionRecord, error)
	PingErr   error

	Recorded []store.ActionRecord
}

func (m *MockStore) RecordAction(ctx context.Context, rec *store.ActionRecord) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Recorded = append(m.Recorded, *rec)
	return nil
}

func (m *MockStore) ListActions(ctx context.Context, filter store.ActionFilter) ([]store.ActionRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// MockSubscription replays Events and then blocks until cancelled.
type MockSubscription struct {
	Events []api.ActionEvent
}

func (m *MockSubscription) Run(ctx context.Context, handle events.HandlerFunc) error {
	for _, ev := range m.Events {
		_ = handle(ctx, ev)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRecord_StoresEvent(t *testing.T) {
	ms := &MockStore{}
	agent := New(ms, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agent.now = func() time.Time { return fixed }

	ev := api.ActionEvent{
		InstanceID: " i-0abc ",
		Action:     api.ActionStart,
		RequestID:  "req-1",
		Time:       fixed.Add(-time.Second),
	}
	if err := agent.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if len(ms.Recorded) != 1 {
		t.Fatalf("expected 1 record, got %d", len(ms.Recorded))
	}
	rec := ms.Recorded[0]
	if rec.InstanceID != "i-0abc" || rec.Action != api.ActionStart || rec.RequestID != "req-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.OccurredAt.Equal(ev.Time) || !rec.RecordedAt.Equal(fixed) {
		t.Errorf("unexpected timestamps: occurred %v recorded %v", rec.OccurredAt, rec.RecordedAt)
	}
}

func TestRecord_RedeliveryKeepsID(t *testing.T) {
	ms := &MockStore{}
	agent := New(ms, nil)

	ev := api.ActionEvent{InstanceID: "i-1", Action: api.ActionStop, RequestID: "req-9", Time: time.Now()}
	for range 2 {
		if err := agent.Record(context.Background(), ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if ms.Recorded[0].ID != ms.Recorded[1].ID {
		t.Errorf("redelivered event got a new id: %s vs %s", ms.Recorded[0].ID, ms.Recorded[1].ID)
	}

	other := ev
	other.RequestID = "req-10"
	if err := agent.Record(context.Background(), other); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ms.Recorded[2].ID == ms.Recorded[0].ID {
		t.Error("distinct events share an id")
	}
}

func TestRecord_ZeroTimeUsesNow(t *testing.T) {
	ms := &MockStore{}
	agent := New(ms, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agent.now = func() time.Time { return fixed }

	if err := agent.Record(context.Background(), api.ActionEvent{InstanceID: "i-1", Action: api.ActionStart}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !ms.Recorded[0].OccurredAt.Equal(fixed) {
		t.Errorf("OccurredAt = %v, want %v", ms.Recorded[0].OccurredAt, fixed)
	}
}

func TestRecord_Invalid(t *testing.T) {
	tests := []struct {
		name string
		ev   api.ActionEvent
	}{
		{"missing instance", api.ActionEvent{Action: api.ActionStart}},
		{"blank instance", api.ActionEvent{InstanceID: "  ", Action: api.ActionStop}},
		{"status is not recorded", api.ActionEvent{InstanceID: "i-1", Action: api.ActionStatus}},
		{"unknown action", api.ActionEvent{InstanceID: "i-1", Action: "reboot"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := &MockStore{}
			err := New(ms, nil).Record(context.Background(), tt.ev)
			if !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Record() error = %v, want ErrInvalidEvent", err)
			}
			if len(ms.Recorded) != 0 {
				t.Error("invalid event was stored")
			}
		})
	}
}

func TestRecord_StoreError(t *testing.T) {
	cause := errors.New("connection refused")
	agent := New(&MockStore{RecordErr: cause}, nil)

	err := agent.Record(context.Background(), api.ActionEvent{InstanceID: "i-1", Action: api.ActionStart, Time: time.Now()})
	if !errors.Is(err, cause) {
		t.Errorf("Record() error = %v, want wrapped %v", err, cause)
	}
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	ms := &MockStore{}
	agent := New(ms, nil)
	sub := &MockSubscription{Events: []api.ActionEvent{
		{InstanceID: "i-1", Action: api.ActionStart, Time: time.Now()},
		{InstanceID: "", Action: api.ActionStart},
		{InstanceID: "i-2", Action: api.ActionStop, Time: time.Now()},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- agent.Run(ctx, sub) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ms.mu.Lock()
		n := len(ms.Recorded)
		ms.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-agent.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.Recorded) != 2 {
		t.Errorf("expected 2 records, got %d", len(ms.Recorded))
	}
}
