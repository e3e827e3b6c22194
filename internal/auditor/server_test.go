package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"fleetgate/internal/store"
	"fleetgate/pkg/api"

	"github.com/google/uuid"
)

const testSecret = "audit-secret"

func doRequest(t *testing.T, srv *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestListActions(t *testing.T) {
	id := uuid.New()
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var gotFilter store.ActionFilter
	ms := &MockStore{ListFunc: func(ctx context.Context, filter store.ActionFilter) ([]store.ActionRecord, error) {
		gotFilter = filter
		return []store.ActionRecord{{
			ID: id, InstanceID: "i-1", Action: api.ActionStop, RequestID: "req-1",
			OccurredAt: occurred, RecordedAt: occurred.Add(time.Second),
		}}, nil
	}}
	srv := NewServer(ServerConfig{Secret: testSecret}, ms, nil)

	rr := doRequest(t, srv, "/actions?instanceid=i-1,%20i-2&instanceid=i-3&limit=5", testSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	wantFilter := store.ActionFilter{InstanceIDs: []string{"i-1", "i-2", "i-3"}, Limit: 5}
	if !reflect.DeepEqual(gotFilter, wantFilter) {
		t.Errorf("filter = %+v, want %+v", gotFilter, wantFilter)
	}

	var resp api.ActionLogResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(resp.Actions))
	}
	got := resp.Actions[0]
	if got.ID != id.String() || got.InstanceID != "i-1" || got.Action != api.ActionStop || !got.OccurredAt.Equal(occurred) {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestListActions_EmptyIsArray(t *testing.T) {
	srv := NewServer(ServerConfig{Secret: testSecret}, &MockStore{}, nil)

	rr := doRequest(t, srv, "/actions", testSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if body := rr.Body.String(); body != "{\"actions\":[]}\n" {
		t.Errorf("got body %q", body)
	}
}

func TestListActions_Errors(t *testing.T) {
	failing := &MockStore{ListFunc: func(ctx context.Context, filter store.ActionFilter) ([]store.ActionRecord, error) {
		return nil, errors.New("db down")
	}}

	tests := []struct {
		name       string
		store      *MockStore
		path       string
		token      string
		wantStatus int
	}{
		{"no token", &MockStore{}, "/actions", "", http.StatusUnauthorized},
		{"wrong token", &MockStore{}, "/actions", "nope", http.StatusUnauthorized},
		{"limit not a number", &MockStore{}, "/actions?limit=abc", testSecret, http.StatusBadRequest},
		{"limit zero", &MockStore{}, "/actions?limit=0", testSecret, http.StatusBadRequest},
		{"limit too large", &MockStore{}, "/actions?limit=101", testSecret, http.StatusBadRequest},
		{"store failure", failing, "/actions", testSecret, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(ServerConfig{Secret: testSecret}, tt.store, nil)
			rr := doRequest(t, srv, tt.path, tt.token)
			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestProbes(t *testing.T) {
	healthy := &MockStore{}
	broken := &MockStore{PingErr: errors.New("no route")}

	tests := []struct {
		name       string
		path       string
		probes     []Pinger
		wantStatus int
	}{
		{"healthz", "/healthz", []Pinger{broken}, http.StatusOK},
		{"readyz all up", "/readyz", []Pinger{healthy, healthy}, http.StatusOK},
		{"readyz one down", "/readyz", []Pinger{healthy, broken}, http.StatusServiceUnavailable},
		{"metrics disabled", "/metrics", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(ServerConfig{Secret: testSecret}, healthy, nil, tt.probes...)
			rr := doRequest(t, srv, tt.path, "")
			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	srv := NewServer(ServerConfig{Secret: testSecret}, &MockStore{}, metrics)

	rr := doRequest(t, srv, "/metrics", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "# metrics" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}
