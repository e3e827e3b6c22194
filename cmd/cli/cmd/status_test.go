package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fleetgate/pkg/api"

	"github.com/spf13/viper"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return stdout.String()
}

func TestStatusCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.ActionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Action != "status" || req.SecurityString != "test-secret" {
			t.Errorf("unexpected request: %+v", req)
		}

		json.NewEncoder(w).Encode(api.StatusResponse{Instances: []api.InstanceRecord{
			{InstanceID: "i-bbb", Name: "web-2", State: "stopped"},
			{InstanceID: "i-aaa", Name: "web-1", State: "running", IPAddress: "203.0.113.5"},
		}})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("secret", "test-secret")

	output := runCLI(t, "status")

	for _, want := range []string{"INSTANCE ID", "i-aaa", "web-1", "running", "203.0.113.5", "i-bbb", "stopped"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
	if strings.Index(output, "web-1") > strings.Index(output, "web-2") {
		t.Errorf("expected instances sorted by name, got: %s", output)
	}
}

func TestStatusCommand_JSONOutput(t *testing.T) {
	resetViper()
	t.Cleanup(func() { statusOutput = "table" })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.StatusResponse{Instances: []api.InstanceRecord{
			{InstanceID: "i-aaa", Name: "web-1", State: "running"},
		}})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("secret", "test-secret")

	output := runCLI(t, "status", "-o", "json")

	var got api.StatusResponse
	if err := json.Unmarshal([]byte(output), &got); err != nil {
		t.Fatalf("expected JSON output, got: %s", output)
	}
	if len(got.Instances) != 1 || got.Instances[0].InstanceID != "i-aaa" {
		t.Errorf("unexpected instances: %+v", got.Instances)
	}
}

func TestStatusCommand_Empty(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"instances":[]}`))
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("secret", "test-secret")

	output := runCLI(t, "status")
	if !strings.Contains(output, "No instances found") {
		t.Errorf("expected empty message, got: %s", output)
	}
}

func TestStatusCommand_MissingSecret(t *testing.T) {
	resetViper()

	viper.Set("url", "http://localhost:8080")
	viper.Set("secret", "")

	output := runCLI(t, "status")
	if !strings.Contains(output, "Security string not found") {
		t.Errorf("expected secret error message, got: %s", output)
	}
}

func TestStatusCommand_Forbidden(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"not allowed to execute this function","code":"403"}`))
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("secret", "wrong")

	output := runCLI(t, "status")
	if !strings.Contains(output, "Error (403): not allowed to execute this function") {
		t.Errorf("expected error status in output, got: %s", output)
	}
}

func TestColorizeState(t *testing.T) {
	for _, s := range []string{"running", "pending", "stopping", "stopped", "shutting-down", "weird"} {
		got := colorizeState(s)
		if !strings.Contains(got, s) {
			t.Errorf("colorizeState(%q) = %q, missing state", s, got)
		}
		if !strings.HasSuffix(got, colorReset) {
			t.Errorf("colorizeState(%q) = %q, color not reset", s, got)
		}
	}
}
