// Package api contains shared JSON request/response structs.
// This package is shared between the dispatcher, the auditor, the Lambda adapter and the CLI.
package api

import "time"

// Actions understood by the dispatcher.
const (
	ActionStatus = "status"
	ActionStart  = "start"
	ActionStop   = "stop"
)

// ActionRequest is the request body accepted by the dispatch endpoint.
type ActionRequest struct {
	SecurityString string `json:"securitystring"`
	Action         string `json:"action"`
	InstanceID     string `json:"instanceid,omitempty"`
}

// InstanceRecord is the simplified view of one instance returned by status.
type InstanceRecord struct {
	InstanceID string `json:"instanceid"`
	Name       string `json:"name"`
	State      string `json:"state"`
	IPAddress  string `json:"ipaddress,omitempty"`
}

// StatusResponse is the response body for the status action.
type StatusResponse struct {
	Instances []InstanceRecord `json:"instances"`
}

// ActionResponse acknowledges an accepted start or stop request.
// It never carries the post-transition state.
type ActionResponse struct {
	InstanceID string `json:"instanceid"`
	Action     string `json:"action"`
	Message    string `json:"message"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ActionEvent is published after the fleet provider accepted a state change.
type ActionEvent struct {
	InstanceID string    `json:"instanceid"`
	Action     string    `json:"action"`
	RequestID  string    `json:"request_id,omitempty"`
	Time       time.Time `json:"time"`
}

// ActionLogEntry is one recorded action as served by the auditor.
type ActionLogEntry struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceid"`
	Action     string    `json:"action"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ActionLogResponse is the response body for GET /actions.
type ActionLogResponse struct {
	Actions []ActionLogEntry `json:"actions"`
}
