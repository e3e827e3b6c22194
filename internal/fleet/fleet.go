// Package fleet defines the contract between the dispatcher and the compute
// fleet providers (EC2, Docker, Kubernetes, simulator).
package fleet

import (
	"context"
	"errors"
	"fmt"
)

// State is the provider-reported lifecycle state of an instance.
type State string

const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting-down"
	StateTerminated   State = "terminated"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
)

// Instance is the provider's description of one compute instance.
type Instance struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     State  `json:"state"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Provider is the subset of the fleet control plane the dispatcher consumes.
type Provider interface {
	// ListInstances describes every instance in the fleet, terminated ones included.
	ListInstances(ctx context.Context) ([]Instance, error)

	// StartInstance asks the provider to start the instance. It returns once the
	// request is accepted and does not wait for the instance to be running.
	StartInstance(ctx context.Context, id string) error

	// StopInstance asks the provider to stop the instance. Same contract as StartInstance.
	StopInstance(ctx context.Context, id string) error
}

// Pinger is implemented by providers that can cheaply check their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Kind classifies provider failures.
type Kind int

const (
	KindUnavailable Kind = iota
	KindNotFound
	KindInvalidState
	KindPermission
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindPermission:
		return "permission_denied"
	default:
		return "unavailable"
	}
}

// Error is a classified provider failure.
// Code is the provider's own error code (e.g. "InvalidInstanceID.NotFound").
type Error struct {
	Kind Kind
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInstanceNotFound is returned by providers that have no richer error to wrap.
var ErrInstanceNotFound = errors.New("instance not found")

// NewError builds a classified provider error.
func NewError(kind Kind, op, code string, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are KindUnavailable,
// except ErrInstanceNotFound which is KindNotFound.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrInstanceNotFound) {
		return KindNotFound
	}
	return KindUnavailable
}

// CodeOf returns the provider error code carried by err, if any.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
