package fleet

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", errors.New("boom"), KindUnavailable},
		{"sentinel not found", ErrInstanceNotFound, KindNotFound},
		{"wrapped sentinel", fmt.Errorf("lookup: %w", ErrInstanceNotFound), KindNotFound},
		{"classified", NewError(KindPermission, "start", "UnauthorizedOperation", errors.New("denied")), KindPermission},
		{"wrapped classified", fmt.Errorf("ec2: %w", NewError(KindInvalidState, "stop", "", errors.New("x"))), KindInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(KindNotFound, "start", "InvalidInstanceID.NotFound", errors.New("nope")))
	if got := CodeOf(err); got != "InvalidInstanceID.NotFound" {
		t.Errorf("CodeOf() = %q, want InvalidInstanceID.NotFound", got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf() on plain error = %q, want empty", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(KindUnavailable, "list", "", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() != "list: unavailable: root cause" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
