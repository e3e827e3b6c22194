package dispatcher

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"fleetgate/internal/fleet"
	"fleetgate/pkg/api"
)

// AuthenticationError means the security string was missing or did not match.
// The message never says which part of the check failed.
type AuthenticationError struct {
	Missing bool
}

func (e *AuthenticationError) Error() string {
	if e.Missing {
		return "security string not provided"
	}
	return "not allowed to execute this function"
}

// ValidationError names the field or action that made the request unusable.
type ValidationError struct {
	Field   string
	Message string
	status  int
}

func (e *ValidationError) Error() string {
	return e.Message
}

var errNotConfigured = errors.New("shared secret is not configured")

func invalidBody(format string, args ...any) *ValidationError {
	return &ValidationError{Field: "body", Message: fmt.Sprintf(format, args...), status: http.StatusBadRequest}
}

func invalidAction(action string) *ValidationError {
	return &ValidationError{Field: "action", Message: fmt.Sprintf("invalid action %q", action), status: http.StatusBadRequest}
}

func missingAction() *ValidationError {
	return &ValidationError{Field: "action", Message: "action is required", status: http.StatusBadRequest}
}

func wrongType(field string) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf("%s must be a string", field), status: http.StatusBadRequest}
}

func missingInstanceID(action string) *ValidationError {
	return &ValidationError{
		Field:   "instanceid",
		Message: fmt.Sprintf("instanceid is required for action %s", action),
		status:  http.StatusExpectationFailed,
	}
}

// errorResponse converts any error reaching the response boundary into an envelope.
// Provider errors are reduced to a client-safe message plus the provider's error code.
func errorResponse(err error) Response {
	var authErr *AuthenticationError
	var valErr *ValidationError

	switch {
	case errors.Is(err, errNotConfigured):
		return failure(http.StatusPreconditionFailed, err.Error(), "")
	case errors.As(err, &authErr):
		if authErr.Missing {
			return failure(http.StatusUnauthorized, authErr.Error(), "")
		}
		return failure(http.StatusForbidden, authErr.Error(), "")
	case errors.As(err, &valErr):
		return failure(valErr.status, valErr.Message, "")
	}

	code := fleet.CodeOf(err)
	switch fleet.KindOf(err) {
	case fleet.KindNotFound:
		return failure(http.StatusNotFound, "instance not found", code)
	case fleet.KindInvalidState:
		return failure(http.StatusConflict, "instance cannot change state", code)
	case fleet.KindPermission:
		return failure(http.StatusBadGateway, "fleet provider denied the request", code)
	default:
		return failure(http.StatusInternalServerError, "fleet provider request failed", code)
	}
}

func failure(status int, message, details string) Response {
	return Response{
		StatusCode: status,
		Body: api.ErrorResponse{
			Error:   message,
			Code:    strconv.Itoa(status),
			Details: details,
		},
	}
}
