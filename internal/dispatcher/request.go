package dispatcher

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"strings"

	"fleetgate/pkg/api"
)

// Request is a validated action request. Only Dispatch builds it, after the
// caller has been authenticated.
type Request struct {
	Action     string
	InstanceID string
}

type rawFields map[string]json.RawMessage

// parseBody checks the body is a JSON object without looking at any field.
func parseBody(body []byte) (rawFields, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, invalidBody("invalid request body: empty")
	}
	if body[0] != '{' {
		return nil, invalidBody("invalid request body: expected a JSON object")
	}

	var fields rawFields
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, invalidBody("invalid request body")
	}
	return fields, nil
}

// stringField reports the string value of key. ok is false when the key is
// absent, null, or not a JSON string.
func (f rawFields) stringField(key string) (value string, present bool, ok bool) {
	raw, exists := f[key]
	if !exists || string(raw) == "null" {
		return "", false, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", true, false
	}
	return value, true, true
}

// authenticate compares the security string in constant time.
func authenticate(fields rawFields, secret string) error {
	given, _, ok := fields.stringField("securitystring")
	if !ok {
		return &AuthenticationError{Missing: true}
	}
	if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
		return &AuthenticationError{}
	}
	return nil
}

// decodeRequest validates the action selector and its required fields.
func decodeRequest(fields rawFields) (Request, error) {
	action, present, ok := fields.stringField("action")
	if !present {
		return Request{}, missingAction()
	}
	if !ok {
		return Request{}, wrongType("action")
	}

	switch action {
	case api.ActionStatus:
		return Request{Action: action}, nil
	case api.ActionStart, api.ActionStop:
		id, _, ok := fields.stringField("instanceid")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return Request{}, missingInstanceID(action)
		}
		return Request{Action: action, InstanceID: id}, nil
	default:
		return Request{}, invalidAction(action)
	}
}
