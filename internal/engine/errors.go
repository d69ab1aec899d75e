package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
)

// apiError maps an unexpected engine status code onto the errdefs
// sentinels so callers can branch with cerrdefs.IsNotFound and friends.
func apiError(op string, status int, body []byte) error {
	msg := errorMessage(body)
	switch {
	case status == 404:
		return fmt.Errorf("engine: %s: %s: %w", op, msg, cerrdefs.ErrNotFound)
	case status == 409:
		return fmt.Errorf("engine: %s: %s: %w", op, msg, cerrdefs.ErrConflict)
	case status >= 500:
		return fmt.Errorf("engine: %s: status %d: %s: %w", op, status, msg, cerrdefs.ErrInternal)
	default:
		return fmt.Errorf("engine: %s: unexpected status %d: %s: %w", op, status, msg, cerrdefs.ErrUnknown)
	}
}

// errorMessage extracts the engine's {"message": "..."} payload, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
