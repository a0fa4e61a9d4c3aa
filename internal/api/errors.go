package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized is a 401 from the API. It is never retried; callers
	// hand it to the auth gateway.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNetwork means no usable response arrived. The cause is wrapped too.
	ErrNetwork = errors.New("network failure")
)

// ServerError is any other non-2xx response, or a 2xx body that could not be
// decoded.
type ServerError struct {
	StatusCode int
	Detail     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Detail)
}

// IsServerError reports whether err carries a *ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

const maxDetailLen = 512

// classify turns a non-2xx response into one of the package errors.
func classify(status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return &ServerError{StatusCode: status, Detail: detailFrom(status, body)}
}

// detailFrom prefers the backend's {"detail": "..."} message, then the raw
// body, then a generic message.
func detailFrom(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil && s != "" {
			return s
		}
		return truncate(string(payload.Detail))
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return truncate(trimmed)
	}
	return fmt.Sprintf("server returned %d %s", status, http.StatusText(status))
}

func truncate(s string) string {
	if len(s) > maxDetailLen {
		return s[:maxDetailLen] + "..."
	}
	return s
}
