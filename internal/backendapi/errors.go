package backendapi

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// APIError is a non-success response from the backend, carrying the
// server-provided error text when one was present in the body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend request failed with status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 404
}

// errorText digs the human-readable message out of an error body. Nest emits
// either {"message": "..."} or {"message": ["...", ...]}; some proxies emit
// {"error": "..."} instead.
func errorText(body []byte) string {
	msg := gjson.GetBytes(body, "message")
	if msg.IsArray() {
		if arr := msg.Array(); len(arr) > 0 {
			return arr[0].String()
		}
	}
	if msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	return gjson.GetBytes(body, "error").String()
}
