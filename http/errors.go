package http

import (
	"fmt"
	"net/http"
)

// APIError is the error body returned by the marketplace backend
type APIError struct {
	StatusCode int    `json:"-"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("backend returned %d: %s: %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Permanent reports whether repeating the request cannot succeed. 401 is not
// permanent: a fresh session makes the same request valid.
func (e *APIError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
