package wordpress

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the endpoint or collection does not exist on the site.
	ErrNotFound = errors.New("endpoint not found")
	// ErrPermissionDenied means the endpoint exists but access was refused.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRateLimited means the site asked us to slow down (HTTP 429).
	ErrRateLimited = errors.New("rate limited")
)

// APIError is any other non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Code       string // WordPress error code, e.g. "rest_invalid_param"
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}
