package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx API response.
type APIError struct {
	StatusCode       int    `json:"-"`
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
	RequestID        string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: unexpected status %d", e.StatusCode)
	}

	return fmt.Sprintf("github: %d %s", e.StatusCode, e.Message)
}

// newAPIError decodes an error response body. A body that is not the
// standard error JSON still produces a usable error with the status code.
func newAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Github-Request-Id"),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && len(data) > 0 {
		//nolint:errcheck // Fall back to the bare status on malformed bodies.
		json.Unmarshal(data, apiErr)
	}

	return apiErr
}
