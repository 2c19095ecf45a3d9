package pangolin

import (
	"fmt"
)

// maxErrorBodyLength bounds the response body kept in an APIError.
const maxErrorBodyLength = 512

// APIError is returned for non-2xx Pangolin responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("pangolin %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}

	return fmt.Sprintf("pangolin %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status code.
func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	text := string(body)
	if len(text) > maxErrorBodyLength {
		text = text[:maxErrorBodyLength-3] + "..."
	}

	return &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       text,
	}
}
