package llm

import "fmt"

// APIError is a non-2xx reply from a vendor HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus lets the error classifier use the status code directly.
func (e *APIError) HTTPStatus() int { return e.StatusCode }
