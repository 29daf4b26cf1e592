package riot

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for permanent provider responses
var (
	ErrUnauthorized = errors.New("riot: api key rejected (401)")
	ErrForbidden    = errors.New("riot: api key forbidden (403)")
	ErrNotFound     = errors.New("riot: resource not found (404)")
	ErrBadRequest   = errors.New("riot: malformed request (400)")
)

// StatusError is returned for any non-200 response that is not retried away.
// It unwraps to the matching sentinel so callers can use errors.Is.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("riot: %s returned status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrBadRequest
	}
	return nil
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}

// IsFatal reports whether err means the credentials are unusable and the
// crawl has to stop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
