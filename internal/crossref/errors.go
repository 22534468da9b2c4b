package crossref

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates the DOI is unknown to the source.
	ErrNotFound = errors.New("DOI not found")

	// ErrUnavailable indicates the metadata source could not be reached or
	// answered with something unusable. Callers treat it as a lookup
	// failure.
	ErrUnavailable = errors.New("metadata source unavailable")
)

// APIError is a non-success HTTP status from Crossref or the DOI proxy.
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crossref API error (status %d): %s", e.StatusCode, e.URL)
}

// Unwrap maps server errors to ErrUnavailable and 404 to ErrNotFound.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests:
		return ErrUnavailable
	}
	return nil
}

// IsNotFound returns true if the error indicates an unknown DOI.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable returns true if the error indicates the source failed.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
