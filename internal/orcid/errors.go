package orcid

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors returned by the ORCID readers. All of them are metadata source
// errors.
var (
	// ErrNotFound indicates the profile does not exist on the instance.
	ErrNotFound = errors.New("ORCID profile not found")

	// ErrInvalidORCID indicates a malformed identifier or a bad checksum.
	ErrInvalidORCID = errors.New("invalid ORCID identifier")

	// ErrInvalidProfile indicates a profile that cannot be parsed.
	ErrInvalidProfile = errors.New("invalid ORCID profile")

	// ErrInvalidResponse indicates an unexpected API response.
	ErrInvalidResponse = errors.New("invalid response from ORCID")

	// ErrRateLimited indicates the API throttled the client.
	ErrRateLimited = errors.New("ORCID rate limit exceeded")

	// ErrNetworkError indicates a connectivity issue.
	ErrNetworkError = errors.New("network error communicating with ORCID")
)

// APIError is a non-success HTTP status from the ORCID API.
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ORCID API error (status %d): %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error indicates a missing profile.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsMetadataSourceError reports whether err comes from reading the
// registry rather than from the caller.
func IsMetadataSourceError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidORCID) ||
		errors.Is(err, ErrInvalidProfile) ||
		errors.Is(err, ErrInvalidResponse) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetworkError)
}
