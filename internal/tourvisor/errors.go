package tourvisor

import (
	"errors"
	"fmt"
)

var (
	// ErrTourIDExpired is returned when an offer id outlived its validity
	// window (about 24 hours after the search).
	ErrTourIDExpired = errors.New("tourvisor: tour id expired")

	// ErrSearchNotFound is returned when a request id is unknown upstream.
	ErrSearchNotFound = errors.New("tourvisor: search not found")
)

// APIError is an in-band error: the API answers HTTP 200 and reports the
// failure in the JSON body.
type APIError struct {
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tourvisor %s: %s", e.Endpoint, e.Message)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tourvisor %s: http status %d", e.Endpoint, e.StatusCode)
}

// NoResultsError means the search ran but produced nothing usable. Hint is
// a suggestion for relaxing the filters.
type NoResultsError struct {
	Message string
	Hint    string
}

func (e *NoResultsError) Error() string {
	return e.Message
}

// IsNoResults reports whether err carries a NoResultsError.
func IsNoResults(err error) (*NoResultsError, bool) {
	var nr *NoResultsError
	if errors.As(err, &nr) {
		return nr, true
	}
	return nil, false
}
