package gh

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a lookup for an account the remote service reports as
// missing or inaccessible (HTTP 404).
var ErrNotFound = errors.New("account not found")

// ErrRateLimited marks a request abandoned after exhausting every pool
// credential and the configured number of quota waits.
var ErrRateLimited = errors.New("rate limited after exhausting credential pool")

// StatusError is any other non-2xx remote response. It aborts the current
// query only; callers move on to the next partition or candidate rather
// than failing the run.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote API returned status %d for %s", e.StatusCode, e.URL)
}

// IsStatusError reports whether err is a generic API status failure.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
