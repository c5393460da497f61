package recordstore

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a 404 from the record store.
var ErrNotFound = errors.New("record not found")

// RateLimitedError carries the store's retry-after hint from a 429 response.
// It is surfaced to the caller, never retried by this layer.
type RateLimitedError struct {
	RetryAfter int // seconds
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfter)
}

// StatusError is any other non-retryable 4xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("record store returned %d: %s", e.Status, e.Body)
}
