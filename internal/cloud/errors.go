package cloud

import (
	"errors"
	"fmt"

	"github.com/markus7017/rachio-bridge/internal/ratelimit"
)

// ErrRateLimited marks a call that was refused (or must be refused) because
// the remote quota is exhausted. Callers detect it with errors.Is.
var ErrRateLimited = errors.New("rachio: api rate limit exhausted")

// APIError is returned for every failed cloud call. It distinguishes
// transport failures (Code == 0, Err set) from application errors (non-2xx
// Code) and carries the rate-limit snapshot observed on the exchange when
// headers were present.
type APIError struct {
	Method   string
	URL      string
	Code     int
	Body     string
	Snapshot ratelimit.Snapshot
	Err      error
}

func (e *APIError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("rachio: %s %s: %v", e.Method, e.URL, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("rachio: %s %s: http %d: %v", e.Method, e.URL, e.Code, e.Err)
	}
	return fmt.Sprintf("rachio: %s %s: http %d", e.Method, e.URL, e.Code)
}

func (e *APIError) Unwrap() error { return e.Err }

// Transport reports whether the failure happened before an HTTP response was
// received (DNS, connect, timeout, breaker open).
func (e *APIError) Transport() bool { return e.Code == 0 && !errors.Is(e.Err, ErrRateLimited) }
