package fetch

import (
	"fmt"
	"net/http"
	"time"
)

// HTTPStatusError reports a non-success response status. 408, 429 and
// 5xx are transient; everything else is not worth retrying.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *HTTPStatusError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// StallError means the server stopped sending mid-transfer: a single
// body read exceeded the stall timeout while the attempt as a whole was
// still within budget. Distinct from a headers timeout for diagnosis,
// identical for retry purposes.
type StallError struct {
	Timeout time.Duration
}

func (e *StallError) Error() string {
	return fmt.Sprintf("transfer stalled: no data for %s", e.Timeout)
}

func (e *StallError) Transient() bool { return true }

// SizeMismatchError means the streamed byte count disagrees with the
// advertised Content-Length. Treated as a broken transfer, not accepted
// silently.
type SizeMismatchError struct {
	Got  int64
	Want int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: got %d bytes, expected %d", e.Got, e.Want)
}

func (e *SizeMismatchError) Transient() bool { return true }
