package zlibrary

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/walktheearth/bookdlbot/internal/retry"
)

// ErrConnectionFailed reports that a library session could not be established
// after retries. The handle stays unset so the next call retries login from
// scratch.
var ErrConnectionFailed = errors.New("could not establish library session")

// StatusError reports a non-2xx response from the library API.
type StatusError struct {
	Code int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("library returned HTTP %d", e.Code)
}

// Retryable classifies library call failures: server-side errors and
// throttling are transient on top of the usual network failures; other HTTP
// statuses (bad credentials, rejected session) are not worth repeating.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return retry.IsRetryable(err)
}
