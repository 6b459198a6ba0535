package soda

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrHTTP indicates a transport failure or a non-success status from the
// dataset endpoint. Kind is a coarse label suitable for metrics.
type ErrHTTP struct {
	URL        string
	StatusCode int
	Kind       string
	Err        error
}

func (e ErrHTTP) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("http %s: status %d for %s: %v", e.Kind, e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("http %s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e ErrHTTP) Unwrap() error {
	return e.Err
}

func newHTTPError(rawURL string, statusCode int, err error) ErrHTTP {
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}
	return ErrHTTP{
		URL:        rawURL,
		StatusCode: statusCode,
		Kind:       classifyError(err, statusCode),
		Err:        err,
	}
}

// errorTypeLabel maps any fetch error to its metrics label.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var httpErr ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Kind
	}
	return "shape"
}

func classifyError(err error, statusCode int) string {
	switch {
	case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		return "forbidden"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= http.StatusInternalServerError:
		return "server"
	case statusCode != 0:
		return "status"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	return "other"
}
