package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNetworkUnavailable = errors.New("api: network unavailable")
	ErrTimeout            = errors.New("api: request timed out")
	ErrUnauthorized       = errors.New("api: unauthorized")
	ErrRejected           = errors.New("api: request rejected")
)

// StatusError carries a non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

func statusError(code int, body string) *StatusError {
	kind := ErrRejected
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = ErrUnauthorized
	case code >= http.StatusInternalServerError:
		kind = ErrNetworkUnavailable
	}
	return &StatusError{StatusCode: code, Body: body, kind: kind}
}

// transportError maps a failed round trip onto the package sentinels
func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
}

// IsTransient reports errors that should be retried on the next cycle
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrTimeout)
}

func asStatus(err error, target **StatusError) bool {
	return err != nil && errors.As(err, target)
}
