package httputil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kinds of external API failure. Match with errors.Is.
var (
	ErrTimeout   = errors.New("upstream timeout")
	ErrNotFound  = errors.New("upstream not found")
	ErrAuth      = errors.New("upstream authentication failed")
	ErrRateLimit = errors.New("upstream rate limited")
	ErrUpstream  = errors.New("upstream error")
)

// APIError is a failed call to a weather or AQI supplier.
type APIError struct {
	Source     string
	StatusCode int
	Kind       error
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Source, e.Kind)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusError classifies a non-200 response.
func StatusError(source string, status int, body []byte) *APIError {
	kind := ErrUpstream
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimit
	}
	var err error
	if len(body) > 0 {
		if len(body) > 200 {
			body = body[:200]
		}
		err = errors.New(string(body))
	}
	return &APIError{Source: source, StatusCode: status, Kind: kind, Err: err}
}

// TransportError classifies a failed round trip.
func TransportError(source string, err error) *APIError {
	kind := ErrUpstream
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrTimeout
	}
	return &APIError{Source: source, Kind: kind, Err: err}
}

// Retryable reports whether a call that failed with err may succeed on retry.
func Retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return errors.Is(apiErr.Kind, ErrRateLimit) || apiErr.StatusCode >= http.StatusInternalServerError
}
