package slack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies a failed platform call. Classification happens once,
// here at the transport boundary; retry layers switch on the kind instead of
// re-inspecting error types.
type ErrorKind string

const (
	// KindRateLimited means the platform rejected the call for pacing
	// reasons and it should be retried after backing off.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTimeout means the call exceeded its deadline with no response.
	KindTimeout ErrorKind = "timeout"
	// KindTransport covers every other platform or network failure.
	KindTransport ErrorKind = "transport"
)

// CallError is the tagged error every failed transport call produces.
type CallError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *CallError) Error() string {
	switch {
	case e.Kind == KindRateLimited && e.RetryAfter > 0:
		return fmt.Sprintf("slack api rate limited (status=%d, retry_after=%s)", e.StatusCode, e.RetryAfter)
	case e.Message != "":
		return fmt.Sprintf("slack api %s error: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("slack api %s error (status=%d)", e.Kind, e.StatusCode)
	}
}

// Kind extracts the error kind from a transport error. Unclassified errors
// report KindTransport.
func Kind(err error) ErrorKind {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	return KindTransport
}

// classifyNetworkError tags errors raised before any HTTP response arrived.
func classifyNetworkError(err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CallError{Kind: KindTimeout, Message: err.Error()}
	}
	return &CallError{Kind: KindTransport, Message: err.Error()}
}
