package gateway

import (
	"fmt"
	"time"
)

type ErrorKind int

const (
	// KindTransport covers connection failures and 5xx-class statuses.
	KindTransport ErrorKind = iota
	// KindRateLimited is a 429-class rejection, retryable with backoff.
	KindRateLimited
	// KindTimeout is a per-call deadline hit; treated as a transport failure.
	KindTimeout
	// KindBadRequest is any other 4xx; never retried.
	KindBadRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// GatewayError is the typed failure surfaced by the model gateway. Transport,
// rate-limit and timeout kinds are retried internally; bad requests are not.
type GatewayError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("model gateway %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model gateway %s: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}
