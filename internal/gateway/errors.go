package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failed request
type Kind int

const (
	KindAuthRequired Kind = iota + 1
	KindUnauthorized
	KindTimeout
	KindTransient
	KindPermanent
	KindQueueExhausted
)

var (
	ErrAuthRequired   = errors.New("auth required")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTimeout        = errors.New("request timed out")
	ErrTransient      = errors.New("transient failure")
	ErrPermanent      = errors.New("permanent failure")
	ErrQueueExhausted = errors.New("offline queue attempts exhausted")
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindUnauthorized:
		return "unauthorized"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindQueueExhausted:
		return "queue_exhausted"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuthRequired:
		return ErrAuthRequired
	case KindUnauthorized:
		return ErrUnauthorized
	case KindTimeout:
		return ErrTimeout
	case KindTransient:
		return ErrTransient
	case KindPermanent:
		return ErrPermanent
	case KindQueueExhausted:
		return ErrQueueExhausted
	}
	return nil
}

// Error carries the failure kind plus whatever the server said
type Error struct {
	Kind       Kind
	Method     string
	Endpoint   string
	Status     int
	Message    string
	Body       []byte
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.Endpoint, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrUnauthorized) works
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// IsNetwork reports a failure where no HTTP response was received
func (e *Error) IsNetwork() bool {
	return (e.Kind == KindTransient || e.Kind == KindTimeout) && e.Status == 0
}

// Retryable reports whether the gateway retries this failure
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// KindOf returns the kind of a gateway error, or zero for anything else
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return 0
}

// IsNetworkError reports whether err is a gateway failure without a response
func IsNetworkError(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.IsNetwork()
}

// classifyStatus maps a non-2xx status to its kind
func classifyStatus(status int) Kind {
	switch {
	case status == 401:
		return KindUnauthorized
	case status == 429 || status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
