package dataplane

import (
	"errors"
	"fmt"
)

var (
	ErrConnect      = errors.New("dataplane connect failed")
	ErrNotConnected = errors.New("dataplane not connected")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrClosed       = errors.New("session closed")
)

type ErrorKind uint8

const (
	// Rejected means the dataplane answered with a semantic error.
	Rejected ErrorKind = iota
	// Transport means the connection is broken.
	Transport
	// Timeout means no reply arrived in time; treated like a broken transport.
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case Rejected:
		return "rejected"
	case Transport:
		return "transport"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type RequestError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func NewRequestError(kind ErrorKind, op string, err error) *RequestError {
	return &RequestError{Kind: kind, Op: op, Err: err}
}

// IsTransport reports whether err means the session can no longer be used.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind == Transport || reqErr.Kind == Timeout
	}
	return false
}

// IsRejected reports whether err is a semantic refusal from the dataplane.
func IsRejected(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Kind == Rejected
}
