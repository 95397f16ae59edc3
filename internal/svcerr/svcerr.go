// Package svcerr classifies failures of calls to external services.
package svcerr

import (
	"errors"
	"fmt"
)

// Kind tags the way an external call failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport: the service could not be reached.
	KindTransport
	// KindService: the service answered with a failure status.
	KindService
	// KindEmpty: the service answered successfully but with no usable data.
	KindEmpty
	// KindParse: the response body could not be decoded.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindService:
		return "service"
	case KindEmpty:
		return "empty"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the vision, chat and speech clients.
type Error struct {
	Kind    Kind
	Service string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Service, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Service, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and the name of the failing service.
func New(kind Kind, service string, err error) *Error {
	return &Error{Kind: kind, Service: service, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
