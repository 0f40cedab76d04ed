package device

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session and write failures so callers can tell
// device unresponsiveness, user cancellation and protocol violations apart.
type ErrorKind string

const (
	NotConnected              ErrorKind = "not_connected"
	PinRequired               ErrorKind = "pin_required"
	InvalidPin                ErrorKind = "invalid_pin"
	UnknownCharacteristic     ErrorKind = "unknown_characteristic"
	UnsupportedCharacteristic ErrorKind = "unsupported_characteristic"
	InvalidTableIndex         ErrorKind = "invalid_table_index"
	MultiValueReply           ErrorKind = "multi_value_reply"
	WriteTimeout              ErrorKind = "write_timeout"
	WriteAborted              ErrorKind = "write_aborted"
	WriteDisconnected         ErrorKind = "write_disconnected"
	ResolutionTimeout         ErrorKind = "resolution_timeout"
)

// OpError is a classified session error.
type OpError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := string(e.Kind)
	if e.Msg != "" {
		s = fmt.Sprintf("%s: %s", s, e.Msg)
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

func (e *OpError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare OpError values by Kind.
func (e *OpError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per kind, for errors.Is checks.
var (
	ErrNotConnected              = &OpError{Kind: NotConnected}
	ErrPinRequired               = &OpError{Kind: PinRequired}
	ErrInvalidPin                = &OpError{Kind: InvalidPin}
	ErrUnknownCharacteristic     = &OpError{Kind: UnknownCharacteristic}
	ErrUnsupportedCharacteristic = &OpError{Kind: UnsupportedCharacteristic}
	ErrInvalidTableIndex         = &OpError{Kind: InvalidTableIndex}
	ErrMultiValueReply           = &OpError{Kind: MultiValueReply}
	ErrWriteTimeout              = &OpError{Kind: WriteTimeout}
	ErrWriteAborted              = &OpError{Kind: WriteAborted}
	ErrWriteDisconnected         = &OpError{Kind: WriteDisconnected}
	ErrResolutionTimeout         = &OpError{Kind: ResolutionTimeout}
)

func opError(kind ErrorKind, format string, args ...interface{}) *OpError {
	return &OpError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an OpError with the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var oerr *OpError
	if errors.As(err, &oerr) {
		return oerr.Kind == kind
	}
	return false
}
