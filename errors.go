package orbit

import (
	"errors"
	"fmt"
)

// ErrorData is the shape of an error surfaced to a client inside an
// RPCReply. A host method may return a value of concrete type ErrorData or
// *ErrorData to control the code and message reported to the caller;
// otherwise the dispatcher wraps the returned error in one.
type ErrorData struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e ErrorData) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

// errorCoder is an extension interface an error may implement to control
// the Code recorded in the ErrorData built from it.
type errorCoder interface{ Code() string }

// ToErrorData converts an arbitrary error returned by a host method, or
// raised internally by the dispatcher or codec, into the ErrorData carried
// by an RPCReply or a terminal Notification.
func ToErrorData(err error) *ErrorData { return toErrorData(err) }

// toErrorData converts an arbitrary error returned by a host method, or
// raised internally by the dispatcher, into the ErrorData carried by an
// RPCReply.
func toErrorData(err error) *ErrorData {
	if err == nil {
		return nil
	}
	// errors.As looks through wrappers such as InvocationError, so an
	// ErrorData returned by a host method reaches the reply unchanged.
	var edp *ErrorData
	if errors.As(err, &edp) {
		return edp
	}
	var ed ErrorData
	if errors.As(err, &ed) {
		return &ed
	}
	code := ""
	if ec, ok := err.(errorCoder); ok {
		code = ec.Code()
	}
	return &ErrorData{Code: code, Message: err.Error()}
}

// ProtocolError reports a malformed or unroutable ingress message: an
// undecodable payload, a missing validated-user header, or an unknown RPC
// method name.
type ProtocolError struct{ Message string }

func (e *ProtocolError) Error() string { return "protocol error: " + e.Message }
func (e *ProtocolError) Code() string  { return "protocol-error" }

// AuthorizationError reports a validated user name the server does not
// recognize.
type AuthorizationError struct{ Message string }

func (e *AuthorizationError) Error() string { return "authorization error: " + e.Message }
func (e *AuthorizationError) Code() string  { return "authorization-error" }

// InvocationError wraps a panic or error raised by a host method.
type InvocationError struct{ Cause error }

func (e *InvocationError) Error() string { return "invocation error: " + e.Cause.Error() }
func (e *InvocationError) Unwrap() error { return e.Cause }

// SerializationError reports that an outgoing reply or observation failed
// to encode. It is logged and the affected message is dropped; it never
// propagates to a client, because the server sends no reply at all for a
// request whose result failed to encode.
type SerializationError struct {
	RequestID RequestID
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error for request %d: %v", e.RequestID, e.Cause)
}
func (e *SerializationError) Unwrap() error { return e.Cause }

// TransportError reports a broker send failure. Logged, drop-and-continue.
type TransportError struct {
	Address string
	Cause   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error sending to %q: %v", e.Address, e.Cause)
}
func (e *TransportError) Unwrap() error { return e.Cause }

// LifecycleError reports an operation attempted after the server (or a
// component owned by it) has been closed.
type LifecycleError struct{ Message string }

func (e *LifecycleError) Error() string { return "lifecycle error: " + e.Message }

// ErrClosed is returned by operations attempted on a closed component that
// has no more specific error to report.
var ErrClosed = &LifecycleError{Message: "closed"}
