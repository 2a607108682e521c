package isapi

import (
	"errors"
	"fmt"
)

// Kind classifies a failure talking to a device.
type Kind string

const (
	KindNetworkUnreachable   Kind = "network_unreachable"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindProtocol             Kind = "protocol_error"
	KindTimeout              Kind = "timeout"
	KindDeviceConflict       Kind = "device_conflict"
	KindNotFound             Kind = "not_found"
	KindTransport            Kind = "transport_error"
)

var (
	ErrNetworkUnreachable   = errors.New("device unreachable")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrProtocol             = errors.New("protocol error")
	ErrTimeout              = errors.New("device request timed out")
	ErrDeviceConflict       = errors.New("device conflict")
	ErrNotFound             = errors.New("not found")
	ErrTransport            = errors.New("transport error")

	// ErrChallengeParse is returned when a WWW-Authenticate header is
	// missing, malformed or does not offer the Digest scheme.
	ErrChallengeParse = errors.New("cannot parse digest challenge")
)

var kindSentinels = map[Kind]error{
	KindNetworkUnreachable:   ErrNetworkUnreachable,
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindProtocol:             ErrProtocol,
	KindTimeout:              ErrTimeout,
	KindDeviceConflict:       ErrDeviceConflict,
	KindNotFound:             ErrNotFound,
	KindTransport:            ErrTransport,
}

// Error is the failure type surfaced by the transport and by every
// component built on it.
type Error struct {
	Kind       Kind
	Op         string // "POST /ISAPI/AccessControl/UserInfo/Record"
	StatusCode int
	Body       string
	Status     *ResponseStatus

	// ResponseStarted reports whether any response bytes arrived from the
	// device before the failure.
	ResponseStarted bool

	Err error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		msg = sentinel.Error()
	}

	switch {
	case e.Status != nil && e.Status.Message() != "":
		msg = fmt.Sprintf("%s: %d: %s", msg, e.StatusCode, e.Status.Message())
	case e.Err != nil:
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	case e.StatusCode != 0:
		msg = fmt.Sprintf("%s: %d, response: %s", msg, e.StatusCode, e.Body)
	}

	if e.Op != "" {
		return e.Op + ": " + msg
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match an *Error against the sentinel of its Kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the Kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// DeviceMessage returns the most specific human-readable message the device
// supplied for err, falling back to err.Error().
func DeviceMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Status != nil && e.Status.Message() != "" {
		return e.Status.Message()
	}

	return err.Error()
}
