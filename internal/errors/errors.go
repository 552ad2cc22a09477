// Package errors wraps stdlib errors and pkg/errors, and defines the
// location/network failure taxonomy. None of these errors are fatal: callers
// degrade to the next fallback tier.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"

	pkgerrors "github.com/pkg/errors"
)

func New(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// Wrap annotates err with a stack trace and message.
func Wrap(err error, message string) error { return pkgerrors.Wrap(err, message) }

func Wrapf(err error, format string, args ...any) error {
	return pkgerrors.Wrapf(err, format, args...)
}

func Errorf(format string, args ...any) error { return pkgerrors.Errorf(format, args...) }

func WithStack(err error) error { return pkgerrors.WithStack(err) }

// ErrAuthorizationTimeout is returned when the OS prompt did not resolve in time.
// The status is still NotDetermined; callers may retry later.
var ErrAuthorizationTimeout = New("authorization: timed out waiting for user response")

// LocationKind classifies a native location failure.
type LocationKind int

const (
	LocationUnknown LocationKind = iota
	LocationDenied
	LocationRestricted
	LocationDisabled
	LocationTimeout
	LocationUnsupported
)

func (k LocationKind) String() string {
	switch k {
	case LocationDenied:
		return "denied"
	case LocationRestricted:
		return "restricted"
	case LocationDisabled:
		return "disabled"
	case LocationTimeout:
		return "timeout"
	case LocationUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// LocationError is a failed native fix.
type LocationError struct {
	Kind LocationKind
	Err  error
}

func (e *LocationError) Error() string {
	if e.Err == nil {
		return "location: " + e.Kind.String()
	}
	return fmt.Sprintf("location: %s: %v", e.Kind, e.Err)
}

func (e *LocationError) Unwrap() error { return e.Err }

// Is matches any *LocationError of the same kind, so the sentinels below work
// with errors.Is regardless of the wrapped cause.
func (e *LocationError) Is(target error) bool {
	t, ok := target.(*LocationError)
	return ok && t.Kind == e.Kind
}

var (
	ErrLocationDenied      = &LocationError{Kind: LocationDenied}
	ErrLocationRestricted  = &LocationError{Kind: LocationRestricted}
	ErrLocationDisabled    = &LocationError{Kind: LocationDisabled}
	ErrLocationTimeout     = &LocationError{Kind: LocationTimeout}
	ErrLocationUnsupported = &LocationError{Kind: LocationUnsupported}
	ErrLocationUnknown     = &LocationError{Kind: LocationUnknown}
)

// NewLocationError builds a LocationError of the given kind.
func NewLocationError(kind LocationKind, err error) error {
	return &LocationError{Kind: kind, Err: err}
}

// NetworkKind classifies a failed remote call.
type NetworkKind int

const (
	NetworkUnreachable NetworkKind = iota
	NetworkTimeout
	NetworkInvalidResponse
)

func (k NetworkKind) String() string {
	switch k {
	case NetworkTimeout:
		return "timeout"
	case NetworkInvalidResponse:
		return "invalid response"
	default:
		return "unreachable"
	}
}

// NetworkError is a failed call to one of the remote services.
type NetworkError struct {
	Kind NetworkKind
	Op   string
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	t, ok := target.(*NetworkError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNetworkTimeout         = &NetworkError{Kind: NetworkTimeout}
	ErrNetworkUnreachable     = &NetworkError{Kind: NetworkUnreachable}
	ErrNetworkInvalidResponse = &NetworkError{Kind: NetworkInvalidResponse}
)

// InvalidResponse reports a reply that could not be used.
func InvalidResponse(op string, err error) error {
	return &NetworkError{Kind: NetworkInvalidResponse, Op: op, Err: err}
}

// Network classifies a transport error as a timeout or unreachable.
func Network(op string, err error) error {
	var ne net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &ne) && ne.Timeout()) {
		return &NetworkError{Kind: NetworkTimeout, Op: op, Err: err}
	}
	return &NetworkError{Kind: NetworkUnreachable, Op: op, Err: err}
}
