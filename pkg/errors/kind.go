package errors

import (
	"fmt"
	"strings"
)

// Exported constants.
const (
	KindAuthenticationFailed  Kind = "authentication_failed"
	KindCancelled             Kind = "cancelled"
	KindConnectionUnreachable Kind = "connection_unreachable"
	KindNoCredentials         Kind = "no_credentials"
	KindNoStrategyForProtocol Kind = "no_strategy_for_protocol"
	KindNotFound              Kind = "not_found"
	KindPartialTransfer       Kind = "partial_transfer"
	KindPermissionDenied      Kind = "permission_denied"
	KindProtocolError         Kind = "protocol_error"
	KindTimeout               Kind = "timeout"
	KindUnknown               Kind = "unknown"

	// LegDownload marks the source-to-staging half of a bridged transfer.
	LegDownload Leg = "download"
	// LegUpload marks the staging-to-destination half of a bridged transfer.
	LegUpload Leg = "upload"
)

// Exported variables.
//
// Sentinels match any *Error of the same Kind under errors.Is.
var (
	ErrAuthenticationFailed  = &Error{Kind: KindAuthenticationFailed}
	ErrCancelled             = &Error{Kind: KindCancelled}
	ErrConnectionUnreachable = &Error{Kind: KindConnectionUnreachable}
	ErrNoCredentials         = &Error{Kind: KindNoCredentials}
	ErrNoStrategyForProtocol = &Error{Kind: KindNoStrategyForProtocol}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrPartialTransfer       = &Error{Kind: KindPartialTransfer}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrProtocolError         = &Error{Kind: KindProtocolError}
	ErrTimeout               = &Error{Kind: KindTimeout}
)

// Kind is the engine-wide error taxonomy. Every I/O boundary returns an *Error
// carrying one of these kinds instead of a transport-specific error type.
type Kind string

// Leg identifies which half of a bridged transfer failed.
type Leg string

// Error is the single error type returned from protocol clients, scanners and
// transfer strategies.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Leg  Leg
	Err  error
}

// New creates an *Error.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// Newf creates an *Error whose cause is a formatted message.
func Newf(kind Kind, op, path, format string, args ...any) *Error {
	return New(kind, op, path, fmt.Errorf(format, args...)) //nolint:err113 // Dynamic cause text
}

// Error implements the error interface.
// Format: "<op> <path>: [<leg> failed: ]<kind>: <cause>".
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Op != "" {
		builder.WriteString(e.Op)
	}

	if e.Path != "" {
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}

		builder.WriteString(e.Path)
	}

	if builder.Len() > 0 {
		builder.WriteString(": ")
	}

	if e.Leg != "" {
		builder.WriteString(string(e.Leg))
		builder.WriteString(" failed: ")
	}

	builder.WriteString(string(e.Kind))

	if e.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Is reports whether target is a kind sentinel (an *Error with only Kind set)
// of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error) //nolint:errorlint // Sentinel comparison, not a wrapped chain
	if !ok {
		return false
	}

	if t.Op != "" || t.Path != "" || t.Leg != "" || t.Err != nil {
		return false
	}

	return e.Kind == t.Kind
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the taxonomy kind of err.
// Returns "" for nil and KindUnknown for errors that never passed through Classify.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var typed *Error
	if As(err, &typed) {
		return typed.Kind
	}

	return KindUnknown
}

// LegOf returns the failing transfer leg recorded anywhere in err's chain.
func LegOf(err error) Leg {
	var typed *Error
	if As(err, &typed) {
		return typed.Leg
	}

	return ""
}

// WithLeg returns a copy of err tagged with the failing transfer leg.
// Errors that are not *Error are classified first.
func WithLeg(err error, leg Leg) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if !As(err, &typed) {
		typed = Classify("", "", err).(*Error) //nolint:forcetypeassert // Classify always returns *Error for non-nil input
	}

	tagged := *typed
	tagged.Leg = leg

	return &tagged
}
