package errors

import (
	"context"
	stderrors "errors"
	"io/fs"
	"net"
	"net/textproto"
	"os"
	"syscall"
)

// As is errors.As from the standard library, re-exported so callers importing
// this package under its own name do not need a second import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Classify converts any error into an *Error with a taxonomy kind.
// Returns nil for nil. An error that already carries a kind keeps it; op and
// path are only filled in when the existing error has none.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if As(err, &typed) {
		if typed.Op != "" || typed.Path != "" {
			return typed
		}

		filled := *typed
		filled.Op = op
		filled.Path = path

		return &filled
	}

	return New(ClassifyKind(err), op, path, err)
}

// ClassifyKind determines the taxonomy kind of a raw transport error.
//
// Typed checks run first (context, net, syscall, fs, FTP reply codes); the
// message-based PatternMatcher is the fallback for libraries that only expose
// error text.
//
//nolint:cyclop // Linear sequence of independent typed checks
func ClassifyKind(err error) Kind {
	if err == nil {
		return ""
	}

	switch {
	case Is(err, context.Canceled):
		return KindCancelled
	case Is(err, context.DeadlineExceeded), Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case Is(err, syscall.ECONNREFUSED), Is(err, syscall.EHOSTUNREACH),
		Is(err, syscall.ENETUNREACH), Is(err, syscall.ECONNRESET):
		return KindConnectionUnreachable
	case Is(err, fs.ErrNotExist):
		return KindNotFound
	case Is(err, fs.ErrPermission):
		return KindPermissionDenied
	}

	var netErr net.Error
	if As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if As(err, &dnsErr) {
		return KindConnectionUnreachable
	}

	var replyErr *textproto.Error
	if As(err, &replyErr) {
		return FTPReplyKind(replyErr.Code)
	}

	var opErr *net.OpError
	if As(err, &opErr) && opErr.Op == "dial" {
		return KindConnectionUnreachable
	}

	return NewPatternMatcher().Match(err.Error())
}

// FTPReplyKind maps an FTP reply code to a taxonomy kind.
// Any non-2xx code that is not otherwise recognised is a ProtocolError.
func FTPReplyKind(code int) Kind {
	switch code {
	case 530, 331, 332: //nolint:mnd // FTP reply codes: not logged in, need password, need account
		return KindAuthenticationFailed
	case 550: //nolint:mnd // Requested action not taken: file unavailable
		return KindNotFound
	case 532, 553: //nolint:mnd // Need account for storing, file name not allowed
		return KindPermissionDenied
	case 421: //nolint:mnd // Service not available, closing control connection
		return KindConnectionUnreachable
	case 425: //nolint:mnd // Can't open data connection
		return KindTimeout
	default:
		return KindProtocolError
	}
}
