//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net"
	"net/textproto"
	"syscall"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/netmedia/pkg/errors"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read tcp: deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyKind_TypedErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		expected errors.Kind
	}{
		{"context canceled", context.Canceled, errors.KindCancelled},
		{"deadline exceeded", fmt.Errorf("list: %w", context.DeadlineExceeded), errors.KindTimeout},
		{"net timeout", timeoutErr{}, errors.KindTimeout},
		{"connection refused", &net.OpError{Op: "read", Err: syscall.ECONNREFUSED}, errors.KindConnectionUnreachable},
		{"dial error", &net.OpError{Op: "dial", Err: stderrors.New("weird")}, errors.KindConnectionUnreachable},
		{"dns", &net.DNSError{Name: "nas"}, errors.KindConnectionUnreachable},
		{"not exist", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, errors.KindNotFound},
		{"permission", fs.ErrPermission, errors.KindPermissionDenied},
		{"ftp 530", &textproto.Error{Code: 530, Msg: "Login incorrect"}, errors.KindAuthenticationFailed},
		{"ftp 550", &textproto.Error{Code: 550, Msg: "No such file"}, errors.KindNotFound},
		{"ftp 553", &textproto.Error{Code: 553, Msg: "Not allowed"}, errors.KindPermissionDenied},
		{"ftp 500", &textproto.Error{Code: 500, Msg: "Syntax error"}, errors.KindProtocolError},
		{"message only", stderrors.New("ssh: unable to authenticate, attempted methods [none password]"), errors.KindAuthenticationFailed},
		{"unknown", stderrors.New("something odd"), errors.KindUnknown},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := errors.ClassifyKind(testCase.err)
			if got != testCase.expected {
				t.Errorf("ClassifyKind(%v) = %q, want %q", testCase.err, got, testCase.expected)
			}
		})
	}
}

func TestClassify_KeepsExistingKindAndFillsMissingContext(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bare := &errors.Error{Kind: errors.KindTimeout}
	classified := errors.Classify("list", "/photos", bare)

	var typed *errors.Error
	g.Expect(stderrors.As(classified, &typed)).Should(BeTrue())
	g.Expect(typed.Kind).Should(Equal(errors.KindTimeout))
	g.Expect(typed.Op).Should(Equal("list"))
	g.Expect(typed.Path).Should(Equal("/photos"))

	withContext := errors.New(errors.KindNotFound, "stat", "/a", nil)
	g.Expect(errors.Classify("list", "/b", withContext)).Should(BeIdenticalTo(withContext))

	g.Expect(errors.Classify("list", "/b", nil)).Should(BeNil())
}

func TestFTPReplyKind_DataConnectionFailureIsTimeout(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(errors.FTPReplyKind(425)).Should(Equal(errors.KindTimeout))
	g.Expect(errors.FTPReplyKind(421)).Should(Equal(errors.KindConnectionUnreachable))
}
