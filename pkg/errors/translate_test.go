package errors

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTranslate(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}
	unmapped := errors.New("malformed HTTP response")

	tests := []struct {
		name  string
		err   error
		kind  Kind
		match bool
	}{
		{"socket refused", dialErr, KindConnection, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, KindConnection, true},
		{"errno", syscall.ECONNRESET, KindConnection, true},
		{"server closed", fasthttp.ErrConnectionClosed, KindConnection, true},
		{"pool exhausted", fasthttp.ErrNoFreeConns, KindConnection, true},
		{"proxy refused", &ProxyNegotiationError{Proxy: "http://proxy:3128", Target: "a:443", StatusCode: 407}, KindProxy, true},
		{"proxy dial", &ProxyNegotiationError{Proxy: "http://proxy:3128", Err: dialErr}, KindProxy, true},
		{"handshake", &HandshakeError{Host: "a", Err: errors.New("remote error: tls: bad certificate")}, KindSSL, true},
		{"unknown authority", x509.UnknownAuthorityError{}, KindSSL, true},
		{"hostname", x509.HostnameError{Host: "b"}, KindSSL, true},
		{"deadline", os.ErrDeadlineExceeded, KindTimeout, true},
		{"context deadline", context.DeadlineExceeded, KindTimeout, true},
		{"dial timeout", fasthttp.ErrDialTimeout, KindTimeout, true},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindTimeout, true},
		{"timeout inside handshake", &HandshakeError{Host: "a", Err: timeoutErr{}}, KindTimeout, true},
		{"timeout inside proxy", &ProxyNegotiationError{Proxy: "p", Err: fasthttp.ErrDialTimeout}, KindTimeout, true},
		{"fmt wrapped", fmt.Errorf("sending: %w", dialErr), KindConnection, true},
		{"pkg/errors wrapped", pkgerrors.Wrap(x509.UnknownAuthorityError{}, "verifying"), KindSSL, true},
		{"unmapped", unmapped, 0, false},
		{"eof", io.EOF, 0, false},
		{"truncated body", io.ErrUnexpectedEOF, KindConnection, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate("open", tt.err)
			if !tt.match {
				assert.Equal(t, tt.err, got)
				return
			}
			var e *Error
			if assert.True(t, errors.As(got, &e), "expected *Error, got %T", got) {
				assert.Equal(t, tt.kind, e.Kind)
				assert.Equal(t, "open", e.Op)
				assert.Equal(t, tt.err, e.Err)
			}
		})
	}
}

func TestTranslateNil(t *testing.T) {
	assert.Nil(t, Translate("write", nil))
}

func TestTranslateIdempotent(t *testing.T) {
	first := Translate("open", syscall.ECONNREFUSED)
	second := Translate("close", first)
	assert.Equal(t, first, second)
}

func TestErrorIsSentinel(t *testing.T) {
	err := Translate("write", os.ErrDeadlineExceeded)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrConnection))
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))
	assert.True(t, IsKind(err, KindTimeout))

	var ne net.Error
	if assert.True(t, errors.As(err, &ne)) {
		assert.True(t, ne.Timeout())
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindProxy, Op: "open", Err: errors.New("boom")}
	assert.Equal(t, "ProxyError: open: boom", err.Error())
	assert.Equal(t, "SSLError", ErrSSL.Error())
}
