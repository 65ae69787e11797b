package errors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/valyala/fasthttp"
)

// maxChainDepth bounds the walk over wrapped errors
const maxChainDepth = 32

type classifier struct {
	kind  Kind
	match func(err error) bool
}

// classifiers are checked in order against every link of the error chain, so a deadline
// wrapped inside a proxy or tls failure still surfaces as a timeout
var classifiers = []classifier{
	{KindTimeout, isTimeout},
	{KindProxy, isProxy},
	{KindSSL, isSSL},
	{KindConnection, isSocket},
	{KindConnection, isPoolExhausted},
}

// Translate maps err onto the upload error taxonomy for the operation op.
// nil stays nil, an already translated error is returned as is and an error that matches
// none of the recognised transport conditions is returned unchanged.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var translated *Error
	if errors.As(err, &translated) {
		return err
	}
	kind, ok := Classify(err)
	if !ok {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify reports which taxonomy kind err belongs to, if any
func Classify(err error) (Kind, bool) {
	links := chain(err)
	for _, c := range classifiers {
		for _, l := range links {
			if c.match(l) {
				return c.kind, true
			}
		}
	}
	return 0, false
}

// IsKind returns true if err has been translated into kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// chain flattens err following both Unwrap and the github.com/pkg/errors Cause convention
func chain(err error) []error {
	ret := make([]error, 0, 4)
	for err != nil && len(ret) < maxChainDepth {
		ret = append(ret, err)
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		case interface{ Cause() error }:
			err = e.Cause()
		default:
			err = nil
		}
	}
	return ret
}

func isTimeout(err error) bool {
	if err == fasthttp.ErrTimeout ||
		err == fasthttp.ErrDialTimeout ||
		err == os.ErrDeadlineExceeded ||
		err == context.DeadlineExceeded {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

func isProxy(err error) bool {
	_, ok := err.(*ProxyNegotiationError)
	return ok
}

func isSSL(err error) bool {
	switch err.(type) {
	case *HandshakeError,
		tls.RecordHeaderError,
		*tls.RecordHeaderError,
		x509.UnknownAuthorityError,
		*x509.UnknownAuthorityError,
		x509.HostnameError,
		*x509.HostnameError,
		x509.CertificateInvalidError,
		*x509.CertificateInvalidError:
		return true
	}
	return false
}

func isSocket(err error) bool {
	switch err.(type) {
	case *net.OpError, *net.DNSError, *net.AddrError, *os.SyscallError, syscall.Errno:
		return true
	}
	return err == fasthttp.ErrConnectionClosed || err == io.ErrUnexpectedEOF
}

func isPoolExhausted(err error) bool {
	return err == fasthttp.ErrNoFreeConns
}
