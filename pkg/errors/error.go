package errors

import (
	"fmt"
)

// Kind is one member of the closed taxonomy returned by upload operations
type Kind int

const (
	// KindConnection covers socket failures and pool exhaustion
	KindConnection Kind = iota + 1
	// KindProxy covers failures negotiating with a proxy
	KindProxy
	// KindSSL covers certificate and TLS handshake failures
	KindSSL
	// KindTimeout covers connect or read deadlines being exceeded
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindProxy:
		return "ProxyError"
	case KindSSL:
		return "SSLError"
	case KindTimeout:
		return "Timeout"
	default:
		return "UnknownError"
	}
}

// Sentinels for use with errors.Is. A *Error matches the sentinel of its kind
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrProxy      = &Error{Kind: KindProxy}
	ErrSSL        = &Error{Kind: KindSSL}
	ErrTimeout    = &Error{Kind: KindTimeout}
)

// Error is a translated transport error. Op names the public operation that failed
// (open, write, close) and Err holds the low-level cause
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Timeout satisfies the net.Error style Timeout check
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// ProxyNegotiationError is raised by the transport when a proxy cannot be reached or refuses
// to open a tunnel. StatusCode is 0 when the proxy never answered
type ProxyNegotiationError struct {
	Proxy      string
	Target     string
	StatusCode int
	Err        error
}

func (p *ProxyNegotiationError) Error() string {
	if p.Err != nil {
		return fmt.Sprintf("proxy %s: tunnel to %s: %v", p.Proxy, p.Target, p.Err)
	}
	return fmt.Sprintf("proxy %s: tunnel to %s refused with status %d", p.Proxy, p.Target, p.StatusCode)
}

func (p *ProxyNegotiationError) Unwrap() error {
	return p.Err
}

// HandshakeError is raised by the transport when TLS cannot be established or configured for Host
type HandshakeError struct {
	Host string
	Err  error
}

func (h *HandshakeError) Error() string {
	return fmt.Sprintf("tls %s: %v", h.Host, h.Err)
}

func (h *HandshakeError) Unwrap() error {
	return h.Err
}
