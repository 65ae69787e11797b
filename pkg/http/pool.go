package http

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	errors2 "github.com/assetnote/kiteupload/pkg/errors"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/hashicorp/go-multierror"
	"github.com/valyala/fasthttp"
)

var (
	// ErrPoolClosed is returned when a raw connection is requested from a closed pool
	ErrPoolClosed = errors.New("connection pool is closed")
)

// DefaultDialTimeout bounds dialing when no connect timeout is configured, matching fasthttp.Dial
const DefaultDialTimeout = 3 * time.Second

// DialFunc opens a plain connection to addr within timeout. fasthttp.DialTimeout is the default
type DialFunc func(addr string, timeout time.Duration) (net.Conn, error)

// Pool hands out raw connections to a single origin and takes them back once a response has been consumed
type Pool interface {
	// RawConn returns an idle connection or dials a new one bounded by timeout.Connect
	RawConn(timeout Timeout) (LowLevelConnection, error)
	// Release gives a connection back. Connections that are not reusable are closed
	Release(c LowLevelConnection, reusable bool) error
	// Close closes all idle connections and refuses new requests
	Close() error
}

// HostPool is a Pool of HTTP/1.1 connections to one address. Connections are dialed lazily
// and at most MaxConns are open at the same time
type HostPool struct {
	// Addr is the host:port dialed
	Addr string
	// HostHeader is the value of the automatic Host header
	HostHeader string
	IsTLS      bool
	// Dial defaults to fasthttp.DialTimeout. Proxied pools dial through a CONNECT tunnel
	Dial DialFunc

	MaxConns            int
	MaxIdleConns        int
	MaxIdleConnDuration time.Duration

	mu     sync.Mutex
	idle   []*rawConn
	conns  int
	closed bool
}

// NewHostPool creates a pool for addr with the fasthttp default limits
func NewHostPool(addr, hostHeader string, isTLS bool) *HostPool {
	return &HostPool{
		Addr:                addr,
		HostHeader:          hostHeader,
		IsTLS:               isTLS,
		MaxConns:            fasthttp.DefaultMaxConnsPerHost,
		MaxIdleConns:        DefaultMaxIdleConnsPerHost,
		MaxIdleConnDuration: fasthttp.DefaultMaxIdleConnDuration,
	}
}

// WithTLS returns a view of the pool that dials with cfg and only reuses idle connections that were
// dialed under the same policy. The view shares limits and idle connections with p
func (p *HostPool) WithTLS(cfg *tls.Config, policy string) Pool {
	return &policyPool{HostPool: p, cfg: cfg, policy: policy}
}

// policyPool binds a HostPool to one tls policy
type policyPool struct {
	*HostPool
	cfg    *tls.Config
	policy string
}

func (p *policyPool) RawConn(t Timeout) (LowLevelConnection, error) {
	return p.HostPool.rawConn(t, p.cfg, p.policy)
}

// RawConn returns a connection dialed with the default tls configuration
func (p *HostPool) RawConn(t Timeout) (LowLevelConnection, error) {
	return p.rawConn(t, nil, "")
}

func (p *HostPool) rawConn(t Timeout, cfg *tls.Config, policy string) (LowLevelConnection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.pruneLocked()
	for i := len(p.idle) - 1; i >= 0; i-- {
		c := p.idle[i]
		if c.policy != policy {
			continue
		}
		p.idle = append(p.idle[:i], p.idle[i+1:]...)
		p.mu.Unlock()
		c.timeout = t
		log.Trace().Str("addr", p.Addr).Msg("reusing idle connection")
		return c, nil
	}
	if p.MaxConns > 0 && p.conns >= p.MaxConns {
		if len(p.idle) == 0 {
			p.mu.Unlock()
			return nil, fasthttp.ErrNoFreeConns
		}
		// make room by dropping the oldest idle connection of another policy
		old := p.idle[0]
		p.idle = p.idle[1:]
		p.conns--
		old.Close()
	}
	p.conns++
	p.mu.Unlock()

	c, err := p.dial(t, cfg)
	if err != nil {
		p.mu.Lock()
		p.conns--
		p.mu.Unlock()
		return nil, err
	}
	c.policy = policy
	return c, nil
}

// pruneLocked closes idle connections unused for longer than MaxIdleConnDuration
func (p *HostPool) pruneLocked() {
	if p.MaxIdleConnDuration <= 0 {
		return
	}
	idle := p.idle[:0]
	for _, c := range p.idle {
		if time.Since(c.lastUse) > p.MaxIdleConnDuration {
			p.conns--
			c.Close()
			continue
		}
		idle = append(idle, c)
	}
	for i := len(idle); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = idle
}

func (p *HostPool) dial(t Timeout, cfg *tls.Config) (*rawConn, error) {
	dial := p.Dial
	if dial == nil {
		dial = fasthttp.DialTimeout
	}
	connect := t.Connect
	if connect <= 0 {
		connect = DefaultDialTimeout
	}
	conn, err := dial(p.Addr, connect)
	if err != nil {
		return nil, err
	}
	if p.IsTLS {
		if conn, err = handshake(conn, p.Addr, cfg, connect); err != nil {
			return nil, err
		}
	}
	log.Trace().Str("addr", p.Addr).Bool("tls", p.IsTLS).Msg("dialed new connection")
	return newRawConn(conn, p.HostHeader, t), nil
}

// handshake performs the client handshake on conn, bounded by the connect timeout.
// conn is closed on failure
func handshake(conn net.Conn, addr string, cfg *tls.Config, timeout time.Duration) (net.Conn, error) {
	if cfg == nil {
		host, _, _ := net.SplitHostPort(addr)
		cfg = &tls.Config{ServerName: host}
	}
	tc := tls.Client(conn, cfg)
	tc.SetDeadline(deadline(timeout))
	if err := tc.Handshake(); err != nil {
		conn.Close()
		return nil, &errors2.HandshakeError{Host: addr, Err: err}
	}
	tc.SetDeadline(time.Time{})
	return tc, nil
}

func (p *HostPool) Release(c LowLevelConnection, reusable bool) error {
	rc, ok := c.(*rawConn)
	if !ok {
		return c.Close()
	}
	p.mu.Lock()
	if reusable && !rc.closed && !p.closed && len(p.idle) < p.MaxIdleConns {
		rc.reset()
		p.idle = append(p.idle, rc)
		p.mu.Unlock()
		return nil
	}
	p.conns--
	p.mu.Unlock()
	return rc.Close()
}

func (p *HostPool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.conns -= len(idle)
	p.closed = true
	p.mu.Unlock()

	var merr *multierror.Error
	for _, c := range idle {
		merr = multierror.Append(merr, c.Close())
	}
	return merr.ErrorOrNil()
}

// Stats reports the number of open and idle connections
func (p *HostPool) Stats() (open, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns, len(p.idle)
}
