package http

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
)

var (
	// ErrConnectionReleased is returned when a Connection is closed a second time
	ErrConnectionReleased = errors.New("connection already released")
)

// Connection is a pooled route to an origin borrowed for the lifetime of one upload.
// It is a closed union: either a *Direct connection exposing its Pool, or a *Tunneled connection
// reached through a proxy wrapping an inner Connection. Use PoolOf to get the pool raw connections
// must be requested from
type Connection interface {
	// Close returns the connection to its owner. It must be called exactly once
	Close() error

	connection()
}

// Direct is a Connection whose Pool talks to the origin, or to the tunnel endpoint, directly
type Direct struct {
	Pool Pool

	release   func()
	closed    int32
	tlsConfig *tls.Config
	tlsPolicy string
}

// NewDirect borrows pool. release is invoked once when the connection is closed
func NewDirect(pool Pool, release func()) *Direct {
	return &Direct{Pool: pool, release: release}
}

func (d *Direct) connection() {}

// useTLS binds the lease to a tls policy. Raw connections are then dialed with cfg and idle
// connections are only reused when they were dialed under the same policy
func (d *Direct) useTLS(cfg *tls.Config, policy string) {
	d.tlsConfig = cfg
	d.tlsPolicy = policy
}

func (d *Direct) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return ErrConnectionReleased
	}
	if d.release != nil {
		d.release()
	}
	return nil
}

// Tunneled is a Connection reached through Proxy. Raw connections must never be requested from
// the wrapper itself, only from Inner
type Tunneled struct {
	Proxy *url.URL
	Inner Connection
}

func (t *Tunneled) connection() {}

// Close releases the inner connection
func (t *Tunneled) Close() error {
	return t.Inner.Close()
}

// PoolOf unwraps tunneled connections and returns the pool of the innermost Direct connection,
// bound to the tls policy of that connection when one was set
func PoolOf(c Connection) (Pool, error) {
	d, err := innermost(c)
	if err != nil {
		return nil, err
	}
	if d.Pool == nil {
		return nil, errors.New("direct connection without a pool")
	}
	if d.tlsConfig != nil {
		if bp, ok := d.Pool.(interface {
			WithTLS(*tls.Config, string) Pool
		}); ok {
			return bp.WithTLS(d.tlsConfig, d.tlsPolicy), nil
		}
	}
	return d.Pool, nil
}

func innermost(c Connection) (*Direct, error) {
	switch v := c.(type) {
	case *Direct:
		return v, nil
	case *Tunneled:
		if v.Inner == nil {
			return nil, errors.New("tunneled connection without an inner connection")
		}
		return innermost(v.Inner)
	default:
		return nil, fmt.Errorf("unsupported connection type %T", c)
	}
}
