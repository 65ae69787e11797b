package http

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/ioutil"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	errors2 "github.com/assetnote/kiteupload/pkg/errors"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/hashicorp/go-multierror"
	"github.com/valyala/fasthttp"
)

const (
	DefaultUserAgent           = "kiteupload/1.0"
	DefaultMaxIdleConnsPerHost = 8
)

var (
	// ErrInvalidURL is returned for urls that cannot be uploaded to
	ErrInvalidURL = errors.New("invalid upload url")
)

// Verify controls peer certificate verification. The zero value verifies against the system roots
type Verify struct {
	// Skip disables certificate verification entirely
	Skip bool `toml:"skip" json:"skip" mapstructure:"skip"`
	// CABundle is a PEM file of trusted roots used instead of the system roots
	CABundle string `toml:"ca_bundle" json:"ca_bundle" mapstructure:"ca_bundle"`
}

// ClientCert is a PEM encoded client certificate and key pair presented during the handshake
type ClientCert struct {
	CertFile string `toml:"cert" json:"cert" mapstructure:"cert"`
	KeyFile  string `toml:"key" json:"key" mapstructure:"key"`
}

// Adapter is the collaborator an UploadStream relies on for everything outside the raw protocol:
// connection acquisition, certificate policy, the url placed on the wire, default headers and
// the construction of the caller facing response
type Adapter interface {
	GetConnection(rawurl string, proxies Proxies) (Connection, error)
	CertVerify(conn Connection, rawurl string, verify Verify, cert *ClientCert, assertHostname string) error
	RequestURL(req *Request, proxies Proxies) (string, error)
	// AddHeaders fills in default headers, mutating req.Headers in place
	AddHeaders(req *Request)
	BuildResponse(req *Request, raw *StreamingResponse) (*Response, error)
}

// AdapterConfig provides the options of a HostAdapter
type AdapterConfig struct {
	MaxConnsPerHost     int           `toml:"max_conns_per_host" json:"max_conns_per_host" mapstructure:"max_conns_per_host"`
	MaxIdleConnsPerHost int           `toml:"max_idle_conns_per_host" json:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
	MaxIdleConnDuration time.Duration `toml:"max_idle_conn_duration" json:"max_idle_conn_duration" mapstructure:"max_idle_conn_duration"`
	UserAgent           string        `toml:"user_agent" json:"user_agent" mapstructure:"user_agent"`

	// DefaultHeaders are added by AddHeaders when the request does not carry them already
	DefaultHeaders Headers

	// Dial is used to open plain connections, to origins and proxies alike
	Dial DialFunc
	// ProxyTLSConfig is used when talking to https proxies
	ProxyTLSConfig *tls.Config
}

type AdapterOption func(*AdapterConfig)

func MaxConnsPerHost(n int) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxConnsPerHost = n
	}
}

func MaxIdleConnsPerHost(n int) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxIdleConnsPerHost = n
	}
}

func MaxIdleConnDuration(d time.Duration) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxIdleConnDuration = d
	}
}

func UserAgent(ua string) AdapterOption {
	return func(c *AdapterConfig) {
		c.UserAgent = ua
	}
}

func DefaultHeaders(h ...Header) AdapterOption {
	return func(c *AdapterConfig) {
		for _, v := range h {
			c.DefaultHeaders.Set(v.Key, v.Value)
		}
	}
}

func Dial(d DialFunc) AdapterOption {
	return func(c *AdapterConfig) {
		c.Dial = d
	}
}

func ProxyTLSConfig(cfg *tls.Config) AdapterOption {
	return func(c *AdapterConfig) {
		c.ProxyTLSConfig = cfg
	}
}

// HostAdapter is the default Adapter. It keeps one HostPool per origin (and per proxy) and
// tunnels every proxied upload through CONNECT
type HostAdapter struct {
	Config AdapterConfig

	mu     sync.Mutex
	pools  map[string]*HostPool
	leases int64
}

var _ Adapter = &HostAdapter{}

func NewHostAdapter(opts ...AdapterOption) *HostAdapter {
	a := &HostAdapter{
		Config: AdapterConfig{
			MaxConnsPerHost:     fasthttp.DefaultMaxConnsPerHost,
			MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
			MaxIdleConnDuration: fasthttp.DefaultMaxIdleConnDuration,
			UserAgent:           DefaultUserAgent,
			DefaultHeaders: Headers{
				{Key: "Accept", Value: "*/*"},
				{Key: "Connection", Value: "keep-alive"},
			},
		},
		pools: make(map[string]*HostPool),
	}
	for _, o := range opts {
		o(&a.Config)
	}
	return a
}

func parseUploadURL(rawurl string) (*url.URL, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawurl)
	}
	return u, nil
}

// GetConnection borrows the pool for the url's origin. Proxied origins are returned as a *Tunneled
// connection around the pool dialing through the proxy
func (a *HostAdapter) GetConnection(rawurl string, proxies Proxies) (Connection, error) {
	u, err := parseUploadURL(rawurl)
	if err != nil {
		return nil, err
	}
	proxy, err := proxies.For(u)
	if err != nil {
		return nil, err
	}

	addr := hostPort(u)
	key := u.Scheme + "://" + addr
	if proxy != nil {
		key = "proxy-tunnel://" + proxy.Redacted() + "->" + key
	}

	a.mu.Lock()
	if a.pools == nil {
		a.pools = make(map[string]*HostPool)
	}
	p, ok := a.pools[key]
	if !ok {
		p = NewHostPool(addr, u.Host, u.Scheme == "https")
		p.MaxConns = a.Config.MaxConnsPerHost
		p.MaxIdleConns = a.Config.MaxIdleConnsPerHost
		p.MaxIdleConnDuration = a.Config.MaxIdleConnDuration
		p.Dial = a.Config.Dial
		if proxy != nil {
			p.Dial = TunnelDialer(proxy, a.Config.Dial, a.Config.ProxyTLSConfig)
		}
		a.pools[key] = p
		log.Debug().Str("pool", key).Msg("created connection pool")
	}
	a.mu.Unlock()

	atomic.AddInt64(&a.leases, 1)
	direct := NewDirect(p, func() {
		atomic.AddInt64(&a.leases, -1)
	})
	if proxy != nil {
		return &Tunneled{Proxy: proxy, Inner: direct}, nil
	}
	return direct, nil
}

// Leases returns the number of connections borrowed and not yet closed
func (a *HostAdapter) Leases() int64 {
	return atomic.LoadInt64(&a.leases)
}

// CertVerify binds the tls policy to conn. Pooled connections are only reused by uploads with the
// same policy. Only https urls are affected. Failing to load the CA bundle or the client certificate is
// reported as a HandshakeError
func (a *HostAdapter) CertVerify(conn Connection, rawurl string, verify Verify, cert *ClientCert, assertHostname string) error {
	u, err := parseUploadURL(rawurl)
	if err != nil {
		return err
	}
	if u.Scheme != "https" {
		return nil
	}
	direct, err := innermost(conn)
	if err != nil {
		return err
	}

	cfg := &tls.Config{
		ServerName: u.Hostname(),
		NextProtos: []string{"http/1.1"},
	}
	if verify.Skip {
		cfg.InsecureSkipVerify = true
	} else {
		var roots *x509.CertPool
		if verify.CABundle != "" {
			pem, err := ioutil.ReadFile(verify.CABundle)
			if err != nil {
				return &errors2.HandshakeError{Host: u.Host, Err: err}
			}
			roots = x509.NewCertPool()
			if !roots.AppendCertsFromPEM(pem) {
				return &errors2.HandshakeError{Host: u.Host, Err: fmt.Errorf("no certificates found in %s", verify.CABundle)}
			}
		}
		if assertHostname != "" {
			// chain verification still happens, against the asserted name instead of the SNI name
			cfg.InsecureSkipVerify = true
			cfg.VerifyPeerCertificate = verifyHostname(assertHostname, roots)
		} else {
			cfg.RootCAs = roots
		}
	}
	var certFile, keyFile string
	if cert != nil && cert.CertFile != "" {
		certFile, keyFile = cert.CertFile, cert.KeyFile
		if keyFile == "" {
			keyFile = certFile
		}
		pair, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return &errors2.HandshakeError{Host: u.Host, Err: err}
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	policy := fmt.Sprintf("skip=%t ca=%q cert=%q key=%q assert=%q",
		verify.Skip, verify.CABundle, certFile, keyFile, assertHostname)
	direct.useTLS(cfg, policy)
	return nil
}

func verifyHostname(name string, roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("peer presented no certificates")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			c, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs = append(certs, c)
		}
		opts := x509.VerifyOptions{
			DNSName:       name,
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
		}
		for _, c := range certs[1:] {
			opts.Intermediates.AddCert(c)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}

// RequestURL returns the origin-form target for the request line. Proxied uploads run through a
// CONNECT tunnel, so the proxy never needs the absolute form
func (a *HostAdapter) RequestURL(req *Request, proxies Proxies) (string, error) {
	u, err := parseUploadURL(req.URL)
	if err != nil {
		return "", err
	}
	return u.RequestURI(), nil
}

// AddHeaders fills Host, User-Agent and the configured default headers when the request lacks them
func (a *HostAdapter) AddHeaders(req *Request) {
	if u, err := url.Parse(req.URL); err == nil && u.Host != "" {
		req.Headers.SetDefault("Host", u.Host)
	}
	if a.Config.UserAgent != "" {
		req.Headers.SetDefault("User-Agent", a.Config.UserAgent)
	}
	for _, h := range a.Config.DefaultHeaders {
		req.Headers.SetDefault(h.Key, h.Value)
	}
}

// BuildResponse copies the status line and headers out of raw. The body stays on raw until
// Response.Content is called
func (a *HostAdapter) BuildResponse(req *Request, raw *StreamingResponse) (*Response, error) {
	if raw == nil {
		return nil, errors.New("nil raw response")
	}
	return &Response{
		StatusCode:  raw.StatusCode(),
		HTTPVersion: raw.HTTPVersion(),
		Headers:     raw.Headers(),
		URL:         req.URL,
		Request:     req,
		Raw:         raw,
	}, nil
}

// Close closes every pool and forgets them. Borrowed connections stay usable until released,
// but are not returned to an idle list any more
func (a *HostAdapter) Close() error {
	a.mu.Lock()
	pools := a.pools
	a.pools = make(map[string]*HostPool)
	a.mu.Unlock()

	var merr *multierror.Error
	for _, p := range pools {
		merr = multierror.Append(merr, p.Close())
	}
	return merr.ErrorOrNil()
}
