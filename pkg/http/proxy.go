package http

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	errors2 "github.com/assetnote/kiteupload/pkg/errors"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// Proxies maps a url scheme, "scheme://host" or "all" to a proxy url, the same way requests style clients do.
// An empty value disables proxying for that key
type Proxies map[string]string

// For returns the proxy to use for u, or nil when the request goes direct
func (p Proxies) For(u *url.URL) (*url.URL, error) {
	if len(p) == 0 {
		return nil, nil
	}
	for _, k := range []string{u.Scheme + "://" + u.Hostname(), u.Scheme, "all"} {
		v, ok := p[k]
		if !ok {
			continue
		}
		if v == "" {
			return nil, nil
		}
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		proxy, err := url.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", k, err)
		}
		return proxy, nil
	}
	return nil, nil
}

// tunnelDialer opens CONNECT tunnels through an http or https proxy
type tunnelDialer struct {
	proxy     *url.URL
	dial      DialFunc
	tlsConfig *tls.Config
}

// TunnelDialer returns a DialFunc that reaches its address through a CONNECT tunnel on proxy.
// Every failure, including failing to reach the proxy, is reported as a ProxyNegotiationError
func TunnelDialer(proxy *url.URL, dial DialFunc, proxyTLS *tls.Config) DialFunc {
	if dial == nil {
		dial = fasthttp.DialTimeout
	}
	d := &tunnelDialer{proxy: proxy, dial: dial, tlsConfig: proxyTLS}
	return d.Dial
}

func (d *tunnelDialer) fail(target string, status int, err error) error {
	return &errors2.ProxyNegotiationError{
		Proxy:      d.proxy.Redacted(),
		Target:     target,
		StatusCode: status,
		Err:        err,
	}
}

func (d *tunnelDialer) Dial(addr string, timeout time.Duration) (net.Conn, error) {
	if d.proxy.Scheme != "http" && d.proxy.Scheme != "https" {
		return nil, d.fail(addr, 0, fmt.Errorf("unsupported proxy scheme %q", d.proxy.Scheme))
	}
	conn, err := d.dial(hostPort(d.proxy), timeout)
	if err != nil {
		return nil, d.fail(addr, 0, err)
	}
	if d.proxy.Scheme == "https" {
		cfg := d.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: d.proxy.Hostname()}
		}
		if conn, err = handshake(conn, hostPort(d.proxy), cfg, timeout); err != nil {
			return nil, d.fail(addr, 0, err)
		}
	}

	conn.SetDeadline(deadline(timeout))
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = append(buf.B, "CONNECT "...)
	buf.B = append(buf.B, addr...)
	buf.B = append(buf.B, " HTTP/1.1\r\nHost: "...)
	buf.B = append(buf.B, addr...)
	buf.B = append(buf.B, "\r\n"...)
	if auth := proxyAuthorization(d.proxy); auth != "" {
		buf.B = append(buf.B, "Proxy-Authorization: "...)
		buf.B = append(buf.B, auth...)
		buf.B = append(buf.B, "\r\n"...)
	}
	buf.B = append(buf.B, "\r\n"...)
	if _, err := conn.Write(buf.B); err != nil {
		conn.Close()
		return nil, d.fail(addr, 0, err)
	}

	rec := &readRecorder{r: conn}
	br := bufio.NewReader(rec)
	var h fasthttp.ResponseHeader
	if err := readHeader(&h, br, rec); err != nil {
		conn.Close()
		return nil, d.fail(addr, 0, err)
	}
	if code := h.StatusCode(); code < 200 || code > 299 {
		conn.Close()
		log.Debug().Str("proxy", d.proxy.Redacted()).Str("target", addr).Int("status", code).Msg("proxy refused tunnel")
		return nil, d.fail(addr, code, nil)
	}
	conn.SetDeadline(time.Time{})

	if br.Buffered() > 0 {
		// the proxy sent tunnel bytes along with its reply
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

func proxyAuthorization(proxy *url.URL) string {
	if proxy.User == nil {
		return ""
	}
	pass, _ := proxy.User.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(proxy.User.Username()+":"+pass))
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

var schemePorts = map[string]string{
	"http": "80", "https": "443",
}

// hostPort returns the host:port to dial for u, filling in the scheme's default port
func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = schemePorts[u.Scheme]
	}
	return net.JoinHostPort(u.Hostname(), port)
}
