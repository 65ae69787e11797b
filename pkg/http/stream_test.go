package http

import (
	"bytes"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
	"testing"

	errors2 "github.com/assetnote/kiteupload/pkg/errors"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type fakeRaw struct {
	method, target string
	opts           PutRequestOptions
	headers        Headers
	ended          bool
	sent           [][]byte
	closed         int

	errs     map[string]error
	status   int
	respBody string
}

func (f *fakeRaw) fail(call string) error {
	return f.errs[call]
}

func (f *fakeRaw) PutRequest(method, target string, opts PutRequestOptions) error {
	if err := f.fail("PutRequest"); err != nil {
		return err
	}
	f.method, f.target, f.opts = method, target, opts
	return nil
}

func (f *fakeRaw) PutHeader(key, value string) error {
	if err := f.fail("PutHeader"); err != nil {
		return err
	}
	f.headers = append(f.headers, Header{Key: key, Value: value})
	return nil
}

func (f *fakeRaw) EndHeaders() error {
	if err := f.fail("EndHeaders"); err != nil {
		return err
	}
	f.ended = true
	return nil
}

func (f *fakeRaw) Send(p []byte) error {
	if err := f.fail("Send"); err != nil {
		return err
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeRaw) ReadResponse() (*WireResponse, error) {
	if err := f.fail("ReadResponse"); err != nil {
		return nil, err
	}
	h := &fasthttp.ResponseHeader{}
	status := f.status
	if status == 0 {
		status = fasthttp.StatusCreated
	}
	h.SetStatusCode(status)
	h.SetContentLength(len(f.respBody))
	return &WireResponse{Header: h, Body: strings.NewReader(f.respBody), KeepAlive: true}, nil
}

func (f *fakeRaw) Close() error {
	f.closed++
	return nil
}

type release struct {
	conn     LowLevelConnection
	reusable bool
}

type fakePool struct {
	raw      *fakeRaw
	err      error
	rawCalls int
	released []release
}

func (p *fakePool) RawConn(t Timeout) (LowLevelConnection, error) {
	p.rawCalls++
	if p.err != nil {
		return nil, p.err
	}
	return p.raw, nil
}

func (p *fakePool) Release(c LowLevelConnection, reusable bool) error {
	p.released = append(p.released, release{c, reusable})
	return nil
}

func (p *fakePool) Close() error { return nil }

type fakeAdapter struct {
	conn     Connection
	getErr   error
	certErr  error
	getCalls int
	built    int
}

func (a *fakeAdapter) GetConnection(rawurl string, proxies Proxies) (Connection, error) {
	a.getCalls++
	if a.getErr != nil {
		return nil, a.getErr
	}
	return a.conn, nil
}

func (a *fakeAdapter) CertVerify(conn Connection, rawurl string, verify Verify, cert *ClientCert, assertHostname string) error {
	return a.certErr
}

func (a *fakeAdapter) RequestURL(req *Request, proxies Proxies) (string, error) {
	return "/upload", nil
}

func (a *fakeAdapter) AddHeaders(req *Request) {
	req.Headers.SetDefault("User-Agent", "fake")
}

func (a *fakeAdapter) BuildResponse(req *Request, raw *StreamingResponse) (*Response, error) {
	a.built++
	return &Response{StatusCode: raw.StatusCode(), Request: req, Raw: raw}, nil
}

type fixture struct {
	raw      *fakeRaw
	pool     *fakePool
	adapter  *fakeAdapter
	releases int
}

func newFixture() *fixture {
	f := &fixture{raw: &fakeRaw{errs: map[string]error{}, respBody: "ok"}}
	f.pool = &fakePool{raw: f.raw}
	f.adapter = &fakeAdapter{conn: NewDirect(f.pool, func() { f.releases++ })}
	return f
}

func (f *fixture) stream() *UploadStream {
	req := NewRequest("PUT", "http://upload.test/upload", Header{Key: "Content-Length", Value: "6"})
	return NewUploadStream(f.adapter, req)
}

func TestUploadStreamOpenCloseNoWrites(t *testing.T) {
	f := newFixture()
	s := f.stream()

	require.NoError(t, s.Open())
	resp, err := s.Close()
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, fasthttp.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body()))
	assert.Equal(t, 1, f.adapter.built)
	assert.Equal(t, 1, f.releases, "connection must be released exactly once")
	assert.Empty(t, f.raw.sent)
	if assert.Len(t, f.pool.released, 1) {
		assert.True(t, f.pool.released[0].reusable, "a drained keep-alive response is reusable")
	}
}

func TestUploadStreamOpenWritesRequestHead(t *testing.T) {
	f := newFixture()
	req := NewRequest("POST", "http://upload.test/upload",
		Header{Key: "X-B", Value: "2"},
		Header{Key: "x-a", Value: "1"},
		Header{Key: "Content-Length", Value: "6"},
	)
	s := NewUploadStream(f.adapter, req)
	require.NoError(t, s.Open())

	assert.Equal(t, "POST", f.raw.method)
	assert.Equal(t, "/upload", f.raw.target)
	assert.True(t, f.raw.opts.SkipAcceptEncoding)
	assert.True(t, f.raw.ended)

	// the adapter mutates the request in place, and headers go out in request order
	assert.Equal(t, Headers{
		{Key: "X-B", Value: "2"},
		{Key: "x-a", Value: "1"},
		{Key: "Content-Length", Value: "6"},
		{Key: "User-Agent", Value: "fake"},
	}, req.Headers)
	assert.Equal(t, req.Headers, f.raw.headers)
}

func TestUploadStreamWriteBeforeOpen(t *testing.T) {
	f := newFixture()
	s := f.stream()

	n, err := s.Write([]byte("ab"))
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, ErrNotOpen))
	assert.Empty(t, f.raw.sent)
}

func TestUploadStreamCloseNeverOpened(t *testing.T) {
	f := newFixture()
	s := f.stream()

	resp, err := s.Close()
	assert.Nil(t, resp)
	assert.NoError(t, err)
	assert.Equal(t, 0, f.adapter.getCalls)
	assert.Equal(t, 0, f.pool.rawCalls)
}

func TestUploadStreamWritesAreSentVerbatim(t *testing.T) {
	f := newFixture()
	s := f.stream()
	require.NoError(t, s.Open())

	for _, chunk := range []string{"ab", "cd", "ef"} {
		n, err := s.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}
	assert.Equal(t, [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")}, f.raw.sent)
	assert.Equal(t, int64(6), s.Written())

	_, err := s.Close()
	require.NoError(t, err)
}

func TestUploadStreamTunneledUsesInnerPool(t *testing.T) {
	f := newFixture()
	inner := f.adapter.conn
	proxy, _ := url.Parse("http://proxy.test:3128")
	f.adapter.conn = &Tunneled{Proxy: proxy, Inner: inner}

	s := f.stream()
	require.NoError(t, s.Open())
	assert.Equal(t, 1, f.pool.rawCalls)
	assert.True(t, s.pool == Pool(f.pool), "raw connection must come from the inner pool")

	_, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, 1, f.releases)
}

func TestUploadStreamOpenSocketFailure(t *testing.T) {
	f := newFixture()
	sockErr := &net.OpError{Op: "dial", Net: "tcp", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}
	f.pool.err = sockErr
	s := f.stream()

	err := s.Open()
	require.Error(t, err)
	var terr *errors2.Error
	require.True(t, errors.As(err, &terr), "got %T", err)
	assert.Equal(t, errors2.KindConnection, terr.Kind)
	assert.False(t, err == error(sockErr))

	// the connection acquired before the failure is released
	assert.Equal(t, 1, f.releases)

	// a failed stream is unusable
	assert.True(t, errors.Is(s.Open(), ErrInvalidState))
	_, werr := s.Write([]byte("x"))
	assert.True(t, errors.Is(werr, ErrNotOpen))
	resp, cerr := s.Close()
	assert.Nil(t, resp)
	assert.NoError(t, cerr)
	assert.Equal(t, 1, f.releases)
}

func TestUploadStreamErrorTaxonomy(t *testing.T) {
	proxyErr := &errors2.ProxyNegotiationError{Proxy: "http://proxy.test:3128", Target: "upload.test:443", StatusCode: 407}
	certErr := &errors2.HandshakeError{Host: "upload.test", Err: x509.HostnameError{Host: "upload.test"}}

	tests := []struct {
		name  string
		setup func(f *fixture)
		write bool
		want  error
	}{
		{"open proxy", func(f *fixture) { f.pool.err = proxyErr }, false, errors2.ErrProxy},
		{"open cert mismatch", func(f *fixture) { f.adapter.certErr = certErr }, false, errors2.ErrSSL},
		{"open handshake", func(f *fixture) { f.pool.err = certErr }, false, errors2.ErrSSL},
		{"open dial timeout", func(f *fixture) { f.pool.err = fasthttp.ErrDialTimeout }, false, errors2.ErrTimeout},
		{"open header deadline", func(f *fixture) { f.raw.errs["EndHeaders"] = os.ErrDeadlineExceeded }, false, errors2.ErrTimeout},
		{"open pool exhausted", func(f *fixture) { f.pool.err = fasthttp.ErrNoFreeConns }, false, errors2.ErrConnection},
		{"write proxy", func(f *fixture) { f.raw.errs["Send"] = proxyErr }, true, errors2.ErrProxy},
		{"write ssl", func(f *fixture) { f.raw.errs["Send"] = certErr }, true, errors2.ErrSSL},
		{"write deadline", func(f *fixture) { f.raw.errs["Send"] = os.ErrDeadlineExceeded }, true, errors2.ErrTimeout},
		{"write reset", func(f *fixture) { f.raw.errs["Send"] = &net.OpError{Op: "write", Err: syscall.ECONNRESET} }, true, errors2.ErrConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			s := f.stream()

			err := s.Open()
			if tt.write {
				require.NoError(t, err)
				_, err = s.Write([]byte("ab"))
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "want %v got %v", tt.want, err)
		})
	}
}

func TestUploadStreamUnmappedErrorPassesThrough(t *testing.T) {
	f := newFixture()
	f.raw.errs["PutHeader"] = ErrInvalidHeader
	s := f.stream()

	err := s.Open()
	assert.True(t, err == ErrInvalidHeader, "got %v", err)
	assert.Equal(t, 1, f.releases)
	if assert.Len(t, f.pool.released, 1) {
		assert.False(t, f.pool.released[0].reusable)
	}
}

func TestUploadStreamCloseFailureReleases(t *testing.T) {
	f := newFixture()
	f.raw.errs["ReadResponse"] = os.ErrDeadlineExceeded
	s := f.stream()
	require.NoError(t, s.Open())

	resp, err := s.Close()
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, errors2.ErrTimeout))
	assert.Equal(t, 1, f.releases)
	if assert.Len(t, f.pool.released, 1) {
		assert.False(t, f.pool.released[0].reusable)
	}
}

func TestUploadStreamCloseTwiceIsMisuse(t *testing.T) {
	f := newFixture()
	s := f.stream()
	require.NoError(t, s.Open())
	_, err := s.Close()
	require.NoError(t, err)

	resp, err := s.Close()
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, ErrStreamClosed))
	assert.Equal(t, 1, f.releases)

	_, err = s.Write([]byte("late"))
	assert.True(t, errors.Is(err, ErrNotOpen))
}

func TestUploadStreamIsWriter(t *testing.T) {
	f := newFixture()
	s := f.stream()
	require.NoError(t, s.Open())

	var w io.Writer = s
	n, err := io.Copy(w, strings.NewReader("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestUploadStreamAbort(t *testing.T) {
	f := newFixture()
	s := f.stream()

	s.Abort()
	assert.Equal(t, 0, f.adapter.getCalls)

	require.NoError(t, s.Open())
	_, err := s.Write([]byte("ab"))
	require.NoError(t, err)
	s.Abort()
	s.Abort()

	assert.Equal(t, 1, f.releases)
	if assert.Len(t, f.pool.released, 1) {
		assert.False(t, f.pool.released[0].reusable)
	}
	_, err = s.Close()
	assert.True(t, errors.Is(err, ErrStreamClosed))
}

func TestUploadStreamLogsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	require.NoError(t, log.SetLevelString("debug"))
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetLevelString("trace")
	}()

	f := newFixture()
	s := f.stream()
	require.NoError(t, s.Open())
	_, err := s.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = s.Close()
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"stream":"`+s.ID+`"`)
	assert.Contains(t, out, `"message":"stream opened"`)
	assert.Contains(t, out, `"message":"stream closed"`)
	assert.NotContains(t, out, "sent chunk", "writes are logged at trace level")
}
