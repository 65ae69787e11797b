package http

import (
	"errors"
	"time"

	errors2 "github.com/assetnote/kiteupload/pkg/errors"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

var (
	// ErrInvalidState is returned by Open on a stream that is not fresh. Streams are single use
	ErrInvalidState = errors.New("upload stream already used")
	// ErrNotOpen is returned by Write before a successful Open or after Close
	ErrNotOpen = errors.New("upload stream is not open")
	// ErrStreamClosed is returned when Close is called on a stream that was already closed.
	// Closing twice is a caller error
	ErrStreamClosed = errors.New("upload stream already closed")
)

type streamState int

const (
	streamIdle streamState = iota
	streamOpened
	streamFailed
	streamClosed
)

func (s streamState) String() string {
	switch s {
	case streamIdle:
		return "idle"
	case streamOpened:
		return "opened"
	case streamFailed:
		return "failed"
	default:
		return "closed"
	}
}

// StreamConfig provides the per upload options
type StreamConfig struct {
	// Timeout is applied to the connect phase and to every read and write alike. Zero disables the
	// read and write deadlines, dialing then falls back to DefaultDialTimeout
	Timeout        time.Duration `toml:"timeout" json:"timeout" mapstructure:"timeout"`
	Verify         Verify        `toml:"verify" json:"verify" mapstructure:"verify"`
	Cert           *ClientCert   `toml:"cert" json:"cert" mapstructure:"cert"`
	Proxies        Proxies       `toml:"proxies" json:"proxies" mapstructure:"proxies"`
	AssertHostname string        `toml:"assert_hostname" json:"assert_hostname" mapstructure:"assert_hostname"`
	// DecodeContent decodes gzip and deflate response bodies
	DecodeContent bool `toml:"decode_content" json:"decode_content" mapstructure:"decode_content"`
}

type StreamOption func(*StreamConfig)

func WithTimeout(d time.Duration) StreamOption {
	return func(c *StreamConfig) {
		c.Timeout = d
	}
}

func WithVerify(v Verify) StreamOption {
	return func(c *StreamConfig) {
		c.Verify = v
	}
}

func WithClientCert(cert *ClientCert) StreamOption {
	return func(c *StreamConfig) {
		c.Cert = cert
	}
}

func WithProxies(p Proxies) StreamOption {
	return func(c *StreamConfig) {
		c.Proxies = p
	}
}

func WithAssertHostname(name string) StreamOption {
	return func(c *StreamConfig) {
		c.AssertHostname = name
	}
}

func WithDecodeContent(v bool) StreamOption {
	return func(c *StreamConfig) {
		c.DecodeContent = v
	}
}

// UploadStream sends a request body incrementally over a pooled connection.
//
// A stream is driven by a single caller through Open, any number of Write calls and Close. It is
// not safe for concurrent use and cannot be reused: a stream whose Open failed must be discarded.
// The connection borrowed by Open is only returned by Close, so an opened stream that is never
// closed leaks it.
//
// The stream writes exactly what it is given. Framing the body (Content-Length or chunked
// Transfer-Encoding) and sending headers that match it is the caller's job.
//
// Every method returns its error through errors.Translate, so transport failures surface as
// ConnectionError, ProxyError, SSLError or Timeout. Anything else is returned unchanged.
type UploadStream struct {
	ID string

	adapter Adapter
	request *Request
	config  StreamConfig

	conn Connection
	pool Pool
	raw  LowLevelConnection

	state   streamState
	written int64
	started time.Time
	log     zerolog.Logger
}

// NewUploadStream creates an idle stream for req. The stream holds on to req and the adapter
// fills default headers into it during Open
func NewUploadStream(adapter Adapter, req *Request, opts ...StreamOption) *UploadStream {
	s := &UploadStream{
		ID:      ksuid.New().String(),
		adapter: adapter,
		request: req,
	}
	for _, o := range opts {
		o(&s.config)
	}
	s.log = log.Stream(s.ID)
	return s
}

// Written returns the number of body bytes sent so far
func (s *UploadStream) Written() int64 {
	return s.written
}

// Open acquires a connection and writes the request line and headers, stopping before the body.
// On failure everything acquired so far is released and the stream becomes unusable
func (s *UploadStream) Open() (err error) {
	defer func() {
		err = errors2.Translate("open", err)
	}()

	if s.state != streamIdle {
		return ErrInvalidState
	}
	s.started = time.Now()
	if err := s.open(); err != nil {
		s.state = streamFailed
		s.log.Debug().Err(err).Str("url", s.request.URL).Msg("open failed")
		s.abandon()
		return err
	}
	s.state = streamOpened
	s.log.Debug().
		Str("method", s.request.Method).
		Str("url", s.request.URL).
		Array("headers", s.request.Headers).
		Msg("stream opened")
	return nil
}

func (s *UploadStream) open() error {
	req := s.request
	conn, err := s.adapter.GetConnection(req.URL, s.config.Proxies)
	if err != nil {
		return err
	}
	s.conn = conn

	if err := s.adapter.CertVerify(conn, req.URL, s.config.Verify, s.config.Cert, s.config.AssertHostname); err != nil {
		return err
	}
	target, err := s.adapter.RequestURL(req, s.config.Proxies)
	if err != nil {
		return err
	}
	s.adapter.AddHeaders(req)

	timeout := NewTimeout(s.config.Timeout)

	// tunneled connections are unwrapped, raw connections always come from the innermost pool
	pool, err := PoolOf(conn)
	if err != nil {
		return err
	}
	s.pool = pool

	raw, err := pool.RawConn(timeout)
	if err != nil {
		return err
	}
	s.raw = raw

	opts := PutRequestOptions{
		SkipAcceptEncoding: true,
		SkipHost:           req.Headers.Has("Host"),
	}
	if err := raw.PutRequest(req.Method, target, opts); err != nil {
		return err
	}
	for _, h := range req.Headers {
		if err := raw.PutHeader(h.Key, h.Value); err != nil {
			return err
		}
	}
	return raw.EndHeaders()
}

// Write sends p to the server immediately and unmodified. It implements io.Writer
func (s *UploadStream) Write(p []byte) (n int, err error) {
	defer func() {
		err = errors2.Translate("write", err)
	}()

	if s.state != streamOpened {
		return 0, ErrNotOpen
	}
	if err := s.raw.Send(p); err != nil {
		return 0, err
	}
	s.written += int64(len(p))
	s.log.Trace().
		Int("chunk", len(p)).
		Str("total", humanize.IBytes(uint64(s.written))).
		Msg("sent chunk")
	return len(p), nil
}

// Close reads the response, builds the caller facing Response, drains its body and releases the
// connection. A stream that never opened returns (nil, nil) without doing any I/O. Calling Close on a
// closed stream returns ErrStreamClosed
func (s *UploadStream) Close() (resp *Response, err error) {
	defer func() {
		err = errors2.Translate("close", err)
	}()

	switch s.state {
	case streamIdle, streamFailed:
		return nil, nil
	case streamClosed:
		return nil, ErrStreamClosed
	}
	s.state = streamClosed

	resp, err = s.finish()
	if err != nil {
		s.log.Debug().Err(err).Msg("close failed")
		s.abandon()
		return nil, err
	}
	s.log.Debug().
		Int("status", resp.StatusCode).
		Str("sent", humanize.IBytes(uint64(s.written))).
		Dur("elapsed", time.Since(s.started)).
		Msg("stream closed")
	return resp, nil
}

func (s *UploadStream) finish() (*Response, error) {
	wire, err := s.raw.ReadResponse()
	if err != nil {
		return nil, err
	}
	raw, err := NewStreamingResponse(wire, s.pool, s.raw, StreamingOptions{
		PreloadContent: false,
		DecodeContent:  s.config.DecodeContent,
	})
	if err != nil {
		return nil, err
	}
	resp, err := s.adapter.BuildResponse(s.request, raw)
	if err != nil {
		return nil, err
	}
	// consume whatever the server sent back so the connection can be reused
	if _, err := resp.Content(); err != nil {
		return nil, err
	}

	s.raw = nil
	if err := raw.Release(); err != nil {
		s.log.Debug().Err(err).Msg("failed to release raw connection")
	}
	conn := s.conn
	s.conn = nil
	if err := conn.Close(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Abort gives up on an opened stream without reading a response. The connection is discarded
// since the server is left waiting for the rest of the body. Aborting a stream that is not opened is a no-op
func (s *UploadStream) Abort() {
	if s.state != streamOpened {
		return
	}
	s.state = streamClosed
	s.log.Debug().Str("sent", humanize.IBytes(uint64(s.written))).Msg("stream aborted")
	s.abandon()
}

// abandon releases whatever a failed operation left behind. The raw connection is never reused
func (s *UploadStream) abandon() {
	var merr *multierror.Error
	if s.raw != nil {
		if s.pool != nil {
			merr = multierror.Append(merr, s.pool.Release(s.raw, false))
		} else {
			merr = multierror.Append(merr, s.raw.Close())
		}
		s.raw = nil
	}
	if s.conn != nil {
		merr = multierror.Append(merr, s.conn.Close())
		s.conn = nil
	}
	if err := merr.ErrorOrNil(); err != nil {
		s.log.Warn().Err(err).Msg("failed to release connection")
	}
}
