package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/valyala/fasthttp"
)

// StreamingOptions mirrors the knobs of a deferred response
type StreamingOptions struct {
	// PreloadContent reads the whole body while constructing the response
	PreloadContent bool
	// DecodeContent decodes gzip and deflate bodies in ReadAll
	DecodeContent bool
}

// StreamingResponse is a WireResponse bound to the pool and raw connection it was read from.
// The body is not loaded until it is read, and the raw connection goes back to the pool on Release
type StreamingResponse struct {
	wire *WireResponse
	pool Pool
	conn LowLevelConnection
	opts StreamingOptions

	preloaded *bytes.Reader
	eof       bool
	released  bool
}

// NewStreamingResponse wraps wire. pool may be nil, in which case Release closes conn
func NewStreamingResponse(wire *WireResponse, pool Pool, conn LowLevelConnection, opts StreamingOptions) (*StreamingResponse, error) {
	if wire == nil || wire.Header == nil {
		return nil, errors.New("nil wire response")
	}
	s := &StreamingResponse{
		wire: wire,
		pool: pool,
		conn: conn,
		opts: opts,
	}
	if opts.PreloadContent {
		b, err := ioutil.ReadAll(wire.Body)
		if err != nil {
			return nil, err
		}
		s.preloaded = bytes.NewReader(b)
		s.eof = true
	}
	return s, nil
}

func (s *StreamingResponse) StatusCode() int {
	return s.wire.Header.StatusCode()
}

func (s *StreamingResponse) HTTPVersion() string {
	if s.wire.Header.IsHTTP11() {
		return "HTTP/1.1"
	}
	return "HTTP/1.0"
}

// Headers returns the response headers in wire order
func (s *StreamingResponse) Headers() Headers {
	ret := make(Headers, 0, 8)
	s.wire.Header.VisitAll(func(k, v []byte) {
		ret = append(ret, Header{Key: string(k), Value: string(v)})
	})
	return ret
}

// Header returns the first value of key
func (s *StreamingResponse) Header(key string) string {
	return string(s.wire.Header.Peek(key))
}

// Drained reports whether the body has been read to the end
func (s *StreamingResponse) Drained() bool {
	return s.eof
}

// Read reads the raw, undecoded body
func (s *StreamingResponse) Read(p []byte) (int, error) {
	if s.preloaded != nil {
		return s.preloaded.Read(p)
	}
	if s.released {
		return 0, io.ErrClosedPipe
	}
	if s.eof {
		return 0, io.EOF
	}
	n, err := s.wire.Body.Read(p)
	if err == io.EOF {
		s.eof = true
	}
	return n, err
}

// ReadAll reads the remaining body, decoding it if DecodeContent is set
func (s *StreamingResponse) ReadAll() ([]byte, error) {
	b, err := ioutil.ReadAll(s)
	if err != nil {
		return b, err
	}
	if !s.opts.DecodeContent {
		return b, nil
	}
	return decodeBody(s.Header("Content-Encoding"), b)
}

func decodeBody(encoding string, b []byte) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return b, nil
	case "gzip":
		return fasthttp.AppendGunzipBytes(nil, b)
	case "deflate":
		return fasthttp.AppendInflateBytes(nil, b)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// Release gives the raw connection back to its pool. It is reusable only when the body was read
// to the end and the server allowed keep-alive. Calling Release more than once is a no-op
func (s *StreamingResponse) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	if s.pool == nil {
		return s.conn.Close()
	}
	return s.pool.Release(s.conn, s.Drained() && s.wire.KeepAlive)
}
