package http

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	// ErrInvalidHeader is returned when a header key or value would break the header framing
	ErrInvalidHeader = errors.New("invalid header field")
	// ErrInvalidRequestLine is returned when the method or url cannot be placed on a request line
	ErrInvalidRequestLine = errors.New("invalid request line")
)

// ErrRequestState is returned when the raw connection primitives are called out of order
type ErrRequestState struct {
	Call  string
	State string
}

func (e *ErrRequestState) Error() string {
	return fmt.Sprintf("raw connection: %s called while %s", e.Call, e.State)
}

// PutRequestOptions controls the headers PutRequest emits automatically
type PutRequestOptions struct {
	// SkipHost suppresses the automatic Host header
	SkipHost bool
	// SkipAcceptEncoding suppresses the automatic "Accept-Encoding: identity" header
	SkipAcceptEncoding bool
}

// LowLevelConnection is a raw HTTP/1.1 transport handle sitting beneath any request/response abstraction.
// The calls must be made in order: PutRequest, PutHeader*, EndHeaders, Send*, ReadResponse.
// A LowLevelConnection is not safe for concurrent use
type LowLevelConnection interface {
	PutRequest(method, url string, opts PutRequestOptions) error
	PutHeader(key, value string) error
	EndHeaders() error
	Send(p []byte) error
	ReadResponse() (*WireResponse, error)
	Close() error
}

// WireResponse is a response whose status line and headers have been parsed while the body is still
// on the wire. Body returns io.EOF at the end of the message
type WireResponse struct {
	Header    *fasthttp.ResponseHeader
	Body      io.Reader
	KeepAlive bool
}

type connState int

const (
	stateReady connState = iota
	stateRequest
	stateBody
	stateResponse
	stateBroken
)

func (s connState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateRequest:
		return "writing headers"
	case stateBody:
		return "writing body"
	case stateResponse:
		return "reading response"
	default:
		return "broken"
	}
}

// rawConn is the LowLevelConnection handed out by HostPool
type rawConn struct {
	conn       net.Conn
	src        *readRecorder
	br         *bufio.Reader
	bw         *bufio.Writer
	hostHeader string
	timeout    Timeout
	method     string
	state      connState
	lastUse    time.Time
	closed     bool
	// policy identifies the tls settings the connection was dialed with
	policy string
}

func newRawConn(c net.Conn, hostHeader string, t Timeout) *rawConn {
	src := &readRecorder{r: c}
	return &rawConn{
		conn:       c,
		src:        src,
		br:         bufio.NewReader(src),
		bw:         bufio.NewWriter(c),
		hostHeader: hostHeader,
		timeout:    t,
		lastUse:    time.Now(),
	}
}

func (c *rawConn) expect(call string, want connState) error {
	if c.closed {
		return &ErrRequestState{Call: call, State: "closed"}
	}
	if c.state != want {
		return &ErrRequestState{Call: call, State: c.state.String()}
	}
	return nil
}

// touch extends the deadline before each socket operation. There is no separate write timeout,
// the read timeout bounds both directions
func (c *rawConn) touch() {
	c.conn.SetDeadline(deadline(c.timeout.Read))
}

func (c *rawConn) PutRequest(method, url string, opts PutRequestOptions) error {
	if err := c.expect("PutRequest", stateReady); err != nil {
		return err
	}
	if !validToken(method) || !validRequestTarget(url) {
		return fmt.Errorf("%w: %q %q", ErrInvalidRequestLine, method, url)
	}
	c.method = method
	c.bw.WriteString(method)
	c.bw.WriteByte(' ')
	c.bw.WriteString(url)
	c.bw.WriteString(" HTTP/1.1\r\n")
	c.state = stateRequest

	if !opts.SkipHost && c.hostHeader != "" {
		c.writeHeader("Host", c.hostHeader)
	}
	if !opts.SkipAcceptEncoding {
		c.writeHeader("Accept-Encoding", "identity")
	}
	return nil
}

func (c *rawConn) PutHeader(key, value string) error {
	if err := c.expect("PutHeader", stateRequest); err != nil {
		return err
	}
	if !validToken(key) || strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidHeader, key)
	}
	c.writeHeader(key, value)
	return nil
}

func (c *rawConn) writeHeader(key, value string) {
	c.bw.WriteString(key)
	c.bw.WriteString(": ")
	c.bw.WriteString(value)
	c.bw.WriteString("\r\n")
}

// EndHeaders terminates the header section and flushes it. No body bytes are written
func (c *rawConn) EndHeaders() error {
	if err := c.expect("EndHeaders", stateRequest); err != nil {
		return err
	}
	c.bw.WriteString("\r\n")
	c.touch()
	if err := c.bw.Flush(); err != nil {
		c.state = stateBroken
		return err
	}
	c.state = stateBody
	return nil
}

// Send writes p to the socket as is
func (c *rawConn) Send(p []byte) error {
	if err := c.expect("Send", stateBody); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	c.touch()
	if _, err := c.conn.Write(p); err != nil {
		c.state = stateBroken
		return err
	}
	return nil
}

func (c *rawConn) ReadResponse() (*WireResponse, error) {
	if err := c.expect("ReadResponse", stateBody); err != nil {
		return nil, err
	}
	c.state = stateResponse
	c.touch()

	h := &fasthttp.ResponseHeader{}
	for {
		h.Reset()
		h.DisableNormalizing()
		if err := readHeader(h, c.br, c.src); err != nil {
			c.state = stateBroken
			return nil, err
		}
		// interim responses carry no body, the final response follows
		code := h.StatusCode()
		if code < 100 || code >= 200 || code == fasthttp.StatusSwitchingProtocols {
			break
		}
	}

	resp := &WireResponse{
		Header:    h,
		KeepAlive: !h.ConnectionClose(),
	}
	resp.Body = c.bodyReader(h, resp)
	return resp, nil
}

func (c *rawConn) bodyReader(h *fasthttp.ResponseHeader, resp *WireResponse) io.Reader {
	code := h.StatusCode()
	if strings.EqualFold(c.method, "HEAD") ||
		code == fasthttp.StatusNoContent ||
		code == fasthttp.StatusNotModified ||
		(code >= 100 && code < 200) {
		return bytes.NewReader(nil)
	}

	switch cl := h.ContentLength(); {
	case cl >= 0:
		return &deadlineReader{c: c, r: io.LimitReader(c.br, int64(cl))}
	case cl == -1:
		return &deadlineReader{c: c, r: &chunkedBody{r: httputil.NewChunkedReader(c.br), br: c.br}}
	default:
		// identity body, delimited by the server closing the connection
		resp.KeepAlive = false
		return &deadlineReader{c: c, r: c.br}
	}
}

// reset prepares a released connection for the next request
func (c *rawConn) reset() {
	c.state = stateReady
	c.method = ""
	c.lastUse = time.Now()
	c.conn.SetDeadline(time.Time{})
}

func (c *rawConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = stateBroken
	return c.conn.Close()
}

// readRecorder keeps the last error returned by the connection it reads from
type readRecorder struct {
	r   io.Reader
	err error
}

func (r *readRecorder) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil {
		r.err = err
	}
	return n, err
}

// readHeader reads a response header from br, which must be fed by rec. fasthttp formats read
// errors met after the first header byte into a plain message, so the error recorded on the
// connection is returned instead: a timeout stays a timeout and a hang up mid header becomes
// io.ErrUnexpectedEOF
func readHeader(h *fasthttp.ResponseHeader, br *bufio.Reader, rec *readRecorder) error {
	rec.err = nil
	err := h.Read(br)
	if err == nil {
		return nil
	}
	if err == io.EOF {
		// the peer went away before the first response byte
		return fasthttp.ErrConnectionClosed
	}
	switch rec.err {
	case nil:
		return err
	case io.EOF:
		return io.ErrUnexpectedEOF
	default:
		return rec.err
	}
}

// deadlineReader refreshes the read deadline on every body read
type deadlineReader struct {
	c *rawConn
	r io.Reader
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	d.c.touch()
	return d.r.Read(p)
}

// chunkedBody consumes the trailer section after the last chunk so the connection can be reused
type chunkedBody struct {
	r    io.Reader
	br   *bufio.Reader
	done bool
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}
	n, err := b.r.Read(p)
	if err == io.EOF {
		b.done = true
		if terr := skipTrailer(b.br); terr != nil {
			return n, terr
		}
	}
	return n, err
}

func skipTrailer(br *bufio.Reader) error {
	for {
		line, err := br.ReadSlice('\n')
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		if len(bytes.TrimRight(line, "\r\n")) == 0 {
			return nil
		}
	}
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b <= ' ' || b >= 0x7f || strings.IndexByte("()<>@,;:\\\"/[]?={}", b) >= 0 {
			return false
		}
	}
	return true
}

func validRequestTarget(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == 0x7f {
			return false
		}
	}
	return true
}
