package http

import (
	"bytes"
	"fmt"

	"github.com/rs/zerolog"
)

// Response is the caller facing result of an upload
type Response struct {
	StatusCode  int
	HTTPVersion string
	Headers     Headers
	URL         string

	// Request is the request that produced this response, with the default headers filled in
	Request *Request
	// Raw is the streaming response the body is read from
	Raw *StreamingResponse

	// BodyLength, Words and Lines are computed when the body is loaded by Content
	BodyLength int
	Words      int
	Lines      int

	body     []byte
	consumed bool
}

// Content loads the body on first use, draining the underlying connection, and returns it
func (r *Response) Content() ([]byte, error) {
	if r.consumed {
		return r.body, nil
	}
	if r.Raw == nil {
		r.consumed = true
		return nil, nil
	}
	b, err := r.Raw.ReadAll()
	if err != nil {
		return nil, err
	}
	r.consumed = true
	r.body = b
	r.BodyLength = len(b)
	r.Words = bytes.Count(b, []byte(" "))
	r.Lines = bytes.Count(b, []byte("\n"))
	// address off by 1 if its non-0
	if len(b) > 0 {
		r.Words += 1
		r.Lines += 1
	}
	return r.body, nil
}

// Body returns the loaded body, or nil if Content has not been called
func (r *Response) Body() []byte {
	return r.body
}

func (r Response) MarshalZerologObject(e *zerolog.Event) {
	e.Str("url", r.URL).
		Int("sc", r.StatusCode).
		Int("len", r.BodyLength)
}

func (r *Response) String() string {
	if r == nil {
		return ""
	}
	uri := r.URL
	maxlen := 96
	if len(uri) > maxlen {
		uri = uri[0:maxlen] + "..."
	}
	return fmt.Sprintf("%s (%d) %d", uri, r.BodyLength, r.StatusCode)
}
