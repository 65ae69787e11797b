package http

import (
	"fmt"
)

// Request is the description of an upload. Headers are mutated in place by the Adapter while a
// stream opens (default headers are filled in), so a Request must not be shared between streams
// that are opening concurrently
type Request struct {
	Method  string
	URL     string
	Headers Headers
}

// NewRequest creates a request with a copy of the provided headers
func NewRequest(method, url string, headers ...Header) *Request {
	return &Request{
		Method:  method,
		URL:     url,
		Headers: Headers(headers).Clone(),
	}
}

func (r *Request) String() string {
	return fmt.Sprintf("{ request %s %s }", r.Method, r.URL)
}
