/*
Package http provides a streaming upload primitive that sits beneath a general purpose HTTP client.

UploadStream pushes a request body to a server chunk by chunk over a pooled connection instead of
buffering the body before transmission. It bypasses the usual request/response abstraction: it borrows
a Connection from an Adapter, writes the request line and headers itself on a LowLevelConnection,
sends body chunks as raw bytes and only then reads the response.

	adapter := http.NewHostAdapter()
	defer adapter.Close()

	req := http.NewRequest("PUT", "https://example.com/blob",
		http.Header{Key: "Content-Length", Value: strconv.Itoa(len(data))})
	s := http.NewUploadStream(adapter, req, http.WithTimeout(5*time.Second))
	if err := s.Open(); err != nil {
		return err
	}
	for _, chunk := range chunks(data) {
		if _, err := s.Write(chunk); err != nil {
			s.Abort()
			return err
		}
	}
	resp, err := s.Close()

A few things to be wary of:

 - The stream never frames the body. The caller sends Content-Length or Transfer-Encoding headers and
   writes bytes that match them
 - The Request passed to a stream is mutated during Open, the adapter fills in default headers
 - Streams are single use and not safe for concurrent use. A stream whose Open failed is discarded
 - An opened stream holds its connection until Close or Abort, forgetting both leaks it from the pool

Errors from Open, Write and Close go through pkg/errors.Translate and are one of ConnectionError,
ProxyError, SSLError or Timeout, or the original error when it is not a recognised transport failure.

HostAdapter is the default Adapter. It keeps a HostPool per origin and dials proxied origins through
CONNECT tunnels, handing those out as Tunneled connections around the proxied pool.
*/
package http
