/*
Package errors provides the small, closed error vocabulary surfaced by upload streams and the
translation boundary that maps low-level transport failures onto it.

Every public upload operation returns its error through Translate. The result is either a *Error
carrying one of four kinds (connection, proxy, ssl, timeout) or, when the failure is not a
recognised transport condition, the original error unchanged. Callers must be prepared for both.

Usage

	import errors2 "github.com/assetnote/kiteupload/pkg/errors"

	...

	if _, err := stream.Close(); err != nil {
		if errors.Is(err, errors2.ErrTimeout) {
			// retry with a bigger timeout, the stream itself never retries
		}
		errors2.PrintError(err, 0)
	}

The transport layer reports conditions that have no natural stdlib type with the marker errors
ProxyNegotiationError and HandshakeError so the translator can recognise them through any amount
of wrapping.
*/
package errors
