package errors

import (
	"errors"

	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/hashicorp/go-multierror"
)

// prefixfromDepth will create the indent prefix for a certain depth
// of string, e.g. 2 will yield "  " * 2 -> "    "
func prefixFromDepth(depth int) string {
	var p []byte
	for i := 0; i < depth; i++ {
		p = append(p, "  "...)
	}
	return string(p)
}

// PrintError will attempt to traverse the nested error and log the translated
// kind, the failing operation and the low-level cause.
// If a multierror.Error is found, we will recursively print out each error found
func PrintError(err error, depth int) {
	var (
		merr *multierror.Error
		terr *Error
	)

	if errors.As(err, &merr) {
		for _, v := range merr.Errors {
			PrintError(v, depth+1)
		}
	} else if errors.As(err, &terr) {
		terr.LogError(depth)
	} else {
		log.Debug().Err(err).Msg(prefixFromDepth(depth) + "error")
	}
}

// LogError will log to Debug() the context surrounding the error.
// the depth argument modifies the indentation depth of the pretty printed error
func (e *Error) LogError(depth int) {
	base := log.Debug().
		Str("kind", e.Kind.String()).
		Str("op", e.Op)

	var (
		perr *ProxyNegotiationError
		herr *HandshakeError
	)
	if errors.As(e.Err, &perr) {
		base = base.Str("proxy", perr.Proxy).Str("target", perr.Target)
		if perr.StatusCode != 0 {
			base = base.Int("status", perr.StatusCode)
		}
	} else if errors.As(e.Err, &herr) {
		base = base.Str("host", herr.Host)
	}
	base.Err(e.Err).Msg(prefixFromDepth(depth))
}
