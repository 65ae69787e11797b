package http

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

// Header encapsulates a header key value entry
type Header struct {
	Key   string
	Value string
}

// Headers is an ordered set of headers. Keys are unique (case insensitive) and the slice order is the
// order the headers are written on the wire
type Headers []Header

func (rr Headers) MarshalZerologArray(a *zerolog.Array) {
	for _, u := range rr {
		a.Object(u)
	}
}

func (h Header) MarshalZerologObject(e *zerolog.Event) {
	e.Str("k", h.Key).
		Str("v", h.Value)
}

func (h *Header) AppendBytes(b []byte) []byte {
	b = append(b, h.Key...)
	b = append(b, ": "...)
	b = append(b, h.Value...)
	return b
}

func (h *Header) String() string {
	w := bytebufferpool.Get()
	ret := string(h.AppendBytes(w.B))
	bytebufferpool.Put(w)
	return ret
}

func (rr Headers) index(key string) int {
	for i, v := range rr {
		if strings.EqualFold(v.Key, key) {
			return i
		}
	}
	return -1
}

// Get returns the value of the header matching key case insensitively
func (rr Headers) Get(key string) (string, bool) {
	if i := rr.index(key); i >= 0 {
		return rr[i].Value, true
	}
	return "", false
}

// Has returns whether a header with the given key is present
func (rr Headers) Has(key string) bool {
	return rr.index(key) >= 0
}

// Set replaces the value of an existing header in place, keeping its position and original key spelling.
// If the header is missing it is appended
func (rr *Headers) Set(key, value string) {
	if i := rr.index(key); i >= 0 {
		(*rr)[i].Value = value
		return
	}
	*rr = append(*rr, Header{Key: key, Value: value})
}

// SetDefault appends the header only when it is missing. It returns whether the header was added
func (rr *Headers) SetDefault(key, value string) bool {
	if rr.Has(key) {
		return false
	}
	*rr = append(*rr, Header{Key: key, Value: value})
	return true
}

// Del removes the header matching key, preserving the order of the rest
func (rr *Headers) Del(key string) {
	if i := rr.index(key); i >= 0 {
		*rr = append((*rr)[:i], (*rr)[i+1:]...)
	}
}

func (rr Headers) Clone() Headers {
	if rr == nil {
		return nil
	}
	return append(make(Headers, 0, len(rr)), rr...)
}
