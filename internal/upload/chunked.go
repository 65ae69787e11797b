package upload

import (
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

var lastChunk = []byte("0\r\n\r\n")

// chunkWriter frames every Write as one chunk of a chunked transfer encoded body, sending the
// frame in a single write
type chunkWriter struct {
	w   io.Writer
	buf *bytebufferpool.ByteBuffer
}

func newChunkWriter(w io.Writer) *chunkWriter {
	return &chunkWriter{w: w, buf: bytebufferpool.Get()}
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	// an empty chunk would terminate the body
	if len(p) == 0 {
		return 0, nil
	}
	c.buf.Reset()
	c.buf.B = appendChunk(c.buf.B, p)
	if _, err := c.w.Write(c.buf.B); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close writes the terminating chunk. There are no trailers
func (c *chunkWriter) Close() error {
	bytebufferpool.Put(c.buf)
	c.buf = nil
	_, err := c.w.Write(lastChunk)
	return err
}

func appendChunk(dst, p []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(p)), 16)
	dst = append(dst, "\r\n"...)
	dst = append(dst, p...)
	dst = append(dst, "\r\n"...)
	return dst
}
