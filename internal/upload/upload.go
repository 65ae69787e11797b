package upload

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/assetnote/kiteupload/pkg/http"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

// ErrUnexpectedStatus is returned along with the result when the response status is not expected
var ErrUnexpectedStatus = errors.New("unexpected status code")

// source is an upload body. size is -1 when unknown
type source struct {
	io.ReadCloser
	name string
	size int64
}

func openInput(input string) (*source, error) {
	if input == "-" {
		return &source{ReadCloser: ioutil.NopCloser(os.Stdin), name: "stdin", size: -1}, nil
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to stat input")
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", input)
	}
	return &source{ReadCloser: f, name: filepath.Base(input), size: st.Size()}, nil
}

// Upload sends the file at input, or stdin when input is "-", to the configured url.
// Files are sent with a Content-Length, stdin with chunked transfer encoding.
// Cancelling ctx aborts the upload between chunks. When the response status is not one of
// the expected ones both the result and ErrUnexpectedStatus are returned
func Upload(ctx context.Context, input string, opts ...UploadOption) (*Result, error) {
	o := NewDefaultUploadOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Msgf("Options loaded: \n%s", o)

	src, err := openInput(input)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	adapter := o.Adapter
	if adapter == nil {
		ha := http.NewHostAdapter(o.AdapterOptions()...)
		defer ha.Close()
		adapter = ha
	}
	return upload(ctx, adapter, src, o)
}

func upload(ctx context.Context, adapter http.Adapter, src *source, o *UploadOptions) (*Result, error) {
	req := http.NewRequest(o.Method, o.URL)
	s := http.NewUploadStream(adapter, req, o.StreamOptions()...)
	id := s.ID

	vars := map[string]string{
		"id":   id,
		"name": src.name,
		"size": strconv.FormatInt(src.size, 10),
	}
	target, err := expand(o.URL, vars)
	if err != nil {
		return nil, err
	}
	req.URL = target
	for _, h := range o.Headers {
		v, err := expand(h.Value, vars)
		if err != nil {
			return nil, err
		}
		req.Headers.Set(h.Key, v)
	}

	chunked := o.Chunked || src.size < 0
	if chunked {
		req.Headers.Del("Content-Length")
		req.Headers.Set("Transfer-Encoding", "chunked")
	} else {
		req.Headers.SetDefault("Content-Length", strconv.FormatInt(src.size, 10))
	}

	start := time.Now()
	if err := s.Open(); err != nil {
		return nil, err
	}

	var w io.Writer = s
	var cw *chunkWriter
	if chunked {
		cw = newChunkWriter(s)
		w = cw
	}

	var bar *ProgressBar
	if o.ProgressBar && src.size > 0 {
		bar = NewProgress(src.size, src.name)
	}
	defer bar.Finish()

	sent, err := copyChunks(ctx, w, src, o.ChunkSize, bar)
	if err != nil {
		s.Abort()
		return nil, err
	}
	if cw != nil {
		if err := cw.Close(); err != nil {
			s.Abort()
			return nil, err
		}
	}

	resp, err := s.Close()
	if err != nil {
		return nil, err
	}
	if e := log.Trace(); e.Enabled() {
		e.Str("id", id).Msg("response headers\n" + spew.Sdump(resp.Headers))
	}

	res := &Result{
		ID:         id,
		Method:     req.Method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Sent:       sent,
		Duration:   time.Since(start),
		Response:   resp,
	}
	if !o.ExpectStatus.Contains(resp.StatusCode) {
		return res, fmt.Errorf("%w %d, expected %s", ErrUnexpectedStatus, resp.StatusCode, o.ExpectStatus)
	}
	return res, nil
}

// copyChunks reads at most size bytes at a time from r and writes each read to w,
// checking ctx before every read
func copyChunks(ctx context.Context, w io.Writer, r io.Reader, size int, bar *ProgressBar) (int64, error) {
	buf := make([]byte, size)
	var sent int64
	for {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return sent, err
			}
			sent += int64(n)
			bar.Incr(int64(n))
		}
		if rerr == io.EOF {
			return sent, nil
		}
		if rerr != nil {
			return sent, errors.Wrap(rerr, "failed to read input")
		}
	}
}
