package upload

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/assetnote/kiteupload/pkg/http"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/dustin/go-humanize"
	"github.com/francoispqt/gojay"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
)

type Result struct {
	ID         string
	Method     string
	URL        string
	StatusCode int
	// Sent is the number of payload bytes, excluding any chunk framing
	Sent     int64
	Duration time.Duration
	Response *http.Response
}

func (r *Result) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("id", r.ID)
	enc.StringKey("method", r.Method)
	enc.StringKey("url", r.URL)
	enc.IntKey("status", r.StatusCode)
	enc.Int64Key("sent", r.Sent)
	enc.Int64Key("duration_ms", r.Duration.Milliseconds())
	if r.Response != nil {
		enc.ObjectKey("headers", jsonHeaders(r.Response.Headers))
		enc.StringKey("body", string(r.Response.Body()))
	}
}

func (r *Result) IsNil() bool {
	return r == nil
}

type jsonHeaders http.Headers

func (h jsonHeaders) MarshalJSONObject(enc *gojay.Encoder) {
	for _, v := range h {
		enc.StringKey(v.Key, v.Value)
	}
}

func (h jsonHeaders) IsNil() bool {
	return len(h) == 0
}

func (r Result) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", r.ID).
		Str("url", r.URL).
		Int("sc", r.StatusCode).
		Str("sent", humanize.IBytes(uint64(r.Sent))).
		Dur("duration", r.Duration)
}

// JSON returns the result as a single line json object
func (r *Result) JSON() (string, error) {
	b := strings.Builder{}
	enc := gojay.BorrowEncoder(&b)
	defer enc.Release()

	if err := enc.EncodeObject(r); err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return b.String(), nil
}

// WriteTable renders the result and the response headers as a table
func (r *Result) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"field", "value"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	table.Append([]string{"id", r.ID})
	table.Append([]string{"request", r.Method + " " + r.URL})
	table.Append([]string{"status", fmt.Sprintf("%d", r.StatusCode)})
	table.Append([]string{"sent", humanize.IBytes(uint64(r.Sent))})
	table.Append([]string{"duration", r.Duration.String()})
	if r.Response != nil {
		for _, h := range r.Response.Headers {
			table.Append([]string{"header " + h.Key, h.Value})
		}
		if b := r.Response.Body(); len(b) > 0 {
			table.Append([]string{"body", fmt.Sprintf("%d bytes, %d lines", r.Response.BodyLength, r.Response.Lines)})
		}
	}
	table.Render()
}

// Write renders the result to w in the given log format
func (r *Result) Write(w io.Writer, format log.LogFormat) error {
	switch format {
	case log.JSON:
		s, err := r.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, s)
		return err
	case log.Text:
		_, err := fmt.Fprintf(w, "%s %d %s %s\n", r.ID, r.StatusCode, r.URL, humanize.IBytes(uint64(r.Sent)))
		return err
	default:
		r.WriteTable(w)
		return nil
	}
}
