package upload

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/assetnote/kiteupload/pkg/http"
)

const (
	DefaultMethod         = "PUT"
	DefaultChunkSize      = 64 * 1024
	DefaultTimeout        = 30 * time.Second
	DefaultMaxConnPerHost = 4
)

type UploadOptions struct {
	Method         string
	URL            string
	Headers        []http.Header
	ChunkSize      int
	Chunked        bool
	Timeout        time.Duration
	UserAgent      string
	MaxConnPerHost int
	Proxies        http.Proxies
	Verify         http.Verify
	ClientCert     *http.ClientCert
	AssertHostname string
	ProgressBar    bool
	// ExpectStatus is checked against the response status. Empty accepts any status
	ExpectStatus http.StatusRanges
	// DecodeResponse decodes gzip and deflate response bodies
	DecodeResponse bool

	// Adapter replaces the HostAdapter Upload creates for itself
	Adapter http.Adapter
}

type UploadOption func(*UploadOptions) error

func NewDefaultUploadOptions() *UploadOptions {
	return &UploadOptions{
		Method:         DefaultMethod,
		ChunkSize:      DefaultChunkSize,
		Timeout:        DefaultTimeout,
		UserAgent:      http.DefaultUserAgent,
		MaxConnPerHost: DefaultMaxConnPerHost,
		Proxies:        make(http.Proxies),
		ExpectStatus:   http.StatusRanges{{Min: 200, Max: 299}},
	}
}

// AdapterOptions configures the HostAdapter used when no Adapter was provided
func (o UploadOptions) AdapterOptions() []http.AdapterOption {
	return []http.AdapterOption{
		http.UserAgent(o.UserAgent),
		http.MaxConnsPerHost(o.MaxConnPerHost),
	}
}

func (o UploadOptions) StreamOptions() []http.StreamOption {
	return []http.StreamOption{
		http.WithTimeout(o.Timeout),
		http.WithVerify(o.Verify),
		http.WithClientCert(o.ClientCert),
		http.WithProxies(o.Proxies),
		http.WithAssertHostname(o.AssertHostname),
		http.WithDecodeContent(o.DecodeResponse),
	}
}

func (o UploadOptions) String() string {
	p := map[string]interface{}{
		"Method":         o.Method,
		"URL":            o.URL,
		"Headers":        o.Headers,
		"ChunkSize":      o.ChunkSize,
		"Chunked":        o.Chunked,
		"Timeout":        o.Timeout,
		"UserAgent":      o.UserAgent,
		"MaxConnPerHost": o.MaxConnPerHost,
		"Proxies":        o.Proxies,
		"Verify":         o.Verify,
		"AssertHostname": o.AssertHostname,
		"ProgressBar":    o.ProgressBar,
		"ExpectStatus":   o.ExpectStatus,
		"DecodeResponse": o.DecodeResponse,
	}
	ret := make([]string, 0, len(p))
	for k, v := range p {
		ret = append(ret, fmt.Sprintf("%s: %v", k, v))
	}
	sort.Strings(ret)
	return strings.Join(ret, "\n")
}

// Validate will ensure the options are sane after all the flags have been applied
func (o UploadOptions) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("no upload url specified")
	}
	// the url may still contain placeholders, so only the scheme is checked here
	if i := strings.Index(o.URL, "://"); i < 0 {
		return fmt.Errorf("upload url %s has no scheme", o.URL)
	} else if s := strings.ToLower(o.URL[:i]); s != "http" && s != "https" {
		return fmt.Errorf("unsupported scheme %s", s)
	}
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size is too low (%d)", o.ChunkSize)
	}
	if o.MaxConnPerHost <= 0 {
		return fmt.Errorf("max conn per host is too low (%d)", o.MaxConnPerHost)
	}
	if o.Method == "" || strings.ContainsAny(o.Method, " \t\r\n") {
		return fmt.Errorf("invalid method %q", o.Method)
	}
	return nil
}

func Method(m string) UploadOption {
	return func(o *UploadOptions) error {
		o.Method = strings.ToUpper(m)
		return nil
	}
}

func URL(u string) UploadOption {
	return func(o *UploadOptions) error {
		o.URL = u
		return nil
	}
}

// AddHeaders parses headers in the "Key: Value" format. A repeated key replaces the earlier value
func AddHeaders(hs []string) UploadOption {
	return func(o *UploadOptions) error {
		for _, h := range hs {
			sp := strings.SplitN(h, ":", 2)
			if len(sp) != 2 || strings.TrimSpace(sp[0]) == "" {
				return fmt.Errorf("invalid header format: %s", h)
			}
			headers := http.Headers(o.Headers)
			headers.Set(strings.TrimSpace(sp[0]), strings.TrimSpace(sp[1]))
			o.Headers = headers
		}
		return nil
	}
}

func ChunkSize(n int) UploadOption {
	return func(o *UploadOptions) error {
		if n <= 0 {
			return fmt.Errorf("invalid chunk size %d", n)
		}
		o.ChunkSize = n
		return nil
	}
}

// ForceChunked frames the body with chunked transfer encoding even when the size is known
func ForceChunked(v bool) UploadOption {
	return func(o *UploadOptions) error {
		o.Chunked = v
		return nil
	}
}

func Timeout(n time.Duration) UploadOption {
	return func(o *UploadOptions) error {
		o.Timeout = n
		return nil
	}
}

func UserAgent(ua string) UploadOption {
	return func(o *UploadOptions) error {
		o.UserAgent = ua
		return nil
	}
}

func MaxConnPerHost(n int) UploadOption {
	return func(o *UploadOptions) error {
		o.MaxConnPerHost = n
		return nil
	}
}

// Proxies parses proxies in the "key=proxy" format, where key is a scheme, scheme://host or all.
// A bare proxy url applies to everything
func Proxies(ps []string) UploadOption {
	return func(o *UploadOptions) error {
		if o.Proxies == nil {
			o.Proxies = make(http.Proxies)
		}
		for _, p := range ps {
			key, value := "all", p
			if i := strings.Index(p, "="); i >= 0 {
				key, value = p[:i], p[i+1:]
			}
			if value != "" {
				raw := value
				if !strings.Contains(raw, "://") {
					raw = "http://" + raw
				}
				if _, err := url.Parse(raw); err != nil {
					return fmt.Errorf("invalid proxy %s: %w", p, err)
				}
			}
			o.Proxies[key] = value
		}
		return nil
	}
}

func InsecureSkipVerify(v bool) UploadOption {
	return func(o *UploadOptions) error {
		o.Verify.Skip = v
		return nil
	}
}

func CABundle(path string) UploadOption {
	return func(o *UploadOptions) error {
		o.Verify.CABundle = path
		return nil
	}
}

// ClientCert sets the client certificate. An empty key means the key is in the certificate file
func ClientCert(cert, key string) UploadOption {
	return func(o *UploadOptions) error {
		if cert == "" {
			if key != "" {
				return fmt.Errorf("client key %s given without a certificate", key)
			}
			o.ClientCert = nil
			return nil
		}
		o.ClientCert = &http.ClientCert{CertFile: cert, KeyFile: key}
		return nil
	}
}

func AssertHostname(name string) UploadOption {
	return func(o *UploadOptions) error {
		o.AssertHostname = name
		return nil
	}
}

func ProgressBarEnabled(v bool) UploadOption {
	return func(o *UploadOptions) error {
		o.ProgressBar = v
		return nil
	}
}

// ExpectStatus parses status codes and ranges like 200-299 that count as a successful upload
func ExpectStatus(codes []string) UploadOption {
	return func(o *UploadOptions) error {
		o.ExpectStatus = o.ExpectStatus[:0]
		for _, c := range codes {
			r, err := http.ParseStatusRange(c)
			if err != nil {
				return err
			}
			o.ExpectStatus = append(o.ExpectStatus, r)
		}
		return nil
	}
}

func DecodeResponse(v bool) UploadOption {
	return func(o *UploadOptions) error {
		o.DecodeResponse = v
		return nil
	}
}

func WithAdapter(a http.Adapter) UploadOption {
	return func(o *UploadOptions) error {
		o.Adapter = a
		return nil
	}
}
