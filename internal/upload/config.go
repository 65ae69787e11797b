package upload

import (
	"time"

	"github.com/assetnote/kiteupload/pkg/http"
)

// Config is the file and flag facing form of UploadOptions, decoded by viper
type Config struct {
	Method         string        `toml:"method" json:"method" mapstructure:"method"`
	Headers        []string      `toml:"header" json:"header" mapstructure:"header"`
	ChunkSize      int           `toml:"chunk_size" json:"chunk_size" mapstructure:"chunk-size"`
	Chunked        bool          `toml:"chunked" json:"chunked" mapstructure:"chunked"`
	Timeout        time.Duration `toml:"timeout" json:"timeout" mapstructure:"timeout"`
	UserAgent      string        `toml:"user_agent" json:"user_agent" mapstructure:"user-agent"`
	MaxConnPerHost int           `toml:"max_connection_per_host" json:"max_connection_per_host" mapstructure:"max-connection-per-host"`
	Proxies        []string      `toml:"proxy" json:"proxy" mapstructure:"proxy"`
	Insecure       bool          `toml:"insecure" json:"insecure" mapstructure:"insecure"`
	CABundle       string        `toml:"ca_bundle" json:"ca_bundle" mapstructure:"ca-bundle"`
	Cert           string        `toml:"cert" json:"cert" mapstructure:"cert"`
	Key            string        `toml:"key" json:"key" mapstructure:"key"`
	AssertHostname string        `toml:"assert_hostname" json:"assert_hostname" mapstructure:"assert-hostname"`
	ProgressBar    bool          `toml:"progress_bar" json:"progress_bar" mapstructure:"progress-bar"`
	ExpectStatus   []string      `toml:"expect_status" json:"expect_status" mapstructure:"expect-status"`
	DecodeResponse bool          `toml:"decode_response" json:"decode_response" mapstructure:"decode-response"`
}

// NewDefaultConfig mirrors NewDefaultUploadOptions
func NewDefaultConfig() Config {
	return Config{
		Method:         DefaultMethod,
		ChunkSize:      DefaultChunkSize,
		Timeout:        DefaultTimeout,
		UserAgent:      http.DefaultUserAgent,
		MaxConnPerHost: DefaultMaxConnPerHost,
		ProgressBar:    true,
		ExpectStatus:   []string{"200-299"},
	}
}

func (c Config) Options() []UploadOption {
	return []UploadOption{
		Method(c.Method),
		AddHeaders(c.Headers),
		ChunkSize(c.ChunkSize),
		ForceChunked(c.Chunked),
		Timeout(c.Timeout),
		UserAgent(c.UserAgent),
		MaxConnPerHost(c.MaxConnPerHost),
		Proxies(c.Proxies),
		InsecureSkipVerify(c.Insecure),
		CABundle(c.CABundle),
		ClientCert(c.Cert, c.Key),
		AssertHostname(c.AssertHostname),
		ProgressBarEnabled(c.ProgressBar),
		ExpectStatus(c.ExpectStatus),
		DecodeResponse(c.DecodeResponse),
	}
}
