package upload

import (
	"testing"
	"time"

	"github.com/assetnote/kiteupload/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, opts ...UploadOption) *UploadOptions {
	o := NewDefaultUploadOptions()
	for _, opt := range opts {
		require.NoError(t, opt(o))
	}
	return o
}

func TestAddHeaders(t *testing.T) {
	o := apply(t, AddHeaders([]string{"X-A: 1", "x-b:2", "Authorization: Bearer a:b"}))
	assert.Equal(t, []http.Header{
		{Key: "X-A", Value: "1"},
		{Key: "x-b", Value: "2"},
		{Key: "Authorization", Value: "Bearer a:b"},
	}, o.Headers)

	o = apply(t, AddHeaders([]string{"X-A: 1", "X-B: 2"}), AddHeaders([]string{"x-a: 3"}))
	assert.Equal(t, []http.Header{
		{Key: "X-A", Value: "3"},
		{Key: "X-B", Value: "2"},
	}, o.Headers)

	assert.Error(t, AddHeaders([]string{"no separator"})(NewDefaultUploadOptions()))
	assert.Error(t, AddHeaders([]string{": empty key"})(NewDefaultUploadOptions()))
}

func TestProxies(t *testing.T) {
	o := apply(t, Proxies([]string{"proxy.test:3128", "https=https://secure.test:8443", "http://internal.test="}))
	assert.Equal(t, http.Proxies{
		"all":                  "proxy.test:3128",
		"https":                "https://secure.test:8443",
		"http://internal.test": "",
	}, o.Proxies)
}

func TestClientCert(t *testing.T) {
	o := apply(t, ClientCert("client.pem", ""))
	assert.Equal(t, &http.ClientCert{CertFile: "client.pem"}, o.ClientCert)

	o = apply(t, ClientCert("", ""))
	assert.Nil(t, o.ClientCert)

	assert.Error(t, ClientCert("", "key.pem")(NewDefaultUploadOptions()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []UploadOption
		wantErr bool
	}{
		{"valid", []UploadOption{URL("https://upload.test/{name}")}, false},
		{"missing url", nil, true},
		{"no scheme", []UploadOption{URL("upload.test/a")}, true},
		{"bad scheme", []UploadOption{URL("ftp://upload.test/a")}, true},
		{"bad method", []UploadOption{URL("http://upload.test"), Method("PU T")}, true},
		{"no connections", []UploadOption{URL("http://upload.test"), MaxConnPerHost(0)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := apply(t, tt.opts...).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigOptions(t *testing.T) {
	c := NewDefaultConfig()
	c.Method = "post"
	c.Headers = []string{"X-A: 1"}
	c.Timeout = 5 * time.Second
	c.Insecure = true
	c.Cert = "client.pem"
	c.Key = "client.key"
	c.Proxies = []string{"http=proxy.test:3128"}

	o := apply(t, c.Options()...)
	assert.Equal(t, "POST", o.Method)
	assert.Equal(t, []http.Header{{Key: "X-A", Value: "1"}}, o.Headers)
	assert.Equal(t, 5*time.Second, o.Timeout)
	assert.True(t, o.Verify.Skip)
	assert.Equal(t, &http.ClientCert{CertFile: "client.pem", KeyFile: "client.key"}, o.ClientCert)
	assert.Equal(t, "proxy.test:3128", o.Proxies["http"])
	assert.Equal(t, DefaultChunkSize, o.ChunkSize)
	assert.True(t, o.ProgressBar)
	assert.Equal(t, http.StatusRanges{{Min: 200, Max: 299}}, o.ExpectStatus)
	assert.False(t, o.DecodeResponse)

	assert.Error(t, ExpectStatus([]string{"2xx"})(NewDefaultUploadOptions()))
}

func TestDefaultUploadOptions(t *testing.T) {
	o := NewDefaultUploadOptions()
	assert.Equal(t, http.StatusRanges{{Min: 200, Max: 299}}, o.ExpectStatus)
	assert.True(t, o.ExpectStatus.Contains(204))
	assert.False(t, o.ExpectStatus.Contains(403))

	o = apply(t, ExpectStatus(nil))
	assert.Empty(t, o.ExpectStatus)
	assert.True(t, o.ExpectStatus.Contains(403))

	o = apply(t, DecodeResponse(true))
	assert.True(t, o.DecodeResponse)
}
