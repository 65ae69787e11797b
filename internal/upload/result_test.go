package upload

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/assetnote/kiteupload/pkg/http"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult() *Result {
	return &Result{
		ID:         "1sGDxCCpjSm1nBYVpDu7TWqhiiN",
		Method:     "PUT",
		URL:        "http://upload.test/a",
		StatusCode: 201,
		Sent:       2048,
		Duration:   1500 * time.Millisecond,
		Response: &http.Response{
			StatusCode: 201,
			Headers:    http.Headers{{Key: "X-Receipt", Value: "r1"}},
		},
	}
}

func TestResultJSON(t *testing.T) {
	s, err := testResult().JSON()
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &got))
	assert.Equal(t, "1sGDxCCpjSm1nBYVpDu7TWqhiiN", got["id"])
	assert.Equal(t, float64(201), got["status"])
	assert.Equal(t, float64(2048), got["sent"])
	assert.Equal(t, float64(1500), got["duration_ms"])
	assert.Equal(t, map[string]interface{}{"X-Receipt": "r1"}, got["headers"])
}

func TestResultWrite(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, testResult().Write(&b, log.Text))
	assert.Equal(t, "1sGDxCCpjSm1nBYVpDu7TWqhiiN 201 http://upload.test/a 2.0 KiB\n", b.String())

	b.Reset()
	require.NoError(t, testResult().Write(&b, log.Pretty))
	assert.True(t, strings.Contains(b.String(), "X-Receipt"), b.String())
	assert.True(t, strings.Contains(b.String(), "2.0 KiB"), b.String())

	b.Reset()
	require.NoError(t, testResult().Write(&b, log.JSON))
	assert.True(t, strings.HasSuffix(b.String(), "}\n"))
}
