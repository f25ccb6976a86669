package devicecloud

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicecloud/pkg/client"
	"devicecloud/pkg/config"
)

func validConfig(baseURL string) *config.Config {
	return &config.Config{
		BaseURL:            baseURL,
		Username:           "alice",
		Password:           "s3cret",
		HTTPTimeoutSeconds: 5,
		PageSize:           100,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(&config.Config{})
	assert.Error(t, err)

	dc, err := New(validConfig("https://devicecloud.example.com"))
	require.NoError(t, err)
	require.NotNil(t, dc)
}

func TestServicesShareConnection(t *testing.T) {
	dc, err := New(validConfig("https://devicecloud.example.com"))
	require.NoError(t, err)

	assert.NotNil(t, dc.SCI())
	assert.NotNil(t, dc.FileSystem())
	assert.NotNil(t, dc.DeviceCore())
	assert.NotNil(t, dc.Streams())
	assert.NotNil(t, dc.FileData())
	assert.NotNil(t, dc.Monitor())
	assert.Equal(t, "https://devicecloud.example.com", dc.Connection().BaseURL())
}

func TestHasValidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, _ := r.BasicAuth()
		if pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	good := FromConnection(client.NewHTTPConnection(srv.URL, "alice", "s3cret", 0, 5*time.Second))
	assert.True(t, good.HasValidCredentials(context.Background()))

	bad := FromConnection(client.NewHTTPConnection(srv.URL, "alice", "wrong", 0, 5*time.Second))
	assert.False(t, bad.HasValidCredentials(context.Background()))
}
