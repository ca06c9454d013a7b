package httputil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientsProxy(t *testing.T) {
	c := NewClients("http://proxy.local:8080")
	require.NotNil(t, c.API)
	assert.Equal(t, 30*time.Second, c.API.Timeout)
	assert.Equal(t, 10*time.Second, c.Sink.Timeout)

	tr, ok := c.API.Transport.(*http.Transport)
	require.True(t, ok)
	req, _ := http.NewRequest(http.MethodGet, "https://api.rentcast.io/v1/properties", nil)
	proxy, err := tr.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "proxy.local:8080", proxy.Host)
}
