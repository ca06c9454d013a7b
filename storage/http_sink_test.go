package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"flipr_ingest/logging"
	"flipr_ingest/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSinkPostsProperty(t *testing.T) {
	var got models.Property
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, srv.Client(), logging.NewNop())
	p := testProperty("abc", 320000, 3, 0.82, 1700000000)
	require.NoError(t, sink.UpsertProperty(context.Background(), p))

	assert.Equal(t, "abc", got.Identifier)
	assert.Equal(t, 0.82, got.Intensity)
	assert.Equal(t, "reasoning for abc", got.Reasoning)
	assert.Equal(t, "closed", sink.State())
}

func TestHTTPSinkOpensAfterFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, srv.Client(), logging.NewNop(), WithTripAfter(3), WithBreakerTimeout(time.Hour))
	p := testProperty("abc", 1, 1, 0.5, 1)

	for i := 0; i < 3; i++ {
		err := sink.UpsertProperty(context.Background(), p)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}

	err := sink.UpsertProperty(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "open breaker short-circuits the request")
	assert.Equal(t, "open", sink.State())
}
