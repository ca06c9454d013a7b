package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"flipr_ingest/logging"
	"flipr_ingest/models"
	"flipr_ingest/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnricher(t *testing.T, handler http.HandlerFunc) (*WalkScore, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(ratelimit.WithRetries(1))
	return NewWalkScore(srv.URL+"/score", "test-key", srv.Client(), limiter, logging.NewNop()), &calls
}

func TestEnrichAttachesScore(t *testing.T) {
	ws, calls := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "1 Main St, Denver, CO", q.Get("address"))
		assert.Equal(t, "39.74", q.Get("lat"))
		assert.Equal(t, "-104.99", q.Get("lon"))
		assert.Equal(t, "test-key", q.Get("wsapikey"))
		w.Write([]byte(`{"status":1,"walkscore":88,"description":"Very Walkable"}`))
	})

	p := &models.Property{Address: "1 Main St, Denver, CO", Lat: models.Float64Ptr(39.74), Lng: models.Float64Ptr(-104.99)}
	ws.Enrich(context.Background(), p)

	require.NotNil(t, p.WalkScore)
	assert.Equal(t, 88.0, p.WalkScore.Score)
	assert.Equal(t, "Very Walkable", p.WalkScore.Description)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestEnrichSkipsIneligible(t *testing.T) {
	ws, calls := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"walkscore":50}`))
	})

	cases := []*models.Property{
		{Lat: models.Float64Ptr(1), Lng: models.Float64Ptr(1)},
		{Address: "x", Lat: models.Float64Ptr(0), Lng: models.Float64Ptr(1)},
		{Address: "x", Lat: models.Float64Ptr(1)},
	}
	for _, p := range cases {
		ws.Enrich(context.Background(), p)
		assert.Nil(t, p.WalkScore)
	}
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestEnrichFailureLeavesUnset(t *testing.T) {
	ws, _ := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	})

	p := &models.Property{Address: "1 Main St", Lat: models.Float64Ptr(1), Lng: models.Float64Ptr(2)}
	ws.Enrich(context.Background(), p)

	assert.Nil(t, p.WalkScore)
}
