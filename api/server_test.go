package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"flipr_ingest/logging"
	"flipr_ingest/metrics"
	"flipr_ingest/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	upserted  []models.Property
	list      []models.Property
	total     int
	lastQuery models.PropertyFilter
	counts    *models.RatingCounts
	err       error
}

func (f *fakeStore) UpsertProperty(_ context.Context, p *models.Property) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, *p)
	return nil
}

func (f *fakeStore) ListProperties(_ context.Context, q models.PropertyFilter) ([]models.Property, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.list, f.total, f.err
}

func (f *fakeStore) RatingCounts(context.Context) (*models.RatingCounts, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

func newTestServer(t *testing.T, store *fakeStore) (*Server, *Hub) {
	t.Helper()
	hub := NewHub(metrics.New(nil), logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	s := NewServer(Options{Version: "test", Database: "SQLite"}, store, hub, metrics.New(nil), logging.NewNop())
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s, hub
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	rec, body := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, ServerName, body["server"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "enabled", body["websocket"])
	assert.Equal(t, "SQLite", body["database"])
}

func TestStatus(t *testing.T) {
	store := &fakeStore{counts: &models.RatingCounts{
		Total: 10, HotDeals: 2, GoodDeals: 3, AverageDeals: 1, WeakDeals: 4,
		ByRating: map[string]int{"Red": 1, "Orange": 1, "Yellow": 3, "Green": 1, "Blue": 4},
	}}
	s, _ := newTestServer(t, store)

	rec, body := do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 10, body["total_properties"])
	assert.EqualValues(t, 2, body["hot_deals"])
	assert.EqualValues(t, 4, body["weak_deals"])
	assert.Equal(t, "2023-11-14T22:13:20Z", body["server_time"])
	byRating := body["by_rating"].(map[string]any)
	assert.EqualValues(t, 3, byRating["Yellow"])
}

func TestStatusStoreError(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{err: errors.New("db down")})

	rec, body := do(t, s, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "db down", body["message"])
}

func TestListProperties(t *testing.T) {
	store := &fakeStore{
		list: []models.Property{
			{Identifier: "a", Address: "1 Main St", Lat: models.Float64Ptr(1), Lng: models.Float64Ptr(2)},
		},
		total: 5,
	}
	s, _ := newTestServer(t, store)

	rec, body := do(t, s, http.MethodGet, "/properties?page=2&per_page=2&min_price=100000&min_bedrooms=3&min_intensity=0.6", "")
	require.Equal(t, http.StatusOK, rec.Code)

	props := body["properties"].([]any)
	require.Len(t, props, 1)
	assert.Equal(t, "a", props[0].(map[string]any)["identifier"])

	page := body["pagination"].(map[string]any)
	assert.EqualValues(t, 2, page["page"])
	assert.EqualValues(t, 2, page["per_page"])
	assert.EqualValues(t, 3, page["total_pages"])
	assert.EqualValues(t, 5, page["total_count"])

	q := store.lastQuery
	assert.Equal(t, 2, q.Page)
	require.NotNil(t, q.MinPrice)
	assert.Equal(t, 100000.0, *q.MinPrice)
	require.NotNil(t, q.MinBedrooms)
	assert.Equal(t, 3, *q.MinBedrooms)
	require.NotNil(t, q.MinIntensity)
	assert.Nil(t, q.MaxPrice)
}

func TestListPropertiesDefaults(t *testing.T) {
	store := &fakeStore{}
	s, _ := newTestServer(t, store)

	rec, body := do(t, s, http.MethodGet, "/properties", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["properties"])
	assert.NotNil(t, body["properties"])
	assert.Equal(t, 1, store.lastQuery.Page)
	assert.Equal(t, 100, store.lastQuery.PerPage)
	assert.Nil(t, store.lastQuery.MinBedrooms)
}

func TestListPropertiesBadQuery(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	rec, body := do(t, s, http.MethodGet, "/properties?min_price=cheap", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "min_price")
}

func TestUpdateFillsDefaults(t *testing.T) {
	store := &fakeStore{}
	s, _ := newTestServer(t, store)

	rec, body := do(t, s, http.MethodPost, "/update", `{"address":"9 Elm St","latitude":40.1,"longitude":-74.2,"price":250000,"intensity":0.7,"deal_rating":"Good Deal"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	require.Len(t, store.upserted, 1)
	p := store.upserted[0]
	assert.NotEmpty(t, p.Identifier)
	assert.Equal(t, body["id"], p.Identifier)
	assert.Equal(t, int64(1700000000), p.Timestamp)
	require.NotNil(t, p.Lat)
	assert.Equal(t, 40.1, *p.Lat)
	assert.Equal(t, -74.2, *p.Lng)
	assert.Equal(t, "unknown", p.Vintage)
	assert.Equal(t, "Good Deal", p.DealRating)
}

func TestUpdateKeepsIdentifier(t *testing.T) {
	store := &fakeStore{}
	s, _ := newTestServer(t, store)

	rec, body := do(t, s, http.MethodPost, "/update", `{"identifier":"abc","timestamp":42,"lat":1,"lng":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", body["id"])
	assert.Equal(t, int64(42), store.upserted[0].Timestamp)
	assert.Equal(t, "Unknown", store.upserted[0].DealRating)
	assert.Equal(t, "Unknown", store.upserted[0].Address)

	_, body = do(t, s, http.MethodPost, "/update", `{"id":"legacy"}`)
	assert.Equal(t, "legacy", body["id"])
}

func TestUpdateErrors(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})
	rec, body := do(t, s, http.MethodPost, "/update", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])

	s, _ = newTestServer(t, &fakeStore{err: errors.New("constraint")})
	rec, body = do(t, s, http.MethodPost, "/update", `{"address":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "constraint", body["message"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebsocketConnectAndBroadcast(t *testing.T) {
	store := &fakeStore{}
	s, hub := newTestServer(t, store)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)

	greeting := readMessage(t, conn)
	assert.Equal(t, EventConnectionStatus, greeting["event"])
	assert.Equal(t, "connected", greeting["data"].(map[string]any)["status"])
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/update", "application/json", strings.NewReader(`{"identifier":"p1","address":"1 Main St"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, EventNewProperty, msg["event"])
	assert.Equal(t, "p1", msg["data"].(map[string]any)["identifier"])
}

func TestWebsocketPing(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Event: EventPingTest, Data: "hello"}))
	msg := readMessage(t, conn)
	assert.Equal(t, EventPongResponse, msg["event"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "hello", data["received"])
	assert.Equal(t, "Pong response from Flipr server", data["message"])
}

func TestHubDropsEventsWithoutClients(t *testing.T) {
	hub := NewHub(nil, logging.NewNop())
	for range broadcastBuffer + 10 {
		hub.Publish(&models.Property{Identifier: "x"})
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubShutdownClosesClients(t *testing.T) {
	s, hub := newTestServer(t, &fakeStore{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	hub2 := NewHub(nil, logging.NewNop())
	s.hub = hub2
	done := make(chan struct{})
	go func() {
		hub2.Run(ctx)
		close(done)
	}()

	conn := dialWS(t, srv)
	readMessage(t, conn)
	assert.Eventually(t, func() bool { return hub2.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())

	cancel()
	<-done
	assert.Equal(t, 0, hub2.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
