package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"flipr_ingest/httputil"
	"flipr_ingest/logging"
	"flipr_ingest/models"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the sink endpoint is considered down.
var ErrCircuitOpen = errors.New("sink circuit open")

// HTTPSink posts properties to a remote ingestion endpoint (the /update route of
// another flipr instance). Consecutive failures open a breaker so a dead endpoint
// does not slow the crawl down.
type HTTPSink struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger logging.Logger
}

type HTTPSinkOption func(*gobreaker.Settings)

// WithBreakerTimeout sets how long the breaker stays open before probing again.
func WithBreakerTimeout(d time.Duration) HTTPSinkOption {
	return func(s *gobreaker.Settings) { s.Timeout = d }
}

// WithTripAfter sets the number of consecutive failures that opens the breaker.
func WithTripAfter(n uint32) HTTPSinkOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= n }
	}
}

func NewHTTPSink(url string, client *http.Client, logger logging.Logger, opts ...HTTPSinkOption) *HTTPSink {
	settings := gobreaker.Settings{
		Name:        "http-sink",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Sink circuit state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	return &HTTPSink{
		url:    url,
		client: client,
		cb:     gobreaker.NewCircuitBreaker[struct{}](settings),
		logger: logger,
	}
}

func (s *HTTPSink) UpsertProperty(ctx context.Context, p *models.Property) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode property %s: %w", p.Identifier, err)
	}

	_, err = s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (s *HTTPSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", httputil.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sink returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (s *HTTPSink) State() string {
	return s.cb.State().String()
}
