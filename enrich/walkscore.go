// Package enrich attaches Walk Score data to properties.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"flipr_ingest/httputil"
	"flipr_ingest/logging"
	"flipr_ingest/models"
	"flipr_ingest/ratelimit"
	"go.uber.org/zap"
)

// Channel is the rate limiter channel for Walk Score calls.
const Channel = "walkscore"

type WalkScore struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *ratelimit.Limiter
	logger   logging.Logger
}

func NewWalkScore(endpoint, apiKey string, client *http.Client, limiter *ratelimit.Limiter, log logging.Logger) *WalkScore {
	return &WalkScore{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
		limiter:  limiter,
		logger:   log,
	}
}

// Enrich sets p.WalkScore when the property has an address and non-zero coordinates.
// Failures are logged and leave the property unchanged.
func (w *WalkScore) Enrich(ctx context.Context, p *models.Property) *models.Property {
	if !p.Enrichable() {
		return p
	}

	score, err := w.Fetch(ctx, p.Address, *p.Lat, *p.Lng)
	if err != nil {
		w.logger.Warn("Walk score lookup failed",
			zap.String("address", p.Address),
			zap.Error(err),
		)
		return p
	}
	p.WalkScore = score
	return p
}

// Fetch makes one rate limited call. A non-200 status is returned as an error.
func (w *WalkScore) Fetch(ctx context.Context, address string, lat, lng float64) (*models.WalkScore, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("address", address)
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("wsapikey", w.apiKey)

	var (
		score  models.WalkScore
		status int
		body   []byte
	)
	err := w.limiter.Execute(ctx, Channel, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", httputil.UserAgent)

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("walkscore API error %d: %s", status, string(body))
	}
	if err := json.Unmarshal(body, &score); err != nil {
		return nil, fmt.Errorf("decode walkscore: %w", err)
	}
	return &score, nil
}
