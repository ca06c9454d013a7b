// Package sources holds one adapter per listing provider. Each adapter pages through
// a provider's results for a city and reports when the provider has nothing more.
package sources

import (
	"context"
	"fmt"
	"net/http"

	"flipr_ingest/config"
	"flipr_ingest/logging"
	"flipr_ingest/models"
	"flipr_ingest/ratelimit"
)

// Page is one provider response. Done means the (city, source) pair is exhausted:
// an empty result, a body without the record key, or a non-success status.
type Page struct {
	Records []models.RawListing
	Done    bool
	Body    []byte
}

// Adapter fetches one page for a city at a cursor. A returned error is a transient
// failure that survived the rate limiter's retries and is distinct from exhaustion.
type Adapter interface {
	Source() models.Source
	InitialCursor() int
	NextCursor(cursor int) int
	Fetch(ctx context.Context, city string, cursor int) (*Page, error)
}

// Deps are shared by every adapter.
type Deps struct {
	Client  *http.Client
	Limiter *ratelimit.Limiter
	Keys    config.APIKeys
	Logger  logging.Logger
}

// NewAdapter builds the adapter for a configured source and registers its rate limit channel.
func NewAdapter(cfg *config.SourceConfig, deps Deps) (Adapter, error) {
	src, err := models.ParseSource(cfg.ID)
	if err != nil {
		return nil, err
	}
	deps.Limiter.Register(cfg.ID, cfg.RateLimit.Capacity, cfg.RateLimit.Window)

	base := newBase(src, cfg, deps)
	switch src {
	case models.SourceAttom:
		return &Attom{base: base, apiKey: deps.Keys.Attom}, nil
	case models.SourceRentcast:
		return &Rentcast{base: base, apiKey: deps.Keys.Rentcast}, nil
	case models.SourceRedfin:
		return &Redfin{base: base, user: deps.Keys.OxylabsUser, pass: deps.Keys.OxylabsPass}, nil
	case models.SourceDatafiniti:
		return &Datafiniti{base: base, apiKey: deps.Keys.Datafiniti}, nil
	}
	return nil, fmt.Errorf("no adapter for source %s", src)
}

// NewAdapters builds adapters for every configured source in rotation order.
func NewAdapters(cfgs map[string]*config.SourceConfig, deps Deps) (map[models.Source]Adapter, error) {
	out := make(map[models.Source]Adapter, len(models.Sources))
	for _, src := range models.Sources {
		cfg, ok := cfgs[string(src)]
		if !ok {
			continue
		}
		a, err := NewAdapter(cfg, deps)
		if err != nil {
			return nil, err
		}
		out[src] = a
	}
	return out, nil
}
