package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"flipr_ingest/config"
	"flipr_ingest/httputil"
	"flipr_ingest/logging"
	"flipr_ingest/models"
	"flipr_ingest/ratelimit"
	"go.uber.org/zap"
)

const defaultPageSize = 50

var errRetryableStatus = errors.New("retryable status")

type base struct {
	source   models.Source
	endpoint string
	pageSize int
	client   *http.Client
	limiter  *ratelimit.Limiter
	logger   logging.Logger
}

func newBase(src models.Source, cfg *config.SourceConfig, deps Deps) base {
	size := cfg.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return base{
		source:   src,
		endpoint: cfg.Endpoint,
		pageSize: size,
		client:   deps.Client,
		limiter:  deps.Limiter,
		logger:   deps.Logger.With(zap.String("source", string(src))),
	}
}

func (b *base) Source() models.Source {
	return b.source
}

func (b *base) InitialCursor() int {
	return models.InitialCursor(b.source)
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do runs the request under the source's rate limit channel. Network errors, 429 and
// 5xx are retried; any other status is returned to the adapter to judge.
func (b *base) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*response, error) {
	var resp response
	err := b.limiter.Execute(ctx, string(b.source), func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", httputil.UserAgent)

		r, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		resp = response{status: r.StatusCode, body: body}

		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			return fmt.Errorf("%w %d", errRetryableStatus, r.StatusCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// exhausted logs why a fetch ended pagination and returns the terminal page.
func (b *base) exhausted(city string, cursor int, reason string, body []byte) *Page {
	b.logger.Info("No more data",
		zap.String("city", city),
		zap.Int("cursor", cursor),
		zap.String("reason", reason),
	)
	return &Page{Done: true, Body: body}
}

func (b *base) statusExhausted(city string, cursor int, resp *response) *Page {
	b.logger.Warn("Provider returned error status",
		zap.String("city", city),
		zap.Int("cursor", cursor),
		zap.Int("status", resp.status),
		zap.String("body", truncate(resp.body, 300)),
	)
	return &Page{Done: true, Body: resp.body}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
