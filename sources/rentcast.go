package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"flipr_ingest/models"
)

// Rentcast pages by record offset rather than page number.
type Rentcast struct {
	base
	apiKey string
}

func (r *Rentcast) NextCursor(offset int) int {
	return offset + r.pageSize
}

func (r *Rentcast) Fetch(ctx context.Context, city string, offset int) (*Page, error) {
	q := url.Values{}
	q.Set("address", city)
	q.Set("limit", strconv.Itoa(r.pageSize))
	q.Set("offset", strconv.Itoa(offset))

	resp, err := r.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Api-Key", r.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return r.statusExhausted(city, offset, resp), nil
	}

	// The API answers with a bare array; older deployments wrapped it in {"properties": [...]}.
	var (
		records []models.RawListing
		found   = true
	)
	if trimmed := bytes.TrimSpace(resp.body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &records)
	} else {
		records, found, err = recordsUnder(resp.body, "properties")
	}
	if err != nil {
		return nil, fmt.Errorf("rentcast: decode offset %d: %w", offset, err)
	}
	if !found {
		return r.exhausted(city, offset, "no properties key", resp.body), nil
	}
	if len(records) == 0 {
		return r.exhausted(city, offset, "empty page", resp.body), nil
	}
	return &Page{Records: records, Body: resp.body}, nil
}
