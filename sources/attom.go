package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"flipr_ingest/models"
)

// Attom pages the property snapshot endpoint by page number.
type Attom struct {
	base
	apiKey string
}

func (a *Attom) NextCursor(cursor int) int {
	return cursor + 1
}

func (a *Attom) Fetch(ctx context.Context, city string, page int) (*Page, error) {
	q := url.Values{}
	q.Set("address", city)
	q.Set("pageSize", strconv.Itoa(a.pageSize))
	q.Set("page", strconv.Itoa(page))

	resp, err := a.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("apikey", a.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return a.statusExhausted(city, page, resp), nil
	}

	records, found, err := recordsUnder(resp.body, "property")
	if err != nil {
		return nil, fmt.Errorf("attom: decode page %d: %w", page, err)
	}
	if !found {
		return a.exhausted(city, page, "no property key", resp.body), nil
	}
	if len(records) == 0 {
		return a.exhausted(city, page, "empty page", resp.body), nil
	}
	return &Page{Records: records, Body: resp.body}, nil
}

// recordsUnder decodes the array stored at key in a JSON object. found is false when
// the key is absent or null.
func recordsUnder(body []byte, key string) (records []models.RawListing, found bool, err error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false, err
	}
	raw, ok := envelope[key]
	if !ok || string(raw) == "null" {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, true, fmt.Errorf("%s: %w", key, err)
	}
	return records, true, nil
}
