package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"flipr_ingest/models"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// datafinitiTypes narrow the query from page 3 onward so every page asks a different question.
var datafinitiTypes = []string{
	"Single Family Dwelling",
	"Multi-Family Dwelling",
	"Townhouse",
	"Condo",
	"Apartment",
}

// Datafiniti searches the property database with a query string. The API has no
// pagination, so the page number selects the query instead.
type Datafiniti struct {
	base
	apiKey string
}

type datafinitiSearch struct {
	Query      string `json:"query"`
	Format     string `json:"format"`
	NumRecords int    `json:"num_records"`
}

type datafinitiFeature struct {
	Key   string   `mapstructure:"key"`
	Value []string `mapstructure:"value"`
}

type datafinitiRecord struct {
	ID            string              `mapstructure:"id"`
	Address       string              `mapstructure:"address"`
	City          string              `mapstructure:"city"`
	Province      string              `mapstructure:"province"`
	PostalCode    string              `mapstructure:"postalCode"`
	Latitude      *float64            `mapstructure:"latitude"`
	Longitude     *float64            `mapstructure:"longitude"`
	YearBuilt     int                 `mapstructure:"yearBuilt"`
	SquareFootage float64             `mapstructure:"squareFootage"`
	NumBedroom    int                 `mapstructure:"numBedroom"`
	NumBathroom   float64             `mapstructure:"numBathroom"`
	Features      []datafinitiFeature `mapstructure:"features"`
}

func (d *Datafiniti) NextCursor(cursor int) int {
	return cursor + 1
}

// DatafinitiQuery returns the search for a city at a page, or false once the
// queries are used up.
func DatafinitiQuery(city string, page int) (string, bool) {
	name, state, _ := strings.Cut(city, ",")
	name = strings.TrimSpace(name)
	state = strings.TrimSpace(state)

	q := fmt.Sprintf("city:%q", name)
	if page <= 1 {
		return q, true
	}
	if state != "" {
		q += " AND province:" + state
	}
	if page == 2 {
		return q, true
	}
	i := page - 3
	if i >= len(datafinitiTypes) {
		return "", false
	}
	return q + fmt.Sprintf(" AND propertyType:%q", datafinitiTypes[i]), true
}

func (d *Datafiniti) Fetch(ctx context.Context, city string, page int) (*Page, error) {
	query, ok := DatafinitiQuery(city, page)
	if !ok {
		return d.exhausted(city, page, "queries used up", nil), nil
	}
	payload, err := json.Marshal(datafinitiSearch{
		Query:      query,
		Format:     "JSON",
		NumRecords: d.pageSize,
	})
	if err != nil {
		return nil, err
	}

	resp, err := d.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return d.statusExhausted(city, page, resp), nil
	}

	raw, found, err := recordsUnder(resp.body, "records")
	if err != nil {
		return nil, fmt.Errorf("datafiniti: decode page %d: %w", page, err)
	}
	if !found {
		return d.exhausted(city, page, "no records key", resp.body), nil
	}

	records := make([]models.RawListing, 0, len(raw))
	for _, r := range raw {
		rec, err := transformDatafiniti(r)
		if err != nil {
			d.logger.Warn("Skipping undecodable record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return d.exhausted(city, page, "empty page", resp.body), nil
	}
	return &Page{Records: records, Body: resp.body}, nil
}

// transformDatafiniti reshapes a Datafiniti record into the nested layout the
// normalizer reads for this source.
func transformDatafiniti(raw models.RawListing) (models.RawListing, error) {
	var rec datafinitiRecord
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &rec,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(map[string]any(raw)); err != nil {
		return nil, err
	}

	address := rec.Address
	if address == "" {
		address = "Unknown"
	}
	out := models.RawListing{
		"id":      rec.ID,
		"source":  string(models.SourceDatafiniti),
		"city":    rec.City,
		"state":   rec.Province,
		"zipCode": rec.PostalCode,
		"address": map[string]any{
			"oneLine": fmt.Sprintf("%s, %s, %s %s", address, rec.City, rec.Province, rec.PostalCode),
		},
		"rooms": map[string]any{
			"beds":  rec.NumBedroom,
			"baths": rec.NumBathroom,
		},
	}
	if rec.Latitude != nil && rec.Longitude != nil {
		out["lat"] = *rec.Latitude
		out["lng"] = *rec.Longitude
	}
	if rec.SquareFootage > 0 {
		out["buildingSize"] = map[string]any{"size": rec.SquareFootage}
	}

	yearBuilt := rec.YearBuilt
	for _, f := range rec.Features {
		if len(f.Value) == 0 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(f.Value[0]))
		if err != nil {
			continue
		}
		switch f.Key {
		case "Total Apartments":
			out["numUnits"] = n
		case "Year Built:":
			yearBuilt = n
		}
	}
	if yearBuilt > 0 {
		out["yearBuilt"] = yearBuilt
	}
	return out, nil
}
