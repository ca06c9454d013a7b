package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"flipr_ingest/models"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Redfin goes through the Oxylabs realtime scraper, which returns parsed results or
// raw page HTML depending on what it could parse.
type Redfin struct {
	base
	user string
	pass string
}

type oxylabsQuery struct {
	Source      string `json:"source"`
	Query       string `json:"query"`
	GeoLocation string `json:"geo_location"`
	Parse       bool   `json:"parse"`
	Page        int    `json:"page"`
}

func (r *Redfin) NextCursor(cursor int) int {
	return cursor + 1
}

func (r *Redfin) Fetch(ctx context.Context, city string, page int) (*Page, error) {
	payload, err := json.Marshal(oxylabsQuery{
		Source:      "redfin",
		Query:       city,
		GeoLocation: city,
		Parse:       true,
		Page:        page,
	})
	if err != nil {
		return nil, err
	}

	resp, err := r.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(r.user, r.pass)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return r.statusExhausted(city, page, resp), nil
	}

	results, found, err := recordsUnder(resp.body, "results")
	if err != nil {
		return nil, fmt.Errorf("redfin: decode page %d: %w", page, err)
	}
	if !found {
		return r.exhausted(city, page, "no results key", resp.body), nil
	}

	var records []models.RawListing
	for _, result := range results {
		records = append(records, r.expand(result)...)
	}
	if len(records) == 0 {
		return r.exhausted(city, page, "empty page", resp.body), nil
	}
	return &Page{Records: records, Body: resp.body}, nil
}

// listingKeys are where parsed Oxylabs content keeps its listing array.
var listingKeys = []string{"listings", "homes", "results", "properties"}

// expand turns one Oxylabs result into listing records. Parsed content is used as is;
// HTML content falls back to the page's JSON-LD blocks.
func (r *Redfin) expand(result models.RawListing) []models.RawListing {
	content, ok := result["content"]
	if !ok {
		return []models.RawListing{result}
	}

	switch c := content.(type) {
	case map[string]any:
		for _, key := range listingKeys {
			items, ok := c[key].([]any)
			if !ok {
				continue
			}
			var out []models.RawListing
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					out = append(out, models.RawListing(m))
				}
			}
			return out
		}
		return []models.RawListing{models.RawListing(c)}
	case string:
		records, err := ListingsFromHTML(c)
		if err != nil {
			r.logger.Warn("Could not parse result HTML", zap.Error(err))
			return nil
		}
		return records
	}
	return nil
}

// ldTypes are the schema.org types Redfin uses for a home listing.
var ldTypes = map[string]bool{
	"SingleFamilyResidence": true,
	"Residence":             true,
	"House":                 true,
	"Apartment":             true,
	"RealEstateListing":     true,
	"Product":               true,
}

// ListingsFromHTML extracts listings from the JSON-LD script blocks of a search page.
func ListingsFromHTML(html string) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var out []models.RawListing
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		for _, node := range ldNodes(v) {
			if rec := listingFromLD(node); rec != nil {
				out = append(out, rec)
			}
		}
	})
	return out, nil
}

func ldNodes(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, ldNodes(item)...)
		}
		return out
	case map[string]any:
		if graph, ok := t["@graph"]; ok {
			return ldNodes(graph)
		}
		return []map[string]any{t}
	}
	return nil
}

func listingFromLD(node map[string]any) models.RawListing {
	if !ldTypeMatches(node["@type"]) {
		return nil
	}
	// RealEstateListing and Product wrap the home itself.
	if inner, ok := node["mainEntity"].(map[string]any); ok {
		if rec := listingFromLD(inner); rec != nil {
			mergeOffer(rec, node)
			return rec
		}
	}
	if inner, ok := node["itemOffered"].(map[string]any); ok {
		if rec := listingFromLD(inner); rec != nil {
			mergeOffer(rec, node)
			return rec
		}
	}

	addr, ok := node["address"].(map[string]any)
	if !ok {
		return nil
	}
	rec := models.RawListing{"address": formatLDAddress(addr)}
	if geo, ok := node["geo"].(map[string]any); ok {
		rec["latitude"] = geo["latitude"]
		rec["longitude"] = geo["longitude"]
	}
	if rooms, ok := node["numberOfRooms"]; ok {
		rec["bedrooms"] = rooms
	}
	if size, ok := node["floorSize"].(map[string]any); ok {
		rec["square_feet"] = size["value"]
	}
	if url, ok := node["url"].(string); ok {
		rec["url"] = url
	}
	mergeOffer(rec, node)
	return rec
}

func mergeOffer(rec models.RawListing, node map[string]any) {
	if _, ok := rec["price"]; ok {
		return
	}
	switch offers := node["offers"].(type) {
	case map[string]any:
		if p, ok := offers["price"]; ok {
			rec["price"] = p
		}
	case []any:
		if len(offers) > 0 {
			if first, ok := offers[0].(map[string]any); ok {
				if p, ok := first["price"]; ok {
					rec["price"] = p
				}
			}
		}
	}
}

func ldTypeMatches(t any) bool {
	switch v := t.(type) {
	case string:
		return ldTypes[v]
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && ldTypes[s] {
				return true
			}
		}
	}
	return false
}

func formatLDAddress(addr map[string]any) string {
	str := func(k string) string {
		s, _ := addr[k].(string)
		return strings.TrimSpace(s)
	}
	line := str("streetAddress")
	var parts []string
	if line != "" {
		parts = append(parts, line)
	}
	if city := str("addressLocality"); city != "" {
		parts = append(parts, city)
	}
	region := strings.TrimSpace(str("addressRegion") + " " + str("postalCode"))
	if region != "" {
		parts = append(parts, region)
	}
	return strings.Join(parts, ", ")
}
