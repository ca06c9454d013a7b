// Package normalize maps provider records onto the canonical property schema.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"flipr_ingest/identity"
	"flipr_ingest/models"
)

type field string

const (
	fieldPrice      field = "price"
	fieldBedrooms   field = "bedrooms"
	fieldBathrooms  field = "bathrooms"
	fieldSquareFeet field = "square_feet"
	fieldYearBuilt  field = "year_built"
)

// commonPaths are tried for every source, in order. Dotted paths descend into nested objects.
var commonPaths = map[field][]string{
	fieldPrice:      {"price"},
	fieldBedrooms:   {"bedrooms"},
	fieldBathrooms:  {"bathrooms"},
	fieldSquareFeet: {"square_feet", "squareFeet"},
	fieldYearBuilt:  {"year_built", "yearBuilt"},
}

// sourcePaths lists each provider's own spellings, consulted after commonPaths.
var sourcePaths = map[models.Source]map[field][]string{
	models.SourceAttom: {
		fieldPrice:      {"sale.amount.saleamt", "assessment.market.mktttlvalue"},
		fieldBedrooms:   {"building.rooms.beds"},
		fieldBathrooms:  {"building.rooms.bathstotal"},
		fieldSquareFeet: {"building.size.universalsize", "building.size.livingsize"},
		fieldYearBuilt:  {"summary.yearbuilt"},
	},
	models.SourceRentcast: {
		fieldPrice:      {"lastSalePrice"},
		fieldSquareFeet: {"squareFootage"},
	},
	models.SourceRedfin: {
		fieldPrice:      {"listPrice", "price.value"},
		fieldBedrooms:   {"beds"},
		fieldBathrooms:  {"baths"},
		fieldSquareFeet: {"sqFt.value", "sqft"},
		fieldYearBuilt:  {"yearBuilt.value"},
	},
	models.SourceDatafiniti: {
		fieldBedrooms:   {"rooms.beds"},
		fieldBathrooms:  {"rooms.baths"},
		fieldSquareFeet: {"buildingSize.size"},
	},
}

type Normalizer struct {
	now func() time.Time
}

type Option func(*Normalizer)

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize never fails. Coordinates may be left nil; the caller decides whether
// that disqualifies the record. Values that cannot be coerced to numbers stay in
// Property.Raw untouched.
func (n *Normalizer) Normalize(raw models.RawListing, src models.Source) *models.Property {
	p := &models.Property{
		Source: src,
		Raw:    copyRaw(raw),
	}

	p.Address = extractAddress(raw)
	p.Lat, p.Lng = extractCoordinates(raw)

	p.Price = lookupFloat(raw, pathsFor(src, fieldPrice))
	p.Bedrooms = lookupInt(raw, pathsFor(src, fieldBedrooms))
	p.Bathrooms = lookupFloat(raw, pathsFor(src, fieldBathrooms))
	p.SquareFeet = lookupFloat(raw, pathsFor(src, fieldSquareFeet))
	p.YearBuilt = lookupInt(raw, pathsFor(src, fieldYearBuilt))
	p.Vintage = models.VintageFor(p.YearBuilt)

	p.Identifier = existingIdentifier(raw)
	if p.Identifier == "" {
		p.Identifier = identity.Identifier(p.Address)
	}

	if ts, ok := toFloat(raw["timestamp"]); ok && ts > 0 {
		p.Timestamp = int64(ts)
	} else {
		p.Timestamp = n.now().Unix()
	}

	return p
}

// existingIdentifier returns a provider-supplied key, preferring identifier over id.
func existingIdentifier(raw models.RawListing) string {
	for _, key := range []string{"identifier", "id"} {
		if id, ok := raw[key].(string); ok && strings.TrimSpace(id) != "" {
			return id
		}
	}
	return ""
}

var defaultNormalizer = New()

// Normalize uses the wall clock.
func Normalize(raw models.RawListing, src models.Source) *models.Property {
	return defaultNormalizer.Normalize(raw, src)
}

func pathsFor(src models.Source, f field) []string {
	paths := append([]string(nil), commonPaths[f]...)
	return append(paths, sourcePaths[src][f]...)
}

func extractAddress(raw models.RawListing) string {
	switch v := raw["address"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if one, ok := v["oneLine"].(string); ok && one != "" {
			return strings.TrimSpace(one)
		}
		var parts []string
		for _, key := range []string{"line1", "line2"} {
			if s, ok := v[key].(string); ok && s != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}
	if s, ok := raw["formattedAddress"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// extractCoordinates takes the first complete pair from lat/lng, latitude/longitude,
// then location.latitude/location.longitude. Pairs are never mixed across levels.
func extractCoordinates(raw models.RawListing) (*float64, *float64) {
	if lat, lng, ok := pair(raw, "lat", "lng"); ok {
		return lat, lng
	}
	if lat, lng, ok := pair(raw, "latitude", "longitude"); ok {
		return lat, lng
	}
	if loc, ok := raw["location"].(map[string]any); ok {
		if lat, lng, ok := pair(loc, "latitude", "longitude"); ok {
			return lat, lng
		}
	}
	return nil, nil
}

func pair(m map[string]any, latKey, lngKey string) (*float64, *float64, bool) {
	latRaw, okLat := m[latKey]
	lngRaw, okLng := m[lngKey]
	if !okLat || !okLng || latRaw == nil || lngRaw == nil {
		return nil, nil, false
	}
	lat, ok1 := toFloat(latRaw)
	lng, ok2 := toFloat(lngRaw)
	if !ok1 || !ok2 {
		return nil, nil, false
	}
	return &lat, &lng, true
}

func lookup(raw map[string]any, path string) (any, bool) {
	var cur any = raw
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func lookupFloat(raw map[string]any, paths []string) *float64 {
	for _, path := range paths {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return &f
		}
		return nil
	}
	return nil
}

func lookupInt(raw map[string]any, paths []string) *int {
	for _, path := range paths {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		if i, ok := toInt(v); ok {
			return &i
		}
		return nil
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// toInt accepts integers and integral floats; "2.5" does not coerce.
func toInt(v any) (int, bool) {
	if s, ok := v.(string); ok {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		return i, err == nil
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func copyRaw(raw models.RawListing) models.RawListing {
	out := make(models.RawListing, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
