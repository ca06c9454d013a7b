package normalize

import (
	"testing"
	"time"

	"flipr_ingest/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestNormalizeNestedLocation(t *testing.T) {
	raw := models.RawListing{
		"location":  map[string]any{"latitude": 40.7, "longitude": -74.0},
		"yearBuilt": float64(1990),
	}

	p := newTestNormalizer().Normalize(raw, models.SourceAttom)

	require.True(t, p.HasCoordinates())
	assert.Equal(t, 40.7, *p.Lat)
	assert.Equal(t, -74.0, *p.Lng)
	assert.Equal(t, "1990", p.Vintage)
	require.NotNil(t, p.YearBuilt)
	assert.Equal(t, 1990, *p.YearBuilt)
	assert.Equal(t, fixedNow.Unix(), p.Timestamp)
	assert.Equal(t, models.SourceAttom, p.Source)
}

func TestCoordinatePrecedence(t *testing.T) {
	raw := models.RawListing{
		"lat": 1.0, "lng": 2.0,
		"latitude": 3.0, "longitude": 4.0,
		"location": map[string]any{"latitude": 5.0, "longitude": 6.0},
	}
	p := newTestNormalizer().Normalize(raw, models.SourceRentcast)
	assert.Equal(t, 1.0, *p.Lat)
	assert.Equal(t, 2.0, *p.Lng)

	delete(raw, "lat")
	p = newTestNormalizer().Normalize(raw, models.SourceRentcast)
	assert.Equal(t, 3.0, *p.Lat, "incomplete lat/lng pair falls through")
	assert.Equal(t, 4.0, *p.Lng)
}

func TestCoordinatesNeverMixLevels(t *testing.T) {
	raw := models.RawListing{
		"lat":       1.0,
		"longitude": 4.0,
	}
	p := newTestNormalizer().Normalize(raw, models.SourceRedfin)
	assert.False(t, p.HasCoordinates())
}

func TestStandardizationCases(t *testing.T) {
	cases := []struct {
		name  string
		raw   models.RawListing
		lat   float64
		price float64
		beds  int
		baths float64
	}{
		{
			name:  "string numerics with latitude/longitude",
			raw:   models.RawListing{"address": "123 Main St", "latitude": 37.7749, "longitude": -122.4194, "price": "500000", "bedrooms": "3", "bathrooms": "2.5"},
			lat:   37.7749,
			price: 500000,
			beds:  3,
			baths: 2.5,
		},
		{
			name:  "numeric values with lat/lng",
			raw:   models.RawListing{"address": "456 Oak Ave", "lat": 34.0522, "lng": -118.2437, "price": float64(750000), "bedrooms": float64(4), "bathrooms": float64(3)},
			lat:   34.0522,
			price: 750000,
			beds:  4,
			baths: 3,
		},
		{
			name:  "nested location",
			raw:   models.RawListing{"address": "789 Pine Rd", "location": map[string]any{"latitude": 40.7128, "longitude": -74.0060}, "price": "900000", "bedrooms": "5", "bathrooms": "3.5"},
			lat:   40.7128,
			price: 900000,
			beds:  5,
			baths: 3.5,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestNormalizer().Normalize(tc.raw, models.SourceRentcast)
			require.True(t, p.HasCoordinates())
			assert.Equal(t, tc.lat, *p.Lat)
			require.NotNil(t, p.Price)
			assert.Equal(t, tc.price, *p.Price)
			require.NotNil(t, p.Bedrooms)
			assert.Equal(t, tc.beds, *p.Bedrooms)
			require.NotNil(t, p.Bathrooms)
			assert.Equal(t, tc.baths, *p.Bathrooms)
			assert.Equal(t, "unknown", p.Vintage)
		})
	}
}

func TestFailedCoercionKeepsOriginal(t *testing.T) {
	raw := models.RawListing{"address": "1 Elm St", "price": "call for price", "bedrooms": "2.5"}

	p := newTestNormalizer().Normalize(raw, models.SourceRentcast)

	assert.Nil(t, p.Price)
	assert.Nil(t, p.Bedrooms)
	assert.Equal(t, "call for price", p.Raw["price"])
	assert.Equal(t, "2.5", p.Raw["bedrooms"])
}

func TestIdentifierFromAddress(t *testing.T) {
	raw := models.RawListing{"address": map[string]any{"oneLine": "4529 WINONA CT, DENVER, CO 80212"}}

	a := newTestNormalizer().Normalize(raw, models.SourceAttom)
	b := newTestNormalizer().Normalize(raw, models.SourceAttom)

	assert.Equal(t, "4529_WINONA_CT_DENVER_CO_80212", a.Identifier)
	assert.Equal(t, a.Identifier, b.Identifier)
}

func TestIdentifierRandomWithoutAddress(t *testing.T) {
	a := newTestNormalizer().Normalize(models.RawListing{"lat": 1.0, "lng": 1.0}, models.SourceRedfin)
	b := newTestNormalizer().Normalize(models.RawListing{"lat": 1.0, "lng": 1.0}, models.SourceRedfin)

	assert.NotEmpty(t, a.Identifier)
	assert.NotEqual(t, a.Identifier, b.Identifier)
}

func TestExistingIdentifierAndTimestampKept(t *testing.T) {
	raw := models.RawListing{"identifier": "abc", "timestamp": float64(1700000000), "address": "x"}
	p := newTestNormalizer().Normalize(raw, models.SourceRedfin)
	assert.Equal(t, "abc", p.Identifier)
	assert.Equal(t, int64(1700000000), p.Timestamp)

	byID := newTestNormalizer().Normalize(models.RawListing{"id": "df-123", "address": "1 Main St, Austin, TX"}, models.SourceDatafiniti)
	assert.Equal(t, "df-123", byID.Identifier)

	both := newTestNormalizer().Normalize(models.RawListing{"identifier": "abc", "id": "df-123"}, models.SourceDatafiniti)
	assert.Equal(t, "abc", both.Identifier)

	blank := newTestNormalizer().Normalize(models.RawListing{"id": " ", "address": "1 Main St, Austin, TX"}, models.SourceDatafiniti)
	assert.Equal(t, "1_Main_St_Austin_TX", blank.Identifier)
}

func TestSourceSpecificPaths(t *testing.T) {
	attom := models.RawListing{
		"address":  map[string]any{"oneLine": "1 Main St"},
		"location": map[string]any{"latitude": "39.7", "longitude": "-104.9"},
		"building": map[string]any{
			"rooms": map[string]any{"beds": float64(3), "bathstotal": 2.0},
			"size":  map[string]any{"universalsize": float64(1450)},
		},
		"summary": map[string]any{"yearbuilt": float64(1948)},
	}
	p := newTestNormalizer().Normalize(attom, models.SourceAttom)
	require.True(t, p.HasCoordinates())
	assert.Equal(t, 39.7, *p.Lat)
	assert.Equal(t, 3, *p.Bedrooms)
	assert.Equal(t, 2.0, *p.Bathrooms)
	assert.Equal(t, 1450.0, *p.SquareFeet)
	assert.Equal(t, "1948", p.Vintage)

	rentcast := models.RawListing{"formattedAddress": "5500 Grand Lake Dr, San Antonio, TX 78244", "squareFootage": float64(1878)}
	p = newTestNormalizer().Normalize(rentcast, models.SourceRentcast)
	assert.Equal(t, "5500 Grand Lake Dr, San Antonio, TX 78244", p.Address)
	assert.Equal(t, 1878.0, *p.SquareFeet)

	// the attom spelling means nothing for rentcast
	p = newTestNormalizer().Normalize(attom, models.SourceRentcast)
	assert.Nil(t, p.Bedrooms)
}

func TestNormalizeDoesNotAliasInput(t *testing.T) {
	raw := models.RawListing{"address": "1 Main St"}
	p := newTestNormalizer().Normalize(raw, models.SourceRedfin)
	p.Raw["address"] = "changed"
	assert.Equal(t, "1 Main St", raw["address"])
}
