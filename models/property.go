package models

import (
	"errors"
	"strconv"
)

// RawListing is a provider record as decoded from JSON. Its shape differs per source.
type RawListing map[string]any

var ErrAlreadyScored = errors.New("property already scored")

type WalkScore struct {
	Status      int     `json:"status"`
	Score       float64 `json:"walkscore"`
	Description string  `json:"description,omitempty"`
	Updated     string  `json:"updated,omitempty"`
	LogoURL     string  `json:"logo_url,omitempty"`
	WSLink      string  `json:"ws_link,omitempty"`
	SnappedLat  float64 `json:"snapped_lat,omitempty"`
	SnappedLon  float64 `json:"snapped_lon,omitempty"`
}

// Property is the canonical listing record handed to the sink.
type Property struct {
	Identifier string   `json:"identifier" db:"id"`
	Address    string   `json:"address" db:"address"`
	Lat        *float64 `json:"lat" db:"lat"`
	Lng        *float64 `json:"lng" db:"lng"`

	Price      *float64 `json:"price,omitempty" db:"price"`
	Bedrooms   *int     `json:"bedrooms,omitempty" db:"bedrooms"`
	Bathrooms  *float64 `json:"bathrooms,omitempty" db:"bathrooms"`
	SquareFeet *float64 `json:"square_feet,omitempty" db:"square_feet"`
	YearBuilt  *int     `json:"year_built,omitempty" db:"year_built"`
	Vintage    string   `json:"vintage" db:"vintage"`

	WalkScore *WalkScore `json:"walk_score,omitempty" db:"walk_score"`

	Intensity  float64 `json:"intensity" db:"intensity"`
	DealRating string  `json:"deal_rating" db:"deal_rating"`
	Reasoning  string  `json:"ai_evaluation_reasoning" db:"ai_evaluation_reasoning"`

	Timestamp int64  `json:"timestamp" db:"timestamp"`
	Source    Source `json:"source" db:"source"`

	// Raw keeps the provider record, including values that failed numeric coercion.
	Raw RawListing `json:"property_data,omitempty" db:"property_data"`

	scored bool
}

func (p *Property) HasCoordinates() bool {
	return p.Lat != nil && p.Lng != nil
}

// Enrichable reports whether address and both coordinates are present and non-zero.
func (p *Property) Enrichable() bool {
	return p.Address != "" && p.Lat != nil && p.Lng != nil && *p.Lat != 0 && *p.Lng != 0
}

// SetScore assigns the intensity exactly once.
func (p *Property) SetScore(intensity float64, rating, reasoning string) error {
	if p.scored {
		return ErrAlreadyScored
	}
	p.Intensity = intensity
	p.DealRating = rating
	p.Reasoning = reasoning
	p.scored = true
	return nil
}

func (p *Property) Scored() bool {
	return p.scored
}

// VintageFor renders a year as the display vintage.
func VintageFor(year *int) string {
	if year == nil || *year <= 0 {
		return "unknown"
	}
	return strconv.Itoa(*year)
}

func Float64Ptr(v float64) *float64 {
	return &v
}

func IntPtr(v int) *int {
	return &v
}
