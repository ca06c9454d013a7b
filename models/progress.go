package models

import "encoding/json"

// CityProgress holds the pagination cursors for one city. The JSON shape matches
// the progress file written by earlier crawler versions.
type CityProgress struct {
	AttomPage      int    `json:"attom_page"`
	RentcastOffset int    `json:"rentcast_offset"`
	RedfinPage     int    `json:"redfin_page"`
	DatafinitiPage int    `json:"datafiniti_page"`
	LastAPI        string `json:"last_api"`
}

// Progress maps city name to its cursors.
type Progress map[string]*CityProgress

func NewCityProgress() *CityProgress {
	return &CityProgress{
		AttomPage:      InitialCursor(SourceAttom),
		RentcastOffset: InitialCursor(SourceRentcast),
		RedfinPage:     InitialCursor(SourceRedfin),
		DatafinitiPage: InitialCursor(SourceDatafiniti),
	}
}

// UnmarshalJSON fills keys missing from older progress files with their initial values.
func (c *CityProgress) UnmarshalJSON(data []byte) error {
	type alias CityProgress
	tmp := alias(*NewCityProgress())
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*c = CityProgress(tmp)
	return nil
}

// InitialCursor is the first cursor value for a source: offset 0 for rentcast, page 1 otherwise.
func InitialCursor(src Source) int {
	if src == SourceRentcast {
		return 0
	}
	return 1
}

func (c *CityProgress) Cursor(src Source) int {
	switch src {
	case SourceAttom:
		return c.AttomPage
	case SourceRentcast:
		return c.RentcastOffset
	case SourceRedfin:
		return c.RedfinPage
	case SourceDatafiniti:
		return c.DatafinitiPage
	}
	return 0
}

func (c *CityProgress) SetCursor(src Source, v int) {
	switch src {
	case SourceAttom:
		c.AttomPage = v
	case SourceRentcast:
		c.RentcastOffset = v
	case SourceRedfin:
		c.RedfinPage = v
	case SourceDatafiniti:
		c.DatafinitiPage = v
	}
}

// Reset puts every cursor back to its initial value and clears the rotation marker.
func (c *CityProgress) Reset() {
	*c = *NewCityProgress()
}

// Rotation returns the sources in crawl order, starting after LastAPI.
func (c *CityProgress) Rotation() []Source {
	start := 0
	for i, src := range Sources {
		if string(src) == c.LastAPI {
			start = i + 1
			break
		}
	}
	out := make([]Source, 0, len(Sources))
	for i := range Sources {
		out = append(out, Sources[(start+i)%len(Sources)])
	}
	return out
}

// Ensure adds fresh entries for cities that have none.
func (p Progress) Ensure(cities []string) {
	for _, city := range cities {
		if p[city] == nil {
			p[city] = NewCityProgress()
		}
	}
}

// Clone returns a deep copy, safe to hand to a store while the driver keeps mutating.
func (p Progress) Clone() Progress {
	out := make(Progress, len(p))
	for city, cp := range p {
		if cp == nil {
			continue
		}
		c := *cp
		out[city] = &c
	}
	return out
}
