package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// SourceRun records one driver turn of a source for a city.
type SourceRun struct {
	ID            int64      `json:"id" db:"id"`
	City          string     `json:"city" db:"city"`
	Source        Source     `json:"source" db:"source"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	StartCursor   int        `json:"start_cursor" db:"start_cursor"`
	EndCursor     int        `json:"end_cursor" db:"end_cursor"`
	Pages         int        `json:"pages" db:"pages"`
	RecordsFound  int        `json:"records_found" db:"records_found"`
	RecordsSunk   int        `json:"records_sunk" db:"records_sunk"`
	Duplicates    int        `json:"duplicates" db:"duplicates"`
	NoCoordinates int        `json:"no_coordinates" db:"no_coordinates"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
}

// RatingCounts summarizes stored properties by deal band.
type RatingCounts struct {
	Total        int            `json:"total_properties"`
	HotDeals     int            `json:"hot_deals"`
	GoodDeals    int            `json:"good_deals"`
	AverageDeals int            `json:"average_deals"`
	WeakDeals    int            `json:"weak_deals"`
	ByRating     map[string]int `json:"by_rating"`
}

// PropertyFilter narrows a property listing. Zero values mean "no filter".
type PropertyFilter struct {
	Page         int
	PerPage      int
	MinPrice     *float64
	MaxPrice     *float64
	MinBedrooms  *int
	MinIntensity *float64
}

func (f PropertyFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}
