package model

import "time"

// City is one row of the city registry. Cities are the population the
// batch scheduler recomputes coverage for.
type City struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CoverageRecord is a persisted coverage result for one (city, year).
// At most one record exists per city and year; recomputation overwrites.
type CoverageRecord struct {
	ID        int64          `json:"id"`
	CityID    int64          `json:"city_id"`
	CityName  string         `json:"city_name"`
	Year      int            `json:"year"`
	Result    CoverageResult `json:"result"`
	UpdatedAt time.Time      `json:"updated_at"`
}
