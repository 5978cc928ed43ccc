package coverage

import (
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/parkscope/greencover/internal/model"
)

// Summary aggregates coverage percentages across a set of city records.
type Summary struct {
	Count          int     `json:"count"`
	MeanCoverage   float64 `json:"mean_coverage"`
	MedianCoverage float64 `json:"median_coverage"`
	StdDev         float64 `json:"std_dev"`
	MinCoverage    float64 `json:"min_coverage"`
	MaxCoverage    float64 `json:"max_coverage"`
	GreenestCity   string  `json:"greenest_city"`
	LeastGreenCity string  `json:"least_green_city"`
}

// Summarize computes aggregate statistics over coverage records.
func Summarize(records []model.CoverageRecord) (*Summary, error) {
	if len(records) == 0 {
		return nil, eris.New("coverage: no records to summarize")
	}

	values := make(stats.Float64Data, len(records))
	s := &Summary{Count: len(records)}
	best, worst := records[0], records[0]
	for i, rec := range records {
		pct := rec.Result.CoveragePercentage
		values[i] = pct
		if pct > best.Result.CoveragePercentage {
			best = rec
		}
		if pct < worst.Result.CoveragePercentage {
			worst = rec
		}
	}
	s.GreenestCity = best.CityName
	s.LeastGreenCity = worst.CityName

	var err error
	if s.MeanCoverage, err = stats.Mean(values); err != nil {
		return nil, eris.Wrap(err, "coverage: mean")
	}
	if s.MedianCoverage, err = stats.Median(values); err != nil {
		return nil, eris.Wrap(err, "coverage: median")
	}
	if s.StdDev, err = stats.StandardDeviationPopulation(values); err != nil {
		return nil, eris.Wrap(err, "coverage: stddev")
	}
	if s.MinCoverage, err = stats.Min(values); err != nil {
		return nil, eris.Wrap(err, "coverage: min")
	}
	if s.MaxCoverage, err = stats.Max(values); err != nil {
		return nil, eris.Wrap(err, "coverage: max")
	}
	return s, nil
}

// Ranking is one city's position in a coverage comparison.
type Ranking struct {
	Rank     int     `json:"rank"`
	CityName string  `json:"city_name"`
	Coverage float64 `json:"coverage_percentage"`
}

// Rank orders records by coverage percentage, greenest first. Ties keep
// the input order.
func Rank(records []model.CoverageRecord) []Ranking {
	out := make([]Ranking, len(records))
	for i, rec := range records {
		out[i] = Ranking{CityName: rec.CityName, Coverage: rec.Result.CoveragePercentage}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Coverage > out[j].Coverage })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// YearChange reports the coverage delta for one city between two years.
type YearChange struct {
	CityName string  `json:"city_name"`
	FromYear int     `json:"from_year"`
	ToYear   int     `json:"to_year"`
	From     float64 `json:"from_coverage"`
	To       float64 `json:"to_coverage"`
	Delta    float64 `json:"delta"`
}

// CompareYears pairs records for two years by city and reports the change
// for every city present in both.
func CompareYears(records []model.CoverageRecord, fromYear, toYear int) []YearChange {
	from := make(map[string]float64)
	for _, rec := range records {
		if rec.Year == fromYear {
			from[rec.CityName] = rec.Result.CoveragePercentage
		}
	}

	var out []YearChange
	for _, rec := range records {
		if rec.Year != toYear {
			continue
		}
		prev, ok := from[rec.CityName]
		if !ok {
			continue
		}
		out = append(out, YearChange{
			CityName: rec.CityName,
			FromYear: fromYear,
			ToYear:   toYear,
			From:     prev,
			To:       rec.Result.CoveragePercentage,
			Delta:    rec.Result.CoveragePercentage - prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CityName < out[j].CityName })
	return out
}
