package experiment

import (
	"context"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat"
)

// trendJitter is the standard deviation of the noise added to each point.
const trendJitter = 0.02

// TrendPoint is one illustrative daily success rate per arm.
type TrendPoint struct {
	Day         time.Time `json:"day"`
	ControlRate float64   `json:"control_rate"`
	VariantRate float64   `json:"variant_rate"`
}

// SeriesSummary describes one arm of a trend.
type SeriesSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Trend is a synthesized daily series around the current success rates.
// It is illustrative only; the analysis never reads it.
type Trend struct {
	ExperimentID int32         `json:"experiment_id"`
	Points       []TrendPoint  `json:"points"`
	Control      SeriesSummary `json:"control"`
	Variant      SeriesSummary `json:"variant"`
}

// Trend synthesizes days points ending today, jittered with rng. The same
// seed always yields the same series. It returns nil when the experiment
// does not exist.
func (s *Service) Trend(ctx context.Context, id int32, days int, rng *rand.Rand) (*Trend, error) {
	if days <= 0 {
		return nil, &Error{Code: ErrCodeValidation, Message: "days must be positive"}
	}
	if rng == nil {
		return nil, &Error{Code: ErrCodeValidation, Message: "a random source is required"}
	}
	analysis, err := s.AnalyzeResults(ctx, id)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, nil
	}

	today := s.store.Now().Truncate(24 * time.Hour)
	control := make([]float64, days)
	variant := make([]float64, days)
	points := make([]TrendPoint, days)
	for i := range days {
		control[i] = clamp(analysis.Statistics.ControlRate+rng.NormFloat64()*trendJitter, 0, 1)
		variant[i] = clamp(analysis.Statistics.VariantRate+rng.NormFloat64()*trendJitter, 0, 1)
		points[i] = TrendPoint{
			Day:         today.AddDate(0, 0, i-days+1),
			ControlRate: control[i],
			VariantRate: variant[i],
		}
	}

	return &Trend{
		ExperimentID: id,
		Points:       points,
		Control:      summarize(control),
		Variant:      summarize(variant),
	}, nil
}

func summarize(xs []float64) SeriesSummary {
	if len(xs) < 2 {
		return SeriesSummary{Mean: stat.Mean(xs, nil)}
	}
	mean, std := stat.MeanStdDev(xs, nil)
	return SeriesSummary{Mean: mean, StdDev: std}
}
