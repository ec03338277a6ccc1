package store

import "time"

// TemplatePerformance is the canonical per-template performance metric.
// Rows are created with zero counters together with their template and are
// only ever mutated through IncrementTemplateUsage and UpdateTemplateRating.
type TemplatePerformance struct {
	TemplateID          int32
	TemplateKey         string
	TotalUsages         int64
	SuccessfulUsages    int64
	SuccessRate         float64
	AvgConfidence       float64
	AvgProcessingTimeMs float64
	AvgUserRating       float64
	RatingCount         int64
	LastUsedTs          *time.Time
	UpdatedTs           time.Time
}

// FailedUsages returns the number of unsuccessful usages.
func (p *TemplatePerformance) FailedUsages() int64 {
	return p.TotalUsages - p.SuccessfulUsages
}

// IncrementTemplateUsage describes one usage event folded into the running aggregates.
type IncrementTemplateUsage struct {
	TemplateKey      string
	Success          bool
	Confidence       float64
	ProcessingTimeMs float64
	UsedTs           time.Time
}

// UpdateTemplateRating folds one user rating into the running rating mean.
type UpdateTemplateRating struct {
	TemplateKey string
	Rating      float64
	RatedTs     time.Time
}

// FindTemplatePerformance specifies the conditions for finding template performance rows.
type FindTemplatePerformance struct {
	TemplateID  *int32
	TemplateKey *string
	// OnlyActive restricts the result to active templates.
	OnlyActive bool
	// MinUsages filters rows with fewer usages out.
	MinUsages *int64
	// MaxSuccessRate keeps rows whose success rate is strictly below the value.
	MaxSuccessRate *float64
	// OrderBySuccessRateDesc orders by success rate descending, then usages descending.
	OrderBySuccessRateDesc bool
	Limit                  *int
}
