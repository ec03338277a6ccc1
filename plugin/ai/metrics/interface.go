// Package metrics aggregates per-template performance from usage events.
package metrics

import (
	"context"
	"time"

	"github.com/hrygo/querylab/store"
)

// PerformanceService defines the performance aggregation interface.
// Consumers: experiment lifecycle (RecordInteraction), suggestion generator.
type PerformanceService interface {
	// RecordUsage folds one usage event into the template's metrics.
	RecordUsage(ctx context.Context, event UsageEvent) (*store.TemplatePerformance, error)

	// RecordRating folds one user rating into the template's metrics.
	RecordRating(ctx context.Context, templateKey string, rating float64) (*store.TemplatePerformance, error)

	// Get returns the metrics of one template, or nil when it is unknown.
	Get(ctx context.Context, templateKey string) (*store.TemplatePerformance, error)
}

// UsageEvent is one use of a template to answer a query.
type UsageEvent struct {
	TemplateKey    string        `json:"template_key"`
	Success        bool          `json:"success"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
	// At defaults to the store clock.
	At time.Time `json:"at"`
}
