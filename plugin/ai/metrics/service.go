package metrics

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/querylab/store"
)

// ErrUnknownTemplate is returned when a usage event names a template that does not exist.
var ErrUnknownTemplate = errors.New("unknown template")

// Service implements PerformanceService on the store's atomic increments.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService creates a new performance service.
func NewService(s *store.Store) *Service {
	return &Service{
		store:  s,
		logger: slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// RecordUsage folds one usage event into the template's metrics. Counting is
// keyed by the template key alone.
func (s *Service) RecordUsage(ctx context.Context, event UsageEvent) (*store.TemplatePerformance, error) {
	key := strings.TrimSpace(event.TemplateKey)
	if key == "" {
		return nil, errors.New("template key is required")
	}

	perf, err := s.store.IncrementTemplateUsage(ctx, &store.IncrementTemplateUsage{
		TemplateKey:      key,
		Success:          event.Success,
		Confidence:       event.Confidence,
		ProcessingTimeMs: float64(event.ProcessingTime.Milliseconds()),
		UsedTs:           event.At,
	})
	if err != nil {
		s.logger.Error("failed to record template usage", "template_key", key, "error", err)
		return nil, errors.Wrapf(err, "failed to record usage of %s", key)
	}
	if perf == nil {
		return nil, errors.Wrap(ErrUnknownTemplate, key)
	}

	recordUsage(event.Success)
	return perf, nil
}

// RecordRating folds one user rating into the template's metrics.
func (s *Service) RecordRating(ctx context.Context, templateKey string, rating float64) (*store.TemplatePerformance, error) {
	if rating < 1 || rating > 5 {
		return nil, errors.Errorf("rating %.2f out of range [1, 5]", rating)
	}

	perf, err := s.store.UpdateTemplateRating(ctx, &store.UpdateTemplateRating{
		TemplateKey: templateKey,
		Rating:      rating,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to record rating of %s", templateKey)
	}
	if perf == nil {
		return nil, errors.Wrap(ErrUnknownTemplate, templateKey)
	}

	ratingTotal.Inc()
	return perf, nil
}

// Get returns the metrics of one template, or nil when it is unknown.
func (s *Service) Get(ctx context.Context, templateKey string) (*store.TemplatePerformance, error) {
	return s.store.GetTemplatePerformance(ctx, templateKey)
}
