// Package stats provides the experiment dashboard summary: lifecycle counts,
// template leaders and laggards, and the review backlog.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/querylab/store"
)

// Config controls which templates the summary lists.
type Config struct {
	TopLimit int
	// MinUsages is the sample a template needs before it is ranked.
	MinUsages int64
	// UnderperformingThreshold is the success rate below which a ranked
	// template is listed as underperforming.
	UnderperformingThreshold float64
	Interval                 time.Duration
	// ExpiryDuration and ExpiryMinCombinedUsage select the running
	// experiments counted as expired.
	ExpiryDuration         time.Duration
	ExpiryMinCombinedUsage int64
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		TopLimit:                 5,
		MinUsages:                30,
		UnderperformingThreshold: 0.7,
		Interval:                 time.Hour,
		ExpiryDuration:           60 * 24 * time.Hour,
		ExpiryMinCombinedUsage:   1000,
	}
}

// Summary is one dashboard snapshot.
type Summary struct {
	ExperimentsByStatus  map[store.ExperimentStatus]int64 `json:"experiments_by_status"`
	ExpiredExperiments   int                              `json:"expired_experiments"`
	TopTemplates         []*store.TemplatePerformance     `json:"top_templates"`
	Underperforming      []*store.TemplatePerformance     `json:"underperforming"`
	PendingSuggestions   int                              `json:"pending_suggestions"`
	ScheduledSuggestions int                              `json:"scheduled_suggestions"`
	LastUpdated          time.Time                        `json:"last_updated"`
}

// ActiveExperiments returns the number of running and paused experiments.
func (s *Summary) ActiveExperiments() int64 {
	return s.ExperimentsByStatus[store.ExperimentRunning] + s.ExperimentsByStatus[store.ExperimentPaused]
}

// Collector builds summaries and optionally refreshes one periodically.
type Collector struct {
	store  *store.Store
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	latest   *Summary
	tickStop chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new statistics collector.
func NewCollector(st *store.Store, config Config) *Collector {
	if config.TopLimit <= 0 {
		config.TopLimit = DefaultConfig().TopLimit
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Collector{
		store:    st,
		config:   config,
		logger:   slog.Default(),
		tickStop: make(chan struct{}),
	}
}

// SetLogger sets a custom logger.
func (c *Collector) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// Start refreshes the cached summary now and then on every interval until
// ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.refresh(ctx)

	go func() {
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.refresh(ctx)
			case <-ctx.Done():
				return
			case <-c.tickStop:
				return
			}
		}
	}()
}

// Stop stops the periodic refresh.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.tickStop) })
}

// Latest returns the most recent cached summary, or nil before the first refresh.
func (c *Collector) Latest() *Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

func (c *Collector) refresh(ctx context.Context) {
	summary, err := c.Summary(ctx)
	if err != nil {
		c.logger.Warn("failed to refresh dashboard summary", "error", err)
		return
	}
	c.mu.Lock()
	c.latest = summary
	c.mu.Unlock()
}

// Summary queries the store concurrently and returns a fresh snapshot. The
// first failing query cancels the others.
func (c *Collector) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := c.store.CountExperimentsByStatus(gctx)
		if err != nil {
			return errors.Wrap(err, "failed to count experiments")
		}
		summary.ExperimentsByStatus = counts
		return nil
	})
	g.Go(func() error {
		expired, err := c.store.ListExpiredExperiments(gctx, c.config.ExpiryDuration, c.config.ExpiryMinCombinedUsage)
		if err != nil {
			return errors.Wrap(err, "failed to list expired experiments")
		}
		summary.ExpiredExperiments = len(expired)
		return nil
	})
	g.Go(func() error {
		top, err := c.store.ListTopTemplates(gctx, c.config.TopLimit, c.config.MinUsages)
		if err != nil {
			return errors.Wrap(err, "failed to list top templates")
		}
		summary.TopTemplates = top
		return nil
	})
	g.Go(func() error {
		under, err := c.store.ListUnderperformingTemplates(gctx, c.config.UnderperformingThreshold, c.config.MinUsages)
		if err != nil {
			return errors.Wrap(err, "failed to list underperforming templates")
		}
		summary.Underperforming = under
		return nil
	})
	g.Go(func() error {
		n, err := c.countSuggestions(gctx, store.SuggestionPending)
		summary.PendingSuggestions = n
		return err
	})
	g.Go(func() error {
		n, err := c.countSuggestions(gctx, store.SuggestionScheduled)
		summary.ScheduledSuggestions = n
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	summary.LastUpdated = c.store.Now()
	return summary, nil
}

func (c *Collector) countSuggestions(ctx context.Context, status store.SuggestionStatus) (int, error) {
	list, err := c.store.ListSuggestions(ctx, &store.FindSuggestion{Status: &status})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to list %s suggestions", status)
	}
	return len(list), nil
}

// String renders the summary as plain text.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Experiments (updated %s)\n", s.LastUpdated.Format("2006-01-02 15:04"))
	for _, status := range []store.ExperimentStatus{
		store.ExperimentCreated,
		store.ExperimentRunning,
		store.ExperimentPaused,
		store.ExperimentCompleted,
		store.ExperimentCancelled,
	} {
		fmt.Fprintf(&b, "  %-10s %d\n", status, s.ExperimentsByStatus[status])
	}
	fmt.Fprintf(&b, "  %-10s %d\n", "EXPIRED", s.ExpiredExperiments)

	b.WriteString("\nTop templates\n")
	writeTemplates(&b, s.TopTemplates)
	b.WriteString("\nUnderperforming templates\n")
	writeTemplates(&b, s.Underperforming)

	fmt.Fprintf(&b, "\nSuggestions\n  pending    %d\n  scheduled  %d\n", s.PendingSuggestions, s.ScheduledSuggestions)
	return b.String()
}

func writeTemplates(b *strings.Builder, list []*store.TemplatePerformance) {
	if len(list) == 0 {
		b.WriteString("  none\n")
		return
	}
	for _, p := range list {
		fmt.Fprintf(b, "  %-30s %6.2f%%  %d usages\n", p.TemplateKey, p.SuccessRate*100, p.TotalUsages)
	}
}
