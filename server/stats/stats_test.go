package stats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/querylab/internal/profile"
	"github.com/hrygo/querylab/store"
	"github.com/hrygo/querylab/store/db/memory"
)

func newStore(driver store.Driver) *store.Store {
	if driver == nil {
		driver = memory.NewDB()
	}
	s := store.New(driver, &profile.Profile{Mode: "dev", Driver: "memory"})
	s.SetClock(func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) })
	return s
}

func seedTemplate(t *testing.T, s *store.Store, key string, active bool, n, x int) *store.Template {
	t.Helper()
	ctx := context.Background()
	created, err := s.CreateTemplate(ctx, &store.Template{Key: key, Content: "SELECT 1", IntentType: "aggregate", IsActive: active})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := s.IncrementTemplateUsage(ctx, &store.IncrementTemplateUsage{
			TemplateKey:      key,
			Success:          i < x,
			Confidence:       0.8,
			ProcessingTimeMs: 120,
		})
		require.NoError(t, err)
	}
	return created
}

func TestCollectorSummary(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)

	best := seedTemplate(t, s, "best", true, 40, 38)
	seedTemplate(t, s, "good", true, 40, 32)
	seedTemplate(t, s, "poor", true, 40, 20)
	seedTemplate(t, s, "fresh", true, 10, 1)
	seedTemplate(t, s, "retired", false, 40, 5)
	variant := seedTemplate(t, s, "best_v2", false, 0, 0)

	running, err := s.CreateExperiment(ctx, &store.Experiment{
		Name:              "best vs best_v2",
		ControlTemplateID: best.ID,
		VariantTemplateID: variant.ID,
		TrafficSplit:      50,
		CreatedBy:         "test",
	})
	require.NoError(t, err)
	_, err = s.StartExperiment(ctx, running.ID, "test")
	require.NoError(t, err)
	_, err = s.CreateExperiment(ctx, &store.Experiment{
		Name:              "draft",
		ControlTemplateID: best.ID,
		VariantTemplateID: variant.ID,
		TrafficSplit:      20,
		CreatedBy:         "test",
	})
	require.NoError(t, err)

	for i, status := range []store.SuggestionStatus{store.SuggestionPending, store.SuggestionPending, store.SuggestionScheduled, store.SuggestionRejected} {
		_, err := s.CreateSuggestion(ctx, &store.Suggestion{
			UID:         fmt.Sprintf("uid-%d", i),
			TemplateID:  best.ID,
			TemplateKey: best.Key,
			Category:    "low_success_rate",
			Status:      status,
		})
		require.NoError(t, err)
	}

	collector := NewCollector(s, Config{TopLimit: 2, MinUsages: 30, UnderperformingThreshold: 0.7})
	summary, err := collector.Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.ExperimentsByStatus[store.ExperimentRunning])
	assert.Equal(t, int64(1), summary.ExperimentsByStatus[store.ExperimentCreated])
	assert.Equal(t, int64(1), summary.ActiveExperiments())
	assert.Zero(t, summary.ExpiredExperiments)

	require.Len(t, summary.TopTemplates, 2)
	assert.Equal(t, "best", summary.TopTemplates[0].TemplateKey)
	assert.Equal(t, "good", summary.TopTemplates[1].TemplateKey)

	require.Len(t, summary.Underperforming, 1)
	assert.Equal(t, "poor", summary.Underperforming[0].TemplateKey)

	assert.Equal(t, 2, summary.PendingSuggestions)
	assert.Equal(t, 1, summary.ScheduledSuggestions)
	assert.Equal(t, s.Now(), summary.LastUpdated)

	text := summary.String()
	assert.Contains(t, text, "RUNNING    1")
	assert.Contains(t, text, "best")
	assert.Contains(t, text, "pending    2")
}

func TestCollectorExpiredExperiments(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	start := s.Now()

	busy := seedTemplate(t, s, "busy", true, 40, 30)
	busyVariant := seedTemplate(t, s, "busy_v2", false, 20, 15)
	quiet := seedTemplate(t, s, "quiet", true, 5, 3)
	quietVariant := seedTemplate(t, s, "quiet_v2", false, 0, 0)
	for _, pair := range [][2]*store.Template{{busy, busyVariant}, {quiet, quietVariant}} {
		e, err := s.CreateExperiment(ctx, &store.Experiment{
			Name:              pair[0].Key + " vs " + pair[1].Key,
			ControlTemplateID: pair[0].ID,
			VariantTemplateID: pair[1].ID,
			TrafficSplit:      50,
		})
		require.NoError(t, err)
		_, err = s.StartExperiment(ctx, e.ID, "test")
		require.NoError(t, err)
	}

	collector := NewCollector(s, Config{ExpiryDuration: 30 * 24 * time.Hour, ExpiryMinCombinedUsage: 50})
	summary, err := collector.Summary(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.ExpiredExperiments)

	s.SetClock(func() time.Time { return start.Add(31 * 24 * time.Hour) })
	summary, err = collector.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExpiredExperiments)
	assert.Contains(t, summary.String(), "EXPIRED    1")
}

func TestCollectorEmptyStore(t *testing.T) {
	summary, err := NewCollector(newStore(nil), DefaultConfig()).Summary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.TopTemplates)
	assert.Zero(t, summary.ActiveExperiments())
	assert.Contains(t, summary.String(), "none")
}

type brokenCountDriver struct {
	store.Driver
}

func (brokenCountDriver) CountExperimentsByStatus(context.Context) ([]*store.ExperimentStatusCount, error) {
	return nil, errors.New("database is locked")
}

func TestCollectorSummaryError(t *testing.T) {
	collector := NewCollector(newStore(brokenCountDriver{memory.NewDB()}), DefaultConfig())

	_, err := collector.Summary(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	collector.Start(context.Background())
	defer collector.Stop()
	assert.Nil(t, collector.Latest())
}

func TestCollectorStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := NewCollector(newStore(nil), Config{Interval: 10 * time.Millisecond})
	collector.Start(ctx)
	require.NotNil(t, collector.Latest())

	collector.Stop()
	collector.Stop()
}
