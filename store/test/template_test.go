package test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/querylab/store"
)

func createTestingTemplate(ctx context.Context, t *testing.T, ts *store.Store, key string) *store.Template {
	t.Helper()
	template, err := ts.CreateTemplate(ctx, &store.Template{
		Key:        key,
		Content:    "Translate the question into SQL.\n\n```sql\nSELECT 1;\n```",
		IntentType: "select",
		IsActive:   true,
		CreatedBy:  "test",
	})
	require.NoError(t, err)
	return template
}

func TestTemplateStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	template := createTestingTemplate(ctx, t, ts, "select_basic")
	require.Greater(t, template.ID, int32(0))
	assert.Equal(t, int32(1), template.Version)

	found, err := ts.GetTemplateByKey(ctx, "select_basic")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, template.ID, found.ID)
	assert.Equal(t, int64(0), found.UsageCount)

	missing, err := ts.GetTemplateByKey(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	inactive := false
	updated, err := ts.UpdateTemplate(ctx, &store.UpdateTemplate{ID: template.ID, IsActive: &inactive})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.False(t, updated.IsActive)

	active, err := ts.ListActiveTemplates(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Unknown ids update nothing.
	none, err := ts.UpdateTemplate(ctx, &store.UpdateTemplate{ID: 9999, IsActive: &inactive})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTemplatePerformanceStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	template := createTestingTemplate(ctx, t, ts, "agg_count")

	t.Run("fresh template has zero counters", func(t *testing.T) {
		perf, err := ts.GetTemplatePerformance(ctx, template.Key)
		require.NoError(t, err)
		require.NotNil(t, perf)
		assert.Equal(t, int64(0), perf.TotalUsages)
		assert.Nil(t, perf.LastUsedTs)
	})

	t.Run("increments recompute rates and means", func(t *testing.T) {
		events := []struct {
			success    bool
			confidence float64
			latency    float64
		}{
			{true, 0.9, 100},
			{false, 0.5, 300},
			{true, 0.7, 200},
		}
		for _, e := range events {
			_, err := ts.IncrementTemplateUsage(ctx, &store.IncrementTemplateUsage{
				TemplateKey:      template.Key,
				Success:          e.success,
				Confidence:       e.confidence,
				ProcessingTimeMs: e.latency,
			})
			require.NoError(t, err)
		}

		perf, err := ts.GetTemplatePerformance(ctx, template.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), perf.TotalUsages)
		assert.Equal(t, int64(2), perf.SuccessfulUsages)
		assert.Equal(t, int64(1), perf.FailedUsages())
		assert.InDelta(t, 2.0/3.0, perf.SuccessRate, 1e-9)
		assert.InDelta(t, 0.7, perf.AvgConfidence, 1e-9)
		assert.InDelta(t, 200.0, perf.AvgProcessingTimeMs, 1e-9)
		assert.NotNil(t, perf.LastUsedTs)
	})

	t.Run("ratings keep a running mean", func(t *testing.T) {
		for _, rating := range []float64{4, 5, 3} {
			_, err := ts.UpdateTemplateRating(ctx, &store.UpdateTemplateRating{TemplateKey: template.Key, Rating: rating})
			require.NoError(t, err)
		}
		perf, err := ts.GetTemplatePerformance(ctx, template.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), perf.RatingCount)
		assert.InDelta(t, 4.0, perf.AvgUserRating, 1e-9)
	})

	t.Run("unknown template is a no-op", func(t *testing.T) {
		perf, err := ts.IncrementTemplateUsage(ctx, &store.IncrementTemplateUsage{TemplateKey: "nope", Success: true})
		require.NoError(t, err)
		assert.Nil(t, perf)
	})
}

func TestTemplatePerformanceConcurrentIncrements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	template := createTestingTemplate(ctx, t, ts, "concurrent")

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := ts.IncrementTemplateUsage(ctx, &store.IncrementTemplateUsage{
					TemplateKey: template.Key,
					Success:     (w+i)%2 == 0,
					Confidence:  0.5,
				})
				if err != nil {
					errs <- fmt.Errorf("worker %d: %w", w, err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	perf, err := ts.GetTemplatePerformance(ctx, template.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), perf.TotalUsages)
	assert.Equal(t, int64(workers*perWorker/2), perf.SuccessfulUsages)
	assert.InDelta(t, 0.5, perf.AvgConfidence, 1e-9)
}

func TestUnderperformingAndTopTemplates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	good := createTestingTemplate(ctx, t, ts, "good")
	bad := createTestingTemplate(ctx, t, ts, "bad")
	sparse := createTestingTemplate(ctx, t, ts, "sparse")

	record := func(key string, n, successes int) {
		for i := 0; i < n; i++ {
			_, err := ts.IncrementTemplateUsage(ctx, &store.IncrementTemplateUsage{TemplateKey: key, Success: i < successes})
			require.NoError(t, err)
		}
	}
	record(good.Key, 20, 18)
	record(bad.Key, 20, 8)
	record(sparse.Key, 2, 0)

	under, err := ts.ListUnderperformingTemplates(ctx, 0.7, 10)
	require.NoError(t, err)
	require.Len(t, under, 1)
	assert.Equal(t, bad.Key, under[0].TemplateKey)

	top, err := ts.ListTopTemplates(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, good.Key, top[0].TemplateKey)
	assert.Equal(t, bad.Key, top[1].TemplateKey)
}
