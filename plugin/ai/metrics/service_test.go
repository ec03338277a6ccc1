package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/querylab/internal/profile"
	"github.com/hrygo/querylab/store"
	"github.com/hrygo/querylab/store/db/memory"
)

func newTestService(t *testing.T, keys ...string) (*Service, *store.Store) {
	t.Helper()
	s := store.New(memory.NewDB(), &profile.Profile{Mode: "dev", Driver: "memory"})
	for _, key := range keys {
		_, err := s.CreateTemplate(context.Background(), &store.Template{Key: key, Content: "SELECT 1", IsActive: true})
		require.NoError(t, err)
	}
	return NewService(s), s
}

func TestService_RecordUsage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "select_basic")

	t.Run("SingleEvent", func(t *testing.T) {
		perf, err := svc.RecordUsage(ctx, UsageEvent{
			TemplateKey:    "select_basic",
			Success:        true,
			Confidence:     0.8,
			ProcessingTime: 120 * time.Millisecond,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), perf.TotalUsages)
		assert.Equal(t, 1.0, perf.SuccessRate)
		assert.InDelta(t, 120, perf.AvgProcessingTimeMs, 1e-9)
		assert.NotNil(t, perf.LastUsedTs)
	})

	t.Run("UnknownTemplate", func(t *testing.T) {
		_, err := svc.RecordUsage(ctx, UsageEvent{TemplateKey: "missing", Success: true})
		require.ErrorIs(t, err, ErrUnknownTemplate)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := svc.RecordUsage(ctx, UsageEvent{TemplateKey: "  "})
		require.Error(t, err)
	})
}

func TestService_IncrementalMatchesBatch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "agg")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var events []UsageEvent
	for i := 0; i < 97; i++ {
		events = append(events, UsageEvent{
			TemplateKey:    "agg",
			Success:        i%3 != 0,
			Confidence:     float64(i%10) / 10,
			ProcessingTime: time.Duration(50+i) * time.Millisecond,
			At:             base.Add(time.Duration(i) * time.Minute),
		})
	}

	for _, e := range events {
		_, err := svc.RecordUsage(ctx, e)
		require.NoError(t, err)
	}

	incremental, err := svc.Get(ctx, "agg")
	require.NoError(t, err)
	batch := Aggregate("agg", events)

	assert.Equal(t, batch.TotalUsages, incremental.TotalUsages)
	assert.Equal(t, batch.SuccessfulUsages, incremental.SuccessfulUsages)
	assert.Equal(t, float64(batch.SuccessfulUsages)/float64(batch.TotalUsages), incremental.SuccessRate)
	assert.InDelta(t, batch.AvgConfidence, incremental.AvgConfidence, 1e-9)
	assert.InDelta(t, batch.AvgProcessingTimeMs, incremental.AvgProcessingTimeMs, 1e-9)
	assert.Equal(t, batch.LastUsedTs.Unix(), incremental.LastUsedTs.Unix())
}

func TestService_ConcurrentUsage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "hot")

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := svc.RecordUsage(ctx, UsageEvent{TemplateKey: "hot", Success: i < 10})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	perf, err := svc.Get(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), perf.TotalUsages)
	assert.Equal(t, int64(workers*10), perf.SuccessfulUsages)
	assert.Equal(t, float64(workers*10)/float64(workers*perWorker), perf.SuccessRate)
}

func TestService_RecordRating(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "rated")

	for _, r := range []float64{5, 4, 3} {
		_, err := svc.RecordRating(ctx, "rated", r)
		require.NoError(t, err)
	}
	perf, err := svc.Get(ctx, "rated")
	require.NoError(t, err)
	assert.Equal(t, int64(3), perf.RatingCount)
	assert.InDelta(t, 4.0, perf.AvgUserRating, 1e-9)

	_, err = svc.RecordRating(ctx, "rated", 7)
	require.Error(t, err)

	_, err = svc.RecordRating(ctx, "missing", 4)
	require.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestAggregate_Empty(t *testing.T) {
	perf := Aggregate("none", nil)
	assert.Equal(t, int64(0), perf.TotalUsages)
	assert.Equal(t, 0.0, perf.SuccessRate)
	assert.Nil(t, perf.LastUsedTs)
}
