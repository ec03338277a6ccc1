package experiment

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e := f.experiment(t, "tr_control", "tr_variant", 50)
	f.usage(t, "tr_control", 100, 60)
	f.usage(t, "tr_variant", 100, 80)

	first, err := f.svc.Trend(ctx, e.ID, 14, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	second, err := f.svc.Trend(ctx, e.ID, 14, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first.Points, 14)
	assert.Equal(t, f.store.Now().Truncate(day), first.Points[13].Day)
	for i, p := range first.Points {
		assert.GreaterOrEqual(t, p.ControlRate, 0.0)
		assert.LessOrEqual(t, p.VariantRate, 1.0)
		if i > 0 {
			assert.Equal(t, day, p.Day.Sub(first.Points[i-1].Day))
		}
	}
	assert.InDelta(t, 0.6, first.Control.Mean, 0.05)
	assert.InDelta(t, 0.8, first.Variant.Mean, 0.05)
	assert.Greater(t, first.Control.StdDev, 0.0)

	other, err := f.svc.Trend(ctx, e.ID, 14, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	assert.NotEqual(t, first.Points, other.Points)

	_, err = f.svc.Trend(ctx, e.ID, 0, rand.New(rand.NewPCG(1, 2)))
	assert.True(t, IsCode(err, ErrCodeValidation))

	_, err = f.svc.Trend(ctx, e.ID, 7, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))

	missing, err := f.svc.Trend(ctx, 404, 7, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Nil(t, missing)
}
