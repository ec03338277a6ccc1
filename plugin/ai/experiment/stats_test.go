package experiment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestConfidence(t *testing.T) {
	t.Run("symmetric", func(t *testing.T) {
		cases := [][4]int64{
			{100, 70, 100, 85},
			{250, 120, 90, 60},
			{40, 10, 1000, 400},
		}
		for _, c := range cases {
			assert.Equal(t, Confidence(c[0], c[1], c[2], c[3]), Confidence(c[2], c[3], c[0], c[1]))
		}
	})

	t.Run("insufficient sample is neutral", func(t *testing.T) {
		assert.Equal(t, 0.5, Confidence(29, 29, 100, 0))
		assert.Equal(t, 0.5, Confidence(100, 0, 29, 29))
		assert.Equal(t, 0.5, Confidence(0, 0, 0, 0))
	})

	t.Run("equal rates are neutral", func(t *testing.T) {
		assert.Equal(t, 0.5, Confidence(200, 150, 200, 150))
		assert.Equal(t, 0.5, Confidence(100, 50, 200, 100))
	})

	t.Run("zero standard error is neutral", func(t *testing.T) {
		assert.Equal(t, 0.5, Confidence(50, 50, 50, 50))
	})
}

func TestAnalyze(t *testing.T) {
	t.Run("clear variant win", func(t *testing.T) {
		s := Analyze(100, 70, 100, 85)
		assert.True(t, s.Sufficient)
		assert.InDelta(t, 0.70, s.ControlRate, 1e-12)
		assert.InDelta(t, 0.85, s.VariantRate, 1e-12)
		assert.InDelta(t, 2.540, s.ZScore, 0.001)
		assert.Greater(t, s.Confidence, 0.95)
		assert.InDelta(t, 0.989, s.Confidence, 0.001)
		assert.InDelta(t, 1-s.Confidence, s.PValue, 1e-12)
		assert.InDelta(t, 21.4286, s.ImprovementPct, 0.001)
		assert.InDelta(t, 0.364, s.EffectSize, 0.001)
		assert.InDelta(t, 0.0361, s.CILower, 0.0005)
		assert.InDelta(t, 0.2639, s.CIUpper, 0.0005)
	})

	t.Run("swapping arms flips only the direction", func(t *testing.T) {
		a := Analyze(100, 70, 100, 85)
		b := Analyze(100, 85, 100, 70)
		assert.Equal(t, a.Confidence, b.Confidence)
		assert.InDelta(t, a.EffectSize, b.EffectSize, 1e-12)
		assert.Less(t, b.ImprovementPct, 0.0)
		assert.InDelta(t, a.CILower, -b.CIUpper, 1e-12)
	})

	t.Run("identical arms", func(t *testing.T) {
		s := Analyze(200, 150, 200, 150)
		assert.Equal(t, 0.5, s.Confidence)
		assert.Equal(t, 0.0, s.ImprovementPct)
		assert.Equal(t, 0.0, s.EffectSize)
	})

	t.Run("degenerate inputs stay finite", func(t *testing.T) {
		for _, s := range []Statistics{
			Analyze(0, 0, 0, 0),
			Analyze(0, 0, 100, 50),
			Analyze(100, 0, 100, 0),
			Analyze(100, 100, 100, 100),
		} {
			for _, v := range []float64{s.Confidence, s.PValue, s.ZScore, s.EffectSize, s.CILower, s.CIUpper, s.ImprovementPct} {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			}
		}
	})

	t.Run("improvement needs a control rate", func(t *testing.T) {
		assert.Equal(t, 0.0, ImprovementPct(0, 0.4))
		assert.InDelta(t, 50.0, ImprovementPct(0.4, 0.6), 1e-9)
	})
}

func TestNormalCDF(t *testing.T) {
	ref := distuv.Normal{Mu: 0, Sigma: 1}
	for x := -4.0; x <= 4.0; x += 0.25 {
		assert.InDelta(t, ref.CDF(x), NormalCDF(x), 1e-6, "x=%v", x)
	}
	assert.InDelta(t, 0.5, NormalCDF(0), 1e-9)
	assert.InDelta(t, 0.975, NormalCDF(1.96), 1e-4)
}
