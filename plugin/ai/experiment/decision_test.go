package experiment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/querylab/internal/profile"
)

const day = 24 * time.Hour

func TestPolicyDecide(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name    string
		in      DecisionInput
		want    Recommendation
		expired bool
	}{
		{
			name: "significant practical improvement",
			in:   DecisionInput{Confidence: 0.97, ImprovementPct: 10, CombinedSample: 500, Elapsed: 10 * day},
			want: ImplementVariant,
		},
		{
			name: "significant practical regression",
			in:   DecisionInput{Confidence: 0.97, ImprovementPct: -10, CombinedSample: 500, Elapsed: 10 * day},
			want: KeepOriginal,
		},
		{
			name: "significant but too small",
			in:   DecisionInput{Confidence: 0.99, ImprovementPct: 2, CombinedSample: 500, Elapsed: 10 * day},
			want: KeepOriginal,
		},
		{
			name: "significant but too small before the gates",
			in:   DecisionInput{Confidence: 0.99, ImprovementPct: 2, CombinedSample: 50, Elapsed: day},
			want: KeepOriginal,
		},
		{
			name: "not significant with gates met",
			in:   DecisionInput{Confidence: 0.80, ImprovementPct: 3, CombinedSample: 400, Elapsed: 8 * day},
			want: KeepOriginal,
		},
		{
			name: "not significant with gates unmet",
			in:   DecisionInput{Confidence: 0.80, ImprovementPct: 3, CombinedSample: 100, Elapsed: 2 * day},
			want: ExtendTest,
		},
		{
			name: "significant and practical but too early",
			in:   DecisionInput{Confidence: 0.99, ImprovementPct: 20, CombinedSample: 500, Elapsed: 3 * day},
			want: ExtendTest,
		},
		{
			name: "significant and practical but too few usages",
			in:   DecisionInput{Confidence: 0.99, ImprovementPct: 20, CombinedSample: 150, Elapsed: 30 * day},
			want: ExtendTest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Decide(tt.in)
			assert.Equal(t, tt.want, d.Recommendation, d.Reason)
			assert.Equal(t, tt.expired, d.Expired)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestPolicyExpiry(t *testing.T) {
	// Expiry can only override ExtendTest when the sample gate is stricter
	// than the expiry usage.
	policy := DefaultPolicy()
	policy.MinCombinedSample = 5000

	d := policy.Decide(DecisionInput{Confidence: 0.7, ImprovementPct: 1, CombinedSample: 1200, Elapsed: 61 * day})
	assert.Equal(t, ExtendTest, d.Recommendation)
	assert.True(t, d.Expired)
	assert.True(t, d.Final())

	d = policy.Decide(DecisionInput{Confidence: 0.7, ImprovementPct: 1, CombinedSample: 999, Elapsed: 90 * day})
	assert.False(t, d.Expired)
	assert.False(t, d.Final())

	d = policy.Decide(DecisionInput{Confidence: 0.7, ImprovementPct: 1, CombinedSample: 4000, Elapsed: 60 * day})
	assert.False(t, d.Expired)
}

func TestEqualRatesScenario(t *testing.T) {
	s := Analyze(200, 150, 200, 150)
	policy := DefaultPolicy()

	met := policy.Decide(DecisionInput{Confidence: s.Confidence, ImprovementPct: s.ImprovementPct, CombinedSample: s.CombinedSample(), Elapsed: 10 * day})
	assert.Equal(t, KeepOriginal, met.Recommendation)

	early := policy.Decide(DecisionInput{Confidence: s.Confidence, ImprovementPct: s.ImprovementPct, CombinedSample: s.CombinedSample(), Elapsed: 3 * day})
	assert.Equal(t, ExtendTest, early.Recommendation)
}

func TestRecommendationString(t *testing.T) {
	assert.Equal(t, "extend_test", ExtendTest.String())
	assert.Equal(t, "implement_variant", ImplementVariant.String())
	assert.Equal(t, "keep_original", KeepOriginal.String())
	assert.Equal(t, "unknown", Recommendation(9).String())
}

func TestPolicyFromProfile(t *testing.T) {
	assert.Equal(t, DefaultPolicy(), PolicyFromProfile(nil))

	p := PolicyFromProfile(&profile.Profile{SignificanceThreshold: 0.99, MinDuration: 3 * day})
	assert.Equal(t, 0.99, p.SignificanceThreshold)
	assert.Equal(t, 3*day, p.MinDuration)
	assert.Equal(t, DefaultPolicy().PracticalThresholdPct, p.PracticalThresholdPct)
	assert.Equal(t, DefaultPolicy().MinCombinedSample, p.MinCombinedSample)
}
