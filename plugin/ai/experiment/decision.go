package experiment

import (
	"fmt"
	"math"
	"time"

	"github.com/hrygo/querylab/internal/profile"
)

// Recommendation is the outcome of the decision policy.
type Recommendation int

const (
	// ExtendTest keeps the experiment running.
	ExtendTest Recommendation = iota

	// ImplementVariant promotes the variant template.
	ImplementVariant

	// KeepOriginal keeps the control template.
	KeepOriginal
)

// String returns the string representation.
func (r Recommendation) String() string {
	switch r {
	case ExtendTest:
		return "extend_test"
	case ImplementVariant:
		return "implement_variant"
	case KeepOriginal:
		return "keep_original"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Recommendation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Recommendation) UnmarshalText(text []byte) error {
	for _, candidate := range []Recommendation{ExtendTest, ImplementVariant, KeepOriginal} {
		if candidate.String() == string(text) {
			*r = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown recommendation %q", text)
}

// Policy holds the thresholds the decision is made against.
type Policy struct {
	// SignificanceThreshold is the confidence above which a difference is real.
	SignificanceThreshold float64
	// PracticalThresholdPct is the |improvement %| above which a difference matters.
	PracticalThresholdPct float64
	// MinCombinedSample is the combined usage of both arms required to decide.
	MinCombinedSample int64
	// MinDuration is the elapsed time required to decide.
	MinDuration time.Duration
	// ExpiryDuration and ExpiryMinCombinedUsage force-complete stale experiments.
	ExpiryDuration         time.Duration
	ExpiryMinCombinedUsage int64
}

// DefaultPolicy returns the default decision thresholds.
func DefaultPolicy() Policy {
	return Policy{
		SignificanceThreshold:  0.95,
		PracticalThresholdPct:  5,
		MinCombinedSample:      200,
		MinDuration:            7 * 24 * time.Hour,
		ExpiryDuration:         60 * 24 * time.Hour,
		ExpiryMinCombinedUsage: 1000,
	}
}

// PolicyFromProfile returns the default policy with any non-zero profile overrides applied.
func PolicyFromProfile(p *profile.Profile) Policy {
	policy := DefaultPolicy()
	if p == nil {
		return policy
	}
	if p.SignificanceThreshold > 0 {
		policy.SignificanceThreshold = p.SignificanceThreshold
	}
	if p.PracticalThresholdPct > 0 {
		policy.PracticalThresholdPct = p.PracticalThresholdPct
	}
	if p.MinCombinedSample > 0 {
		policy.MinCombinedSample = p.MinCombinedSample
	}
	if p.MinDuration > 0 {
		policy.MinDuration = p.MinDuration
	}
	if p.ExpiryDuration > 0 {
		policy.ExpiryDuration = p.ExpiryDuration
	}
	if p.ExpiryMinCombinedUsage > 0 {
		policy.ExpiryMinCombinedUsage = p.ExpiryMinCombinedUsage
	}
	return policy
}

// DecisionInput is what the policy decides on.
type DecisionInput struct {
	Confidence     float64
	ImprovementPct float64
	CombinedSample int64
	Elapsed        time.Duration
}

// Decision is the policy outcome with the gates that produced it.
type Decision struct {
	Recommendation Recommendation `json:"recommendation"`
	// Expired is set when an ExtendTest outcome is overridden by the expiry
	// rule. The experiment is completed with the control kept.
	Expired bool `json:"expired"`

	StatisticallySignificant bool `json:"statistically_significant"`
	PracticallySignificant   bool `json:"practically_significant"`
	SampleMet                bool `json:"sample_met"`
	DurationMet              bool `json:"duration_met"`

	Reason string `json:"reason"`
}

// Final reports whether the decision completes the experiment.
func (d Decision) Final() bool {
	return d.Expired || d.Recommendation != ExtendTest
}

// Decide applies the policy.
func (p Policy) Decide(in DecisionInput) Decision {
	d := Decision{
		StatisticallySignificant: in.Confidence > p.SignificanceThreshold,
		PracticallySignificant:   math.Abs(in.ImprovementPct) > p.PracticalThresholdPct,
		SampleMet:                in.CombinedSample >= p.MinCombinedSample,
		DurationMet:              in.Elapsed >= p.MinDuration,
	}
	gates := d.SampleMet && d.DurationMet

	switch {
	case d.StatisticallySignificant && d.PracticallySignificant && gates:
		if in.ImprovementPct > 0 {
			d.Recommendation = ImplementVariant
			d.Reason = fmt.Sprintf("variant improves success rate by %.2f%% at %.1f%% confidence", in.ImprovementPct, in.Confidence*100)
		} else {
			d.Recommendation = KeepOriginal
			d.Reason = fmt.Sprintf("variant changes success rate by %.2f%% at %.1f%% confidence", in.ImprovementPct, in.Confidence*100)
		}
	case !d.StatisticallySignificant && gates:
		d.Recommendation = KeepOriginal
		d.Reason = fmt.Sprintf("no significant difference after %d usages over %s (confidence %.1f%%)",
			in.CombinedSample, formatDays(in.Elapsed), in.Confidence*100)
	case d.StatisticallySignificant && !d.PracticallySignificant:
		d.Recommendation = KeepOriginal
		d.Reason = fmt.Sprintf("difference is significant but %.2f%% is below the %.2f%% practical threshold",
			in.ImprovementPct, p.PracticalThresholdPct)
	default:
		d.Recommendation = ExtendTest
		if in.Elapsed > p.ExpiryDuration && in.CombinedSample >= p.ExpiryMinCombinedUsage {
			d.Expired = true
			d.Reason = fmt.Sprintf("inconclusive after %s and %d usages, keeping the original", formatDays(in.Elapsed), in.CombinedSample)
		} else {
			d.Reason = fmt.Sprintf("need more data: %d/%d usages over %s/%s",
				in.CombinedSample, p.MinCombinedSample, formatDays(in.Elapsed), formatDays(p.MinDuration))
		}
	}
	return d
}

func formatDays(d time.Duration) string {
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}
