package experiment

import "math"

const (
	// MinSamplePerArm is the smallest per-arm sample the z-test is run on.
	MinSamplePerArm = 30

	// NeutralConfidence is reported whenever the test cannot say anything.
	NeutralConfidence = 0.5

	// z value of a two-sided 95% interval.
	z95 = 1.96
)

// Statistics is the two-proportion comparison of control and variant.
type Statistics struct {
	ControlUsages    int64   `json:"control_usages"`
	ControlSuccesses int64   `json:"control_successes"`
	VariantUsages    int64   `json:"variant_usages"`
	VariantSuccesses int64   `json:"variant_successes"`
	ControlRate      float64 `json:"control_rate"`
	VariantRate      float64 `json:"variant_rate"`

	// Confidence is 1 minus the two-tailed p-value, in [0, 1].
	Confidence float64 `json:"confidence"`
	PValue     float64 `json:"p_value"`
	ZScore     float64 `json:"z_score"`

	// EffectSize is the magnitude of Cohen's h.
	EffectSize float64 `json:"effect_size"`

	// CILower and CIUpper bound the 95% interval on variant minus control.
	CILower float64 `json:"ci_lower"`
	CIUpper float64 `json:"ci_upper"`

	ImprovementPct float64 `json:"improvement_pct"`

	// Sufficient is false when either arm is below MinSamplePerArm.
	Sufficient bool `json:"sufficient"`
}

// CombinedSample returns the usages of both arms.
func (s Statistics) CombinedSample() int64 {
	return s.ControlUsages + s.VariantUsages
}

// Analyze compares control (n1 usages, x1 successes) with variant (n2, x2).
// Degenerate inputs produce neutral values, never NaN or Inf.
func Analyze(n1, x1, n2, x2 int64) Statistics {
	s := Statistics{
		ControlUsages:    n1,
		ControlSuccesses: x1,
		VariantUsages:    n2,
		VariantSuccesses: x2,
		ControlRate:      rate(x1, n1),
		VariantRate:      rate(x2, n2),
		Sufficient:       n1 >= MinSamplePerArm && n2 >= MinSamplePerArm,
	}

	s.ZScore, s.PValue, s.Confidence = zTest(n1, x1, n2, x2)
	s.EffectSize = EffectSize(s.ControlRate, s.VariantRate)
	s.CILower, s.CIUpper = ConfidenceInterval(n1, x1, n2, x2)
	s.ImprovementPct = ImprovementPct(s.ControlRate, s.VariantRate)
	return s
}

// Confidence returns 1 minus the two-tailed p-value of the two-proportion
// z-test. It is symmetric in the two samples.
func Confidence(n1, x1, n2, x2 int64) float64 {
	_, _, confidence := zTest(n1, x1, n2, x2)
	return confidence
}

func zTest(n1, x1, n2, x2 int64) (z, pValue, confidence float64) {
	if n1 < MinSamplePerArm || n2 < MinSamplePerArm {
		return 0, 1 - NeutralConfidence, NeutralConfidence
	}

	p1 := rate(x1, n1)
	p2 := rate(x2, n2)
	if p1 == p2 || n1 == 0 || n2 == 0 {
		return 0, 1 - NeutralConfidence, NeutralConfidence
	}

	pooled := float64(x1+x2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 || math.IsNaN(se) {
		return 0, 1 - NeutralConfidence, NeutralConfidence
	}

	z = math.Abs(p2-p1) / se
	pValue = 2 * (1 - NormalCDF(z))
	confidence = clamp(1-pValue, 0, 1)
	return z, pValue, confidence
}

// NormalCDF is the standard normal CDF via the Abramowitz-Stegun 7.1.26
// approximation of erf (five coefficients, absolute error below 1.5e-7).
func NormalCDF(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

// EffectSize returns |Cohen's h| for two proportions.
func EffectSize(p1, p2 float64) float64 {
	return math.Abs(2 * (math.Asin(math.Sqrt(clamp(p2, 0, 1))) - math.Asin(math.Sqrt(clamp(p1, 0, 1)))))
}

// ConfidenceInterval returns the unpooled 95% interval on p2 minus p1.
func ConfidenceInterval(n1, x1, n2, x2 int64) (lower, upper float64) {
	if n1 <= 0 || n2 <= 0 {
		return 0, 0
	}
	p1 := rate(x1, n1)
	p2 := rate(x2, n2)
	diff := p2 - p1
	margin := z95 * math.Sqrt(p1*(1-p1)/float64(n1)+p2*(1-p2)/float64(n2))
	return diff - margin, diff + margin
}

// ImprovementPct is the relative change of p2 over p1 in percent, or 0 when p1 is 0.
func ImprovementPct(p1, p2 float64) float64 {
	if p1 <= 0 {
		return 0
	}
	return (p2 - p1) / p1 * 100
}

func rate(successes, usages int64) float64 {
	if usages <= 0 {
		return 0
	}
	return float64(successes) / float64(usages)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
