package metrics

import (
	"github.com/hrygo/querylab/store"
)

// Aggregate recomputes template metrics from a full list of usage events in
// one batch. Incremental folding through RecordUsage converges on the same
// counters and means.
func Aggregate(templateKey string, events []UsageEvent) *store.TemplatePerformance {
	perf := &store.TemplatePerformance{TemplateKey: templateKey}

	var confidenceSum, latencySum float64
	for _, e := range events {
		if e.TemplateKey != templateKey {
			continue
		}
		perf.TotalUsages++
		if e.Success {
			perf.SuccessfulUsages++
		}
		confidenceSum += e.Confidence
		latencySum += float64(e.ProcessingTime.Milliseconds())
		if perf.LastUsedTs == nil || e.At.After(*perf.LastUsedTs) {
			at := e.At
			perf.LastUsedTs = &at
		}
	}

	if perf.TotalUsages > 0 {
		n := float64(perf.TotalUsages)
		perf.SuccessRate = float64(perf.SuccessfulUsages) / n
		perf.AvgConfidence = confidenceSum / n
		perf.AvgProcessingTimeMs = latencySum / n
	}
	return perf
}
