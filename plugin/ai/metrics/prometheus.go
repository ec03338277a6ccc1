package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// usageTotal counts template usage events by outcome.
	usageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querylab_template_usage_total",
		Help: "Template usage events by outcome",
	}, []string{"outcome"})

	// ratingTotal counts user ratings folded into template metrics.
	ratingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querylab_template_rating_total",
		Help: "User ratings recorded against templates",
	})

	// schedulerActions counts winner-selection outcomes by action.
	schedulerActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querylab_scheduler_actions_total",
		Help: "Winner-selection scheduler outcomes by action",
	}, []string{"action"})

	// schedulerPassDuration tracks one scheduler pass over all running experiments.
	schedulerPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "querylab_scheduler_pass_duration_seconds",
		Help:    "Duration of one winner-selection pass",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	// suggestionsTotal counts generated improvement suggestions by category.
	suggestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querylab_suggestions_total",
		Help: "Improvement suggestions generated by category",
	}, []string{"category"})

	// notificationsTotal counts notification deliveries by sender and result.
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querylab_notifications_total",
		Help: "Notification deliveries by sender and result",
	}, []string{"sender", "result"})
)

// RecordSchedulerAction counts one scheduler outcome.
func RecordSchedulerAction(action string) {
	schedulerActions.WithLabelValues(action).Inc()
}

// ObserveSchedulerPass records the duration of a scheduler pass.
func ObserveSchedulerPass(d time.Duration) {
	schedulerPassDuration.Observe(d.Seconds())
}

// RecordSuggestion counts one generated suggestion.
func RecordSuggestion(category string) {
	suggestionsTotal.WithLabelValues(category).Inc()
}

// RecordNotification counts one notification delivery attempt.
func RecordNotification(sender, result string) {
	notificationsTotal.WithLabelValues(sender, result).Inc()
}

func recordUsage(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	usageTotal.WithLabelValues(outcome).Inc()
}
