package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/querylab/plugin/ai/metrics"
	"github.com/hrygo/querylab/store"
)

// SchedulerActor is recorded as the actor of scheduler-driven transitions.
const SchedulerActor = "scheduler"

// Action is the outcome of one scheduler evaluation.
type Action string

const (
	ActionNone               Action = "NO_ACTION"
	ActionImplementedVariant Action = "IMPLEMENTED_VARIANT"
	ActionKeptOriginal       Action = "KEPT_ORIGINAL"
	ActionExpiredTest        Action = "EXPIRED_TEST"
	ActionError              Action = "ERROR"
)

// Result is the scheduler outcome for one experiment.
type Result struct {
	ExperimentID int32     `json:"experiment_id"`
	Action       Action    `json:"action"`
	Reason       string    `json:"reason"`
	Analysis     *Analysis `json:"analysis,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Scheduler periodically applies the decision policy to every running experiment.
type Scheduler struct {
	service  *Service
	interval time.Duration
	minAge   time.Duration
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	logger   *slog.Logger
	passChan chan []Result // For testing: reports each pass
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Interval time.Duration // How often to evaluate running experiments
	// MinAnalysisAge skips experiments started less than this long ago.
	MinAnalysisAge time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval: time.Hour,
	}
}

// NewScheduler creates a new winner-selection scheduler.
func NewScheduler(service *Service, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}

	return &Scheduler{
		service:  service,
		interval: config.Interval,
		minAge:   config.MinAnalysisAge,
		stopCh:   make(chan struct{}),
		logger:   slog.Default(),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("winner-selection scheduler started", "interval", s.interval)
	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("winner-selection scheduler stopped")
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetLogger sets a custom logger.
func (s *Scheduler) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// EnableTestMode enables test mode with a channel receiving every pass.
func (s *Scheduler) EnableTestMode() <-chan []Result {
	s.passChan = make(chan []Result, 16)
	return s.passChan
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.processCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.processCycle(ctx)
		}
	}
}

func (s *Scheduler) processCycle(ctx context.Context) {
	results, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("winner-selection pass failed", "error", err)
	}

	completed, failed := 0, 0
	for _, r := range results {
		switch r.Action {
		case ActionImplementedVariant, ActionKeptOriginal, ActionExpiredTest:
			completed++
		case ActionError:
			failed++
		}
	}
	if len(results) > 0 {
		s.logger.Info("winner-selection pass finished",
			"evaluated", len(results),
			"completed", completed,
			"failed", failed,
		)
	}

	if s.passChan != nil {
		select {
		case s.passChan <- results:
		default:
		}
	}
}

// RunOnce evaluates every running experiment older than MinAnalysisAge once. Each experiment is
// handled in isolation: a failure becomes an ActionError result and the pass
// continues. The pass stops between experiments when ctx is cancelled,
// returning the results so far together with the context error.
func (s *Scheduler) RunOnce(ctx context.Context) ([]Result, error) {
	started := time.Now()
	defer func() { metrics.ObserveSchedulerPass(time.Since(started)) }()

	running, err := s.service.store.ListExperimentsRequiringAnalysis(ctx, s.minAge)
	if err != nil {
		return nil, operation("failed to list running experiments", err)
	}

	results := make([]Result, 0, len(running))
	for _, e := range running {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result := s.evaluate(ctx, e.ID)
		s.record(ctx, result)
		results = append(results, result)
	}
	return results, nil
}

// evaluate analyzes one experiment and applies its decision.
func (s *Scheduler) evaluate(ctx context.Context, id int32) (result Result) {
	result.ExperimentID = id
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while evaluating experiment", "experiment_id", id, "panic", r)
			result.Action = ActionError
			result.Error = fmt.Sprintf("panic: %v", r)
			result.Reason = "evaluation panicked"
		}
	}()

	analysis, err := s.service.AnalyzeResults(ctx, id)
	if err != nil {
		return errorResult(id, err)
	}
	if analysis == nil {
		return errorResult(id, notFound(id))
	}
	result.Analysis = analysis
	result.Reason = analysis.Decision.Reason

	decision := analysis.Decision
	if !decision.Final() {
		result.Action = ActionNone
		return result
	}

	implement := decision.Recommendation == ImplementVariant
	switch {
	case decision.Expired:
		result.Action = ActionExpiredTest
	case implement:
		result.Action = ActionImplementedVariant
	default:
		result.Action = ActionKeptOriginal
	}

	if _, err := s.service.complete(ctx, analysis, implement, decision.Reason, SchedulerActor); err != nil {
		failed := errorResult(id, err)
		failed.Analysis = analysis
		return failed
	}
	return result
}

func errorResult(id int32, err error) Result {
	return Result{
		ExperimentID: id,
		Action:       ActionError,
		Reason:       "analysis failed",
		Error:        err.Error(),
	}
}

// record writes the per-experiment audit entry and counts the action.
func (s *Scheduler) record(ctx context.Context, result Result) {
	metrics.RecordSchedulerAction(string(result.Action))

	if result.Action == ActionError {
		s.logger.Warn("experiment evaluation failed", "experiment_id", result.ExperimentID, "error", result.Error)
	}

	details, err := json.Marshal(result)
	if err != nil {
		details = []byte("{}")
	}
	reason := result.Reason
	if result.Error != "" {
		reason = fmt.Sprintf("%s: %s", result.Reason, result.Error)
	}
	if _, err := s.service.store.CreateExperimentAudit(ctx, &store.ExperimentAudit{
		ExperimentID: result.ExperimentID,
		Kind:         store.AuditKindAnalysis,
		Action:       string(result.Action),
		Actor:        SchedulerActor,
		Reason:       reason,
		Details:      string(details),
	}); err != nil {
		s.logger.Error("failed to write analysis audit", "experiment_id", result.ExperimentID, "error", err)
	}
}

// HealthCheck reports scheduler liveness.
type HealthCheck struct {
	scheduler  *Scheduler
	lastCheck  time.Time
	checkCount int64
	mu         sync.Mutex
}

// NewHealthCheck creates a new health check for the scheduler.
func NewHealthCheck(scheduler *Scheduler) *HealthCheck {
	return &HealthCheck{scheduler: scheduler}
}

// Check returns the health status.
func (h *HealthCheck) Check() HealthStatus {
	h.mu.Lock()
	h.lastCheck = time.Now()
	h.checkCount++
	status := HealthStatus{
		Healthy:    h.scheduler.IsRunning(),
		LastCheck:  h.lastCheck,
		CheckCount: h.checkCount,
	}
	h.mu.Unlock()
	return status
}

// HealthStatus represents the health of the scheduler.
type HealthStatus struct {
	Healthy    bool      `json:"healthy"`
	LastCheck  time.Time `json:"last_check"`
	CheckCount int64     `json:"check_count"`
}
