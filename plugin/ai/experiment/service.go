// Package experiment runs A/B experiments between prompt templates: variant
// assignment, statistical analysis, the decision policy, the lifecycle state
// machine and the winner-selection scheduler.
package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/querylab/plugin/ai/events"
	"github.com/hrygo/querylab/plugin/ai/metrics"
	"github.com/hrygo/querylab/plugin/ai/notify"
	"github.com/hrygo/querylab/store"
)

// SpawnTrafficSplit is the split used for experiments spawned from suggestions.
const SpawnTrafficSplit = 50

// Service owns experiment state transitions and their audit trail.
type Service struct {
	store     *store.Store
	perf      metrics.PerformanceService
	policy    Policy
	bus       *events.Bus
	notifier  *notify.Dispatcher
	exporters map[string]Exporter
	logger    *slog.Logger

	// startMu orders validation and start within this process. The store's
	// guarded start rejects conflicting starts from other processes.
	startMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the decision policy.
func WithPolicy(policy Policy) Option {
	return func(s *Service) { s.policy = policy }
}

// WithBus connects the service to the event bus. The service consumes
// SpawnRequested and publishes ExperimentStarted and ExperimentCompleted.
func WithBus(bus *events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithNotifier sets the dispatcher used to announce completions and cancellations.
func WithNotifier(notifier *notify.Dispatcher) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithPerformance overrides the performance service.
func WithPerformance(perf metrics.PerformanceService) Option {
	return func(s *Service) { s.perf = perf }
}

// NewService creates a new experiment service.
func NewService(s *store.Store, opts ...Option) *Service {
	svc := &Service{
		store:     s,
		perf:      metrics.NewService(s),
		policy:    DefaultPolicy(),
		exporters: defaultExporters(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.bus != nil {
		svc.bus.Subscribe(events.KindSpawnRequested, svc.handleSpawnRequested)
	}
	return svc
}

// SetLogger sets a custom logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Policy returns the decision policy in use.
func (s *Service) Policy() Policy {
	return s.policy
}

// ============================================================================
// Creation and start
// ============================================================================

// CreateExperiment validates the request and creates the experiment. Unless
// the request is a draft the experiment is started right away. Every violated
// rule is reported in the result; the error is reserved for storage failures.
func (s *Service) CreateExperiment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	validation, resolved, err := s.validateCreate(ctx, req)
	if err != nil {
		return nil, operation("failed to validate experiment", err)
	}
	if !validation.Valid {
		s.logger.Info("experiment rejected", "name", req.Name, "violations", validation.Error())
		return &CreateResult{Validation: validation}, nil
	}

	created, err := s.store.CreateExperiment(ctx, &store.Experiment{
		Name:              strings.TrimSpace(req.Name),
		Description:       req.Description,
		ControlTemplateID: resolved.control.ID,
		VariantTemplateID: resolved.variant.ID,
		TrafficSplit:      req.TrafficSplit,
		Status:            store.ExperimentCreated,
		SuggestionID:      req.SuggestionID,
		CreatedBy:         req.CreatedBy,
		UpdatedBy:         req.CreatedBy,
	})
	if err != nil {
		return nil, operation("failed to create experiment", err)
	}
	s.audit(ctx, created.ID, store.AuditKindTransition, ActionCreate, req.CreatedBy, "", nil)

	if !req.Draft {
		if _, err := s.start(ctx, created.ID, req.CreatedBy); err != nil {
			return nil, err
		}
	}

	experiment, err := s.store.GetExperiment(ctx, created.ID)
	if err != nil {
		return nil, operation("failed to load experiment", err)
	}
	return &CreateResult{Success: true, Experiment: experiment, Validation: validation}, nil
}

// StartExperiment moves a Created experiment to Running after re-validating it.
func (s *Service) StartExperiment(ctx context.Context, id int32, actor string) (*CreateResult, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	experiment, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, operation("failed to load experiment", err)
	}
	if experiment == nil {
		return nil, notFound(id)
	}
	if experiment.Status != store.ExperimentCreated {
		return nil, invalidTransition(id, fmt.Errorf("cannot start from %s", experiment.Status))
	}

	validation, err := s.validateStart(ctx, experiment)
	if err != nil {
		return nil, operation("failed to validate experiment", err)
	}
	if !validation.Valid {
		return &CreateResult{Experiment: experiment, Validation: validation}, nil
	}

	started, err := s.start(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Success: true, Experiment: started, Validation: validation}, nil
}

// start performs Created -> Running. The caller holds startMu.
func (s *Service) start(ctx context.Context, id int32, actor string) (*store.Experiment, error) {
	started, err := s.transition(ctx, id, ActionStart, "", actor, func() (*store.Experiment, error) {
		started, err := s.store.StartExperiment(ctx, id, actor)
		if !errors.Is(err, store.ErrStatusConflict) {
			return started, err
		}
		current, getErr := s.store.GetExperiment(ctx, id)
		if getErr != nil || current == nil || current.Status != store.ExperimentCreated {
			return nil, err
		}
		return nil, (&Error{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("experiment %d", id),
			Cause:   ErrTemplateBusy,
		}).WithContext("experiment_id", id)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("experiment started", "experiment_id", id, "traffic_split", started.TrafficSplit)
	s.publish(ctx, events.ExperimentStarted{
		ExperimentID: started.ID,
		SuggestionID: started.SuggestionID,
		StartedAt:    *started.StartTs,
	})
	return started, nil
}

// ============================================================================
// Reads
// ============================================================================

// GetExperiment returns the experiment with its templates, or nil when it does not exist.
func (s *Service) GetExperiment(ctx context.Context, id int32) (*store.Experiment, error) {
	return s.store.GetExperiment(ctx, id)
}

// ListActive returns running and paused experiments.
func (s *Service) ListActive(ctx context.Context) ([]*store.Experiment, error) {
	return s.store.ListActiveExperiments(ctx)
}

// ListByStatus returns experiments in one status.
func (s *Service) ListByStatus(ctx context.Context, status store.ExperimentStatus) ([]*store.Experiment, error) {
	return s.store.ListExperimentsByStatus(ctx, status)
}

// ListAudits returns the audit trail of one experiment, oldest first.
func (s *Service) ListAudits(ctx context.Context, id int32) ([]*store.ExperimentAudit, error) {
	return s.store.ListExperimentAudits(ctx, &store.FindExperimentAudit{ExperimentID: &id})
}

// ============================================================================
// Traffic
// ============================================================================

// SelectTemplateForUser picks the template answering an intent for a user.
// A running experiment on an active template routes the user by hash bucket
// and a paused one serves its control. Otherwise the active template with the
// best success rate is used; variants under test are never served outside
// their experiment. It returns nil when no active template serves the intent.
func (s *Service) SelectTemplateForUser(ctx context.Context, userID, intentType string) (*Selection, error) {
	active := true
	templates, err := s.store.ListTemplates(ctx, &store.FindTemplate{IntentType: &intentType, IsActive: &active})
	if err != nil {
		return nil, operation("failed to list templates", err)
	}
	if len(templates) == 0 {
		return nil, nil
	}

	experiments, err := s.store.ListActiveExperiments(ctx)
	if err != nil {
		return nil, operation("failed to list active experiments", err)
	}
	byControl := make(map[int32]*store.Experiment, len(experiments))
	underTest := make(map[int32]bool, len(experiments))
	for _, e := range experiments {
		byControl[e.ControlTemplateID] = e
		underTest[e.VariantTemplateID] = true
	}

	for _, t := range templates {
		e, ok := byControl[t.ID]
		if !ok {
			continue
		}
		id := e.ID
		if e.Status == store.ExperimentPaused {
			return &Selection{
				TemplateKey:  t.Key,
				ExperimentID: &id,
				Reason:       fmt.Sprintf("experiment %d is paused, serving the control", e.ID),
			}, nil
		}

		variant, err := s.store.GetTemplateByID(ctx, e.VariantTemplateID)
		if err != nil {
			return nil, operation("failed to load variant template", err)
		}
		if variant == nil {
			continue
		}

		bucket := Bucket(userID, e.ID)
		if ShouldUseVariant(userID, e.ID, e.TrafficSplit) {
			return &Selection{
				TemplateKey:  variant.Key,
				IsVariant:    true,
				ExperimentID: &id,
				Reason:       fmt.Sprintf("experiment %d: bucket %d is below split %d", e.ID, bucket, e.TrafficSplit),
			}, nil
		}
		return &Selection{
			TemplateKey:  t.Key,
			ExperimentID: &id,
			Reason:       fmt.Sprintf("experiment %d: bucket %d is not below split %d", e.ID, bucket, e.TrafficSplit),
		}, nil
	}

	var best *store.Template
	for _, t := range templates {
		if underTest[t.ID] {
			continue
		}
		if best == nil || t.SuccessRate > best.SuccessRate {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Selection{
		TemplateKey: best.Key,
		Reason:      "no running experiment, using the active template with the best success rate",
	}, nil
}

// RecordInteraction records one usage of a template. Counting is keyed by the
// template alone; the experiment only validates that the template belongs to it.
func (s *Service) RecordInteraction(ctx context.Context, in Interaction) error {
	if in.ExperimentID != 0 {
		experiment, err := s.store.GetExperiment(ctx, in.ExperimentID)
		if err != nil {
			return operation("failed to load experiment", err)
		}
		if experiment == nil {
			return notFound(in.ExperimentID)
		}
		if !belongsTo(experiment, in.TemplateKey) {
			return (&Error{
				Code:    ErrCodeValidation,
				Message: fmt.Sprintf("template %q is not part of experiment %d", in.TemplateKey, in.ExperimentID),
			}).WithContext("experiment_id", in.ExperimentID)
		}
	}

	_, err := s.perf.RecordUsage(ctx, metrics.UsageEvent{
		TemplateKey:    in.TemplateKey,
		Success:        in.Success,
		Confidence:     in.Confidence,
		ProcessingTime: in.ProcessingTime,
	})
	if err != nil {
		if errors.Is(err, metrics.ErrUnknownTemplate) {
			return &Error{Code: ErrCodeNotFound, Message: in.TemplateKey, Cause: ErrTemplateNotFound}
		}
		return operation("failed to record interaction", err)
	}

	s.logger.Debug("interaction recorded",
		"experiment_id", in.ExperimentID,
		"template_key", in.TemplateKey,
		"user_id", in.UserID,
		"success", in.Success,
	)
	return nil
}

// RecordRating records one user rating of a template, in [1, 5].
func (s *Service) RecordRating(ctx context.Context, templateKey string, rating float64) (*store.TemplatePerformance, error) {
	if rating < 1 || rating > 5 {
		return nil, (&Error{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("rating %.2f is outside [1, 5]", rating),
		}).WithContext("template_key", templateKey)
	}
	perf, err := s.perf.RecordRating(ctx, templateKey, rating)
	if err != nil {
		if errors.Is(err, metrics.ErrUnknownTemplate) {
			return nil, &Error{Code: ErrCodeNotFound, Message: templateKey, Cause: ErrTemplateNotFound}
		}
		return nil, operation("failed to record rating", err)
	}

	s.logger.Debug("rating recorded", "template_key", templateKey, "rating", rating, "avg_user_rating", perf.AvgUserRating)
	return perf, nil
}

func belongsTo(experiment *store.Experiment, templateKey string) bool {
	if experiment.ControlTemplate != nil && experiment.ControlTemplate.Key == templateKey {
		return true
	}
	return experiment.VariantTemplate != nil && experiment.VariantTemplate.Key == templateKey
}

// ============================================================================
// Analysis
// ============================================================================

// AnalyzeResults evaluates an experiment against the decision policy. A
// completed experiment returns the analysis frozen at completion. It returns
// nil when the experiment does not exist.
func (s *Service) AnalyzeResults(ctx context.Context, id int32) (*Analysis, error) {
	experiment, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, operation("failed to load experiment", err)
	}
	if experiment == nil {
		return nil, nil
	}
	return s.analyze(ctx, experiment)
}

func (s *Service) analyze(ctx context.Context, experiment *store.Experiment) (*Analysis, error) {
	if experiment.Status == store.ExperimentCompleted && experiment.AnalysisSnapshot != "" {
		return s.frozen(experiment)
	}
	if experiment.ControlTemplate == nil || experiment.VariantTemplate == nil {
		return nil, (&Error{
			Code:    ErrCodeNotFound,
			Message: fmt.Sprintf("templates of experiment %d", experiment.ID),
			Cause:   ErrTemplateNotFound,
		}).WithContext("experiment_id", experiment.ID)
	}

	controlPerf, err := s.perf.Get(ctx, experiment.ControlTemplate.Key)
	if err != nil {
		return nil, operation("failed to load control metrics", err)
	}
	variantPerf, err := s.perf.Get(ctx, experiment.VariantTemplate.Key)
	if err != nil {
		return nil, operation("failed to load variant metrics", err)
	}

	var n1, x1, n2, x2 int64
	if controlPerf != nil {
		n1, x1 = controlPerf.TotalUsages, controlPerf.SuccessfulUsages
	}
	if variantPerf != nil {
		n2, x2 = variantPerf.TotalUsages, variantPerf.SuccessfulUsages
	}

	stats := Analyze(n1, x1, n2, x2)
	elapsed := s.elapsed(experiment)
	decision := s.policy.Decide(DecisionInput{
		Confidence:     stats.Confidence,
		ImprovementPct: stats.ImprovementPct,
		CombinedSample: stats.CombinedSample(),
		Elapsed:        elapsed,
	})

	winnerKey := experiment.ControlTemplate.Key
	if stats.VariantRate > stats.ControlRate {
		winnerKey = experiment.VariantTemplate.Key
	}

	return &Analysis{
		ExperimentID:      experiment.ID,
		ExperimentName:    experiment.Name,
		Status:            experiment.Status,
		ControlKey:        experiment.ControlTemplate.Key,
		VariantKey:        experiment.VariantTemplate.Key,
		ControlTemplateID: experiment.ControlTemplateID,
		VariantTemplateID: experiment.VariantTemplateID,
		SuggestionID:      experiment.SuggestionID,
		Statistics:        stats,
		Decision:          decision,
		WinnerKey:         winnerKey,
		Elapsed:           elapsed,
		AnalyzedAt:        s.store.Now(),
	}, nil
}

// frozen decodes the snapshot stamped at completion. Usage recorded after
// completion never changes the published result.
func (s *Service) frozen(experiment *store.Experiment) (*Analysis, error) {
	var analysis Analysis
	if err := json.Unmarshal([]byte(experiment.AnalysisSnapshot), &analysis); err != nil {
		return nil, operation(fmt.Sprintf("failed to decode analysis snapshot of experiment %d", experiment.ID), err)
	}
	analysis.Status = experiment.Status
	return &analysis, nil
}

func (s *Service) elapsed(experiment *store.Experiment) time.Duration {
	if experiment.StartTs == nil {
		return 0
	}
	end := s.store.Now()
	if experiment.EndTs != nil {
		end = *experiment.EndTs
	}
	if end.Before(*experiment.StartTs) {
		return 0
	}
	return end.Sub(*experiment.StartTs)
}

// ============================================================================
// Manual transitions
// ============================================================================

// CompleteExperiment completes an active experiment. With implementWinner the
// template the analysis found better becomes the winner, and a winning
// variant is promoted; otherwise the control is kept.
func (s *Service) CompleteExperiment(ctx context.Context, id int32, implementWinner bool, actor string) (*store.Experiment, error) {
	analysis, err := s.AnalyzeResults(ctx, id)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, notFound(id)
	}
	if !analysis.Status.IsActive() {
		return nil, invalidTransition(id, fmt.Errorf("cannot complete from %s", analysis.Status))
	}

	reason := "completed manually, keeping the original"
	if implementWinner {
		reason = fmt.Sprintf("completed manually, implementing %s", analysis.WinnerKey)
	}
	return s.complete(ctx, analysis, implementWinner, reason, actor)
}

// complete stamps the winner and the analysis snapshot, promotes a winning
// variant and closes the loop with the suggestion generator.
func (s *Service) complete(ctx context.Context, analysis *Analysis, implementWinner bool, reason, actor string) (*store.Experiment, error) {
	id := analysis.ExperimentID
	promote := implementWinner && analysis.VariantLeads()
	winnerID := analysis.ControlTemplateID
	if promote {
		winnerID = analysis.VariantTemplateID
	}

	snapshot, err := json.Marshal(analysis)
	if err != nil {
		return nil, operation("failed to encode analysis snapshot", err)
	}

	completed, err := s.transition(ctx, id, ActionComplete, reason, actor, func() (*store.Experiment, error) {
		return s.store.CompleteExperiment(ctx, id, &winnerID, reason, string(snapshot), actor)
	}, analysis)
	if err != nil {
		return nil, err
	}

	if promote {
		if err := s.promote(ctx, analysis); err != nil {
			s.logger.Error("failed to promote variant", "experiment_id", id, "error", err)
			return nil, operation(fmt.Sprintf("experiment %d completed but the variant was not promoted", id), err)
		}
	}

	s.logger.Info("experiment completed",
		"experiment_id", id,
		"winner_template_id", winnerID,
		"variant_implemented", promote,
		"reason", reason,
	)

	s.publish(ctx, events.ExperimentCompleted{
		ExperimentID:       id,
		SuggestionID:       completed.SuggestionID,
		WinnerTemplateID:   winnerID,
		VariantImplemented: promote,
		Reason:             reason,
		CompletedAt:        *completed.EndTs,
	})
	s.announce(ctx, "experiment.completed", fmt.Sprintf("Experiment %q completed", completed.Name), reason, map[string]any{
		"experiment_id":       id,
		"winner_template_id":  winnerID,
		"variant_implemented": promote,
		"confidence":          analysis.Statistics.Confidence,
		"improvement_pct":     analysis.Statistics.ImprovementPct,
	})
	return completed, nil
}

// promote activates the variant and retires the control.
func (s *Service) promote(ctx context.Context, analysis *Analysis) error {
	active, inactive := true, false
	if _, err := s.store.UpdateTemplate(ctx, &store.UpdateTemplate{ID: analysis.VariantTemplateID, IsActive: &active}); err != nil {
		return err
	}
	if _, err := s.store.UpdateTemplate(ctx, &store.UpdateTemplate{ID: analysis.ControlTemplateID, IsActive: &inactive}); err != nil {
		return err
	}
	return nil
}

// PauseExperiment stops routing traffic to the variant.
func (s *Service) PauseExperiment(ctx context.Context, id int32, reason, actor string) (*store.Experiment, error) {
	return s.transition(ctx, id, ActionPause, reason, actor, func() (*store.Experiment, error) {
		return s.store.PauseExperiment(ctx, id, reason, actor)
	})
}

// ResumeExperiment resumes a paused experiment.
func (s *Service) ResumeExperiment(ctx context.Context, id int32, reason, actor string) (*store.Experiment, error) {
	return s.transition(ctx, id, ActionResume, reason, actor, func() (*store.Experiment, error) {
		return s.store.ResumeExperiment(ctx, id, reason, actor)
	})
}

// CancelExperiment ends an active experiment without a winner.
func (s *Service) CancelExperiment(ctx context.Context, id int32, reason, actor string) (*store.Experiment, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, (&Error{Code: ErrCodeValidation, Message: "a cancellation reason is required"}).WithContext("experiment_id", id)
	}
	cancelled, err := s.transition(ctx, id, ActionCancel, reason, actor, func() (*store.Experiment, error) {
		return s.store.CancelExperiment(ctx, id, reason, actor)
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, "experiment.cancelled", fmt.Sprintf("Experiment %q cancelled", cancelled.Name), reason, map[string]any{
		"experiment_id": id,
	})
	return cancelled, nil
}

// transition runs a guarded store transition and audits it. A guard
// rejection becomes NOT_FOUND or INVALID_TRANSITION.
func (s *Service) transition(ctx context.Context, id int32, action, reason, actor string, apply func() (*store.Experiment, error), details ...any) (*store.Experiment, error) {
	experiment, err := apply()
	if err != nil {
		var coded *Error
		if errors.As(err, &coded) {
			return nil, err
		}
		if !errors.Is(err, store.ErrStatusConflict) {
			return nil, operation(fmt.Sprintf("failed to %s experiment %d", strings.ToLower(action), id), err)
		}
		current, getErr := s.store.GetExperiment(ctx, id)
		if getErr != nil {
			return nil, operation("failed to load experiment", getErr)
		}
		if current == nil {
			return nil, notFound(id)
		}
		return nil, invalidTransition(id, fmt.Errorf("cannot %s from %s", strings.ToLower(action), current.Status))
	}

	var payload any
	if len(details) > 0 {
		payload = details[0]
	}
	s.audit(ctx, id, store.AuditKindTransition, action, actor, reason, payload)
	return experiment, nil
}

// ============================================================================
// Events
// ============================================================================

// handleSpawnRequested creates an inactive variant template carrying the
// proposed content and starts an experiment against the current template.
func (s *Service) handleSpawnRequested(ctx context.Context, event events.Event) error {
	req, ok := event.(events.SpawnRequested)
	if !ok {
		return nil
	}

	control, err := s.store.GetTemplateByID(ctx, req.TemplateID)
	if err != nil {
		return operation("failed to load template", err)
	}
	if control == nil {
		return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("template %d", req.TemplateID), Cause: ErrTemplateNotFound}
	}

	variantKey := fmt.Sprintf("%s@s%d", control.Key, req.SuggestionID)
	variant, err := s.store.GetTemplateByKey(ctx, variantKey)
	if err != nil {
		return operation("failed to load variant template", err)
	}
	if variant == nil {
		if _, err := s.store.CreateTemplate(ctx, &store.Template{
			Key:        variantKey,
			Content:    req.ProposedContent,
			IntentType: control.IntentType,
			IsActive:   false,
			Version:    control.Version + 1,
			CreatedBy:  req.RequestedBy,
		}); err != nil {
			return operation("failed to create variant template", err)
		}
	}

	suggestionID := req.SuggestionID
	result, err := s.CreateExperiment(ctx, CreateRequest{
		Name:               fmt.Sprintf("%s: %s", control.Key, req.Title),
		Description:        fmt.Sprintf("Spawned from suggestion %d, expected improvement %.1f%%", req.SuggestionID, req.ExpectedImprovement),
		ControlTemplateKey: control.Key,
		VariantTemplateKey: variantKey,
		TrafficSplit:       SpawnTrafficSplit,
		CreatedBy:          req.RequestedBy,
		SuggestionID:       &suggestionID,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return (&Error{Code: ErrCodeValidation, Message: result.Validation.Error()}).WithContext("suggestion_id", req.SuggestionID)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("event delivery failed", "kind", event.Kind(), "error", err)
	}
}

func (s *Service) announce(ctx context.Context, event, title, message string, metadata map[string]any) {
	if s.notifier == nil {
		return
	}
	for _, err := range s.notifier.Notify(ctx, &notify.Notification{
		Event:    event,
		Title:    title,
		Message:  message,
		Metadata: metadata,
	}) {
		s.logger.Warn("notification failed", "event", event, "error", err)
	}
}

func (s *Service) audit(ctx context.Context, experimentID int32, kind store.ExperimentAuditKind, action, actor, reason string, details any) {
	payload := ""
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}
	if _, err := s.store.CreateExperimentAudit(ctx, &store.ExperimentAudit{
		ExperimentID: experimentID,
		Kind:         kind,
		Action:       action,
		Actor:        actor,
		Reason:       reason,
		Details:      payload,
	}); err != nil {
		s.logger.Error("failed to write experiment audit", "experiment_id", experimentID, "action", action, "error", err)
	}
}
