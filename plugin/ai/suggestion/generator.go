package suggestion

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/querylab/plugin/ai/events"
	"github.com/hrygo/querylab/plugin/ai/metrics"
	"github.com/hrygo/querylab/store"
)

// GeneratorActor is recorded as the requester of auto-spawned experiments.
const GeneratorActor = "suggestion-generator"

// DefaultAutoSpawnMinGain is the expected improvement, in percent, a
// suggestion needs before it may spawn an experiment.
const DefaultAutoSpawnMinGain = 10.0

var (
	// ErrSuggestionNotFound indicates the suggestion does not exist.
	ErrSuggestionNotFound = errors.New("suggestion not found")

	// ErrSuggestionReviewed indicates the suggestion already reached a terminal review state.
	ErrSuggestionReviewed = errors.New("suggestion already reviewed")

	// ErrInvalidReview indicates a review status other than Approved, Rejected or NeedsChanges.
	ErrInvalidReview = errors.New("invalid review status")
)

// ProposedChange is the JSON payload stored with a suggestion.
type ProposedChange struct {
	Guidance        string         `json:"guidance"`
	ProposedContent string         `json:"proposed_content"`
	Content         *ContentReport `json:"content,omitempty"`
}

// RunResult summarizes one generation pass.
type RunResult struct {
	Scanned     int                 `json:"scanned"`
	Created     []*store.Suggestion `json:"created"`
	Skipped     int                 `json:"skipped"`
	Spawned     []int32             `json:"spawned"`
	SpawnErrors map[int32]string    `json:"spawn_errors,omitempty"`
}

// Generator applies the heuristics to every active template.
type Generator struct {
	store     *store.Store
	rules     *RuleEngine
	content   *ContentAnalyzer
	bus       *events.Bus
	autoSpawn bool
	minGain   float64
	logger    *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithBus connects the generator to the event bus. The generator publishes
// SpawnRequested and closes out suggestions on ExperimentStarted and
// ExperimentCompleted.
func WithBus(bus *events.Bus) Option {
	return func(g *Generator) { g.bus = bus }
}

// WithAutoSpawn requests an experiment for every new suggestion expecting at
// least minGain percent improvement. A non-positive minGain uses the default.
func WithAutoSpawn(minGain float64) Option {
	return func(g *Generator) {
		g.autoSpawn = true
		g.minGain = minGain
		if g.minGain <= 0 {
			g.minGain = DefaultAutoSpawnMinGain
		}
	}
}

// NewGenerator compiles rules and creates a generator. Nil rules use DefaultRules.
func NewGenerator(s *store.Store, rules []Rule, opts ...Option) (*Generator, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	engine, err := NewRuleEngine(rules)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		store:   s,
		rules:   engine,
		content: NewContentAnalyzer(),
		minGain: DefaultAutoSpawnMinGain,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.bus != nil {
		g.bus.Subscribe(events.KindExperimentStarted, g.handleExperimentStarted)
		g.bus.Subscribe(events.KindExperimentCompleted, g.handleExperimentCompleted)
	}
	return g, nil
}

// SetLogger sets a custom logger.
func (g *Generator) SetLogger(logger *slog.Logger) {
	g.logger = logger
}

// Inspect returns the heuristics triggered for one template without
// persisting anything.
func (g *Generator) Inspect(template *store.Template, perf *store.TemplatePerformance) ([]Rule, *ContentReport, error) {
	var triggered []Rule
	if perf != nil {
		var err error
		if triggered, err = g.rules.Evaluate(perf); err != nil {
			return nil, nil, err
		}
	}
	report := g.content.Analyze(template.Content)
	if len(report.Issues) > 0 {
		triggered = append(triggered, contentRule(report))
	}
	return triggered, report, nil
}

// Run scans all active templates once. A template that already has an open
// suggestion of the same category is skipped; reviewed suggestions never
// block a new one.
func (g *Generator) Run(ctx context.Context) (*RunResult, error) {
	templates, err := g.store.ListActiveTemplates(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active templates")
	}

	result := &RunResult{SpawnErrors: map[int32]string{}}
	for _, template := range templates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		if err := g.runTemplate(ctx, template, result); err != nil {
			g.logger.Error("failed to generate suggestions", "template_key", template.Key, "error", err)
		}
	}

	if len(result.Created) > 0 {
		g.logger.Info("suggestion pass finished",
			"scanned", result.Scanned,
			"created", len(result.Created),
			"spawned", len(result.Spawned),
		)
	}
	return result, nil
}

func (g *Generator) runTemplate(ctx context.Context, template *store.Template, result *RunResult) error {
	perf, err := g.store.GetTemplatePerformance(ctx, template.Key)
	if err != nil {
		return errors.Wrap(err, "failed to load metrics")
	}
	triggered, report, err := g.Inspect(template, perf)
	if err != nil {
		return err
	}
	if len(triggered) == 0 {
		return nil
	}

	open, err := g.openCategories(ctx, template.ID)
	if err != nil {
		return err
	}

	for _, rule := range triggered {
		if open[rule.Category] {
			result.Skipped++
			continue
		}

		change := ProposedChange{
			Guidance:        rule.Guidance,
			ProposedContent: strings.TrimRight(template.Content, "\n") + "\n\n" + rule.Guidance,
		}
		if rule.Category == CategoryContentQuality {
			change.Content = report
		}
		payload, err := json.Marshal(change)
		if err != nil {
			return errors.Wrap(err, "failed to encode proposed change")
		}

		created, err := g.store.CreateSuggestion(ctx, &store.Suggestion{
			UID:                 shortuuid.New(),
			TemplateID:          template.ID,
			TemplateKey:         template.Key,
			Category:            rule.Category,
			Title:               rule.Title,
			Description:         rule.Description,
			ProposedChange:      string(payload),
			ExpectedImprovement: rule.ExpectedImprovement,
			Confidence:          rule.Confidence,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to create %s suggestion", rule.Category)
		}
		open[rule.Category] = true
		result.Created = append(result.Created, created)
		metrics.RecordSuggestion(rule.Category)

		if g.shouldSpawn(created) {
			busy, err := g.store.HasActiveExperimentForTemplate(ctx, template.ID)
			if err != nil {
				return errors.Wrap(err, "failed to check active experiments")
			}
			if busy {
				continue
			}
			if err := g.spawn(ctx, created, change.ProposedContent); err != nil {
				result.SpawnErrors[created.ID] = err.Error()
			} else {
				result.Spawned = append(result.Spawned, created.ID)
			}
		}
	}
	return nil
}

func (g *Generator) openCategories(ctx context.Context, templateID int32) (map[string]bool, error) {
	existing, err := g.store.ListSuggestions(ctx, &store.FindSuggestion{TemplateID: &templateID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list suggestions")
	}
	open := make(map[string]bool, len(existing))
	for _, s := range existing {
		if !s.Status.IsReviewed() {
			open[s.Category] = true
		}
	}
	return open, nil
}

func (g *Generator) shouldSpawn(s *store.Suggestion) bool {
	return g.autoSpawn && g.bus != nil && s.ExpectedImprovement >= g.minGain
}

// spawn asks the lifecycle for an experiment. The experiment handlers run
// synchronously, so a started experiment has already marked the suggestion
// Scheduled when this returns.
func (g *Generator) spawn(ctx context.Context, s *store.Suggestion, proposedContent string) error {
	err := g.bus.Publish(ctx, events.SpawnRequested{
		SuggestionID:        s.ID,
		TemplateID:          s.TemplateID,
		TemplateKey:         s.TemplateKey,
		ProposedContent:     proposedContent,
		Title:               s.Title,
		ExpectedImprovement: s.ExpectedImprovement,
		RequestedBy:         GeneratorActor,
	})
	if err != nil {
		g.logger.Warn("experiment spawn failed", "suggestion_id", s.ID, "template_key", s.TemplateKey, "error", err)
	}
	return err
}

// List returns suggestions ordered by expected improvement.
func (g *Generator) List(ctx context.Context, find *store.FindSuggestion) ([]*store.Suggestion, error) {
	return g.store.ListSuggestions(ctx, find)
}

// ListPending returns suggestions awaiting review.
func (g *Generator) ListPending(ctx context.Context) ([]*store.Suggestion, error) {
	status := store.SuggestionPending
	return g.store.ListSuggestions(ctx, &store.FindSuggestion{Status: &status})
}

// Review records a terminal review decision. Only Pending and Scheduled
// suggestions can be reviewed, and only once.
func (g *Generator) Review(ctx context.Context, id int32, status store.SuggestionStatus, reviewer, notes string) (*store.Suggestion, error) {
	if !status.IsReviewed() {
		return nil, errors.Wrap(ErrInvalidReview, string(status))
	}
	reviewed, err := g.finish(ctx, id, status, reviewer, notes)
	if err != nil {
		return nil, err
	}
	g.logger.Info("suggestion reviewed", "suggestion_id", id, "status", status, "reviewer", reviewer)
	return reviewed, nil
}

func (g *Generator) finish(ctx context.Context, id int32, status store.SuggestionStatus, reviewer, notes string) (*store.Suggestion, error) {
	now := g.store.Now()
	updated, err := g.store.UpdateSuggestion(ctx, &store.UpdateSuggestion{
		ID:             id,
		ExpectedStatus: []store.SuggestionStatus{store.SuggestionPending, store.SuggestionScheduled},
		Status:         &status,
		ReviewedBy:     &reviewer,
		ReviewNotes:    &notes,
		ReviewedTs:     &now,
	})
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, store.ErrStatusConflict) {
		return nil, errors.Wrapf(err, "failed to review suggestion %d", id)
	}

	existing, getErr := g.store.GetSuggestion(ctx, id)
	if getErr != nil {
		return nil, errors.Wrapf(getErr, "failed to load suggestion %d", id)
	}
	if existing == nil {
		return nil, errors.Wrapf(ErrSuggestionNotFound, "suggestion %d", id)
	}
	return nil, errors.Wrapf(ErrSuggestionReviewed, "suggestion %d is %s", id, existing.Status)
}

func (g *Generator) handleExperimentStarted(ctx context.Context, event events.Event) error {
	started, ok := event.(events.ExperimentStarted)
	if !ok || started.SuggestionID == nil {
		return nil
	}

	status := store.SuggestionScheduled
	experimentID := started.ExperimentID
	if _, err := g.store.UpdateSuggestion(ctx, &store.UpdateSuggestion{
		ID:             *started.SuggestionID,
		ExpectedStatus: []store.SuggestionStatus{store.SuggestionPending},
		Status:         &status,
		ExperimentID:   &experimentID,
	}); err != nil {
		return errors.Wrapf(err, "failed to schedule suggestion %d", *started.SuggestionID)
	}
	g.logger.Info("suggestion scheduled", "suggestion_id", *started.SuggestionID, "experiment_id", experimentID)
	return nil
}

func (g *Generator) handleExperimentCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(events.ExperimentCompleted)
	if !ok || completed.SuggestionID == nil {
		return nil
	}

	status := store.SuggestionRejected
	if completed.VariantImplemented {
		status = store.SuggestionApproved
	}
	if _, err := g.finish(ctx, *completed.SuggestionID, status, "experiment", completed.Reason); err != nil {
		return err
	}
	g.logger.Info("suggestion closed by experiment",
		"suggestion_id", *completed.SuggestionID,
		"experiment_id", completed.ExperimentID,
		"status", status,
	)
	return nil
}
