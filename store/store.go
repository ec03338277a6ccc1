package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/querylab/internal/profile"
)

// ErrStatusConflict is returned when a guarded update found the record in an unexpected state.
var ErrStatusConflict = errors.New("record is not in the expected status")

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	now func() time.Time
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		now:     time.Now,
	}
}

// SetClock overrides the time source used to stamp records.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the current time according to the store clock.
func (s *Store) Now() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Template

func (s *Store) CreateTemplate(ctx context.Context, create *Template) (*Template, error) {
	now := s.Now()
	if create.CreatedTs.IsZero() {
		create.CreatedTs = now
	}
	create.UpdatedTs = now
	if create.Version == 0 {
		create.Version = 1
	}
	return s.driver.CreateTemplate(ctx, create)
}

func (s *Store) ListTemplates(ctx context.Context, find *FindTemplate) ([]*Template, error) {
	return s.driver.ListTemplates(ctx, find)
}

// GetTemplate returns the first template matching find, or nil when none exists.
func (s *Store) GetTemplate(ctx context.Context, find *FindTemplate) (*Template, error) {
	list, err := s.ListTemplates(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) GetTemplateByKey(ctx context.Context, key string) (*Template, error) {
	return s.GetTemplate(ctx, &FindTemplate{Key: &key})
}

func (s *Store) GetTemplateByID(ctx context.Context, id int32) (*Template, error) {
	return s.GetTemplate(ctx, &FindTemplate{ID: &id})
}

func (s *Store) ListActiveTemplates(ctx context.Context) ([]*Template, error) {
	active := true
	return s.ListTemplates(ctx, &FindTemplate{IsActive: &active})
}

func (s *Store) UpdateTemplate(ctx context.Context, update *UpdateTemplate) (*Template, error) {
	update.UpdatedTs = s.Now()
	return s.driver.UpdateTemplate(ctx, update)
}

// TemplatePerformance

func (s *Store) ListTemplatePerformances(ctx context.Context, find *FindTemplatePerformance) ([]*TemplatePerformance, error) {
	return s.driver.ListTemplatePerformances(ctx, find)
}

// GetTemplatePerformance returns the metrics of one template, or nil when the template is unknown.
func (s *Store) GetTemplatePerformance(ctx context.Context, templateKey string) (*TemplatePerformance, error) {
	list, err := s.ListTemplatePerformances(ctx, &FindTemplatePerformance{TemplateKey: &templateKey})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) IncrementTemplateUsage(ctx context.Context, inc *IncrementTemplateUsage) (*TemplatePerformance, error) {
	if inc.UsedTs.IsZero() {
		inc.UsedTs = s.Now()
	}
	return s.driver.IncrementTemplateUsage(ctx, inc)
}

func (s *Store) UpdateTemplateRating(ctx context.Context, rating *UpdateTemplateRating) (*TemplatePerformance, error) {
	if rating.RatedTs.IsZero() {
		rating.RatedTs = s.Now()
	}
	return s.driver.UpdateTemplateRating(ctx, rating)
}

// ListUnderperformingTemplates returns active templates whose success rate is below
// the threshold once they have at least minUsages usages.
func (s *Store) ListUnderperformingTemplates(ctx context.Context, threshold float64, minUsages int64) ([]*TemplatePerformance, error) {
	return s.ListTemplatePerformances(ctx, &FindTemplatePerformance{
		OnlyActive:     true,
		MinUsages:      &minUsages,
		MaxSuccessRate: &threshold,
	})
}

// ListTopTemplates returns the best active templates by success rate.
func (s *Store) ListTopTemplates(ctx context.Context, limit int, minUsages int64) ([]*TemplatePerformance, error) {
	return s.ListTemplatePerformances(ctx, &FindTemplatePerformance{
		OnlyActive:             true,
		MinUsages:              &minUsages,
		OrderBySuccessRateDesc: true,
		Limit:                  &limit,
	})
}

// Experiment

func (s *Store) CreateExperiment(ctx context.Context, create *Experiment) (*Experiment, error) {
	now := s.Now()
	create.CreatedTs = now
	create.UpdatedTs = now
	if create.Status == "" {
		create.Status = ExperimentCreated
	}
	return s.driver.CreateExperiment(ctx, create)
}

func (s *Store) ListExperiments(ctx context.Context, find *FindExperiment) ([]*Experiment, error) {
	return s.driver.ListExperiments(ctx, find)
}

// GetExperiment returns the experiment with its control, variant and winner
// templates attached, or nil when it does not exist.
func (s *Store) GetExperiment(ctx context.Context, id int32) (*Experiment, error) {
	list, err := s.ListExperiments(ctx, &FindExperiment{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	experiment := list[0]
	if err := s.attachRelations(ctx, experiment); err != nil {
		return nil, err
	}
	return experiment, nil
}

func (s *Store) attachRelations(ctx context.Context, experiment *Experiment) error {
	control, err := s.GetTemplateByID(ctx, experiment.ControlTemplateID)
	if err != nil {
		return errors.Wrap(err, "failed to load control template")
	}
	variant, err := s.GetTemplateByID(ctx, experiment.VariantTemplateID)
	if err != nil {
		return errors.Wrap(err, "failed to load variant template")
	}
	experiment.ControlTemplate = control
	experiment.VariantTemplate = variant
	if experiment.WinnerTemplateID != nil {
		switch *experiment.WinnerTemplateID {
		case experiment.ControlTemplateID:
			experiment.WinnerTemplate = control
		case experiment.VariantTemplateID:
			experiment.WinnerTemplate = variant
		}
	}
	return nil
}

func (s *Store) ListActiveExperiments(ctx context.Context) ([]*Experiment, error) {
	return s.ListExperiments(ctx, &FindExperiment{Status: []ExperimentStatus{ExperimentRunning, ExperimentPaused}})
}

func (s *Store) ListExperimentsByStatus(ctx context.Context, status ExperimentStatus) ([]*Experiment, error) {
	return s.ListExperiments(ctx, &FindExperiment{Status: []ExperimentStatus{status}})
}

func (s *Store) ListExperimentsByTemplate(ctx context.Context, templateID int32) ([]*Experiment, error) {
	return s.ListExperiments(ctx, &FindExperiment{TemplateID: &templateID})
}

// HasActiveExperimentForTemplate reports whether the template is on either side
// of a running or paused experiment.
func (s *Store) HasActiveExperimentForTemplate(ctx context.Context, templateID int32) (bool, error) {
	limit := 1
	list, err := s.ListExperiments(ctx, &FindExperiment{
		TemplateID: &templateID,
		Status:     []ExperimentStatus{ExperimentRunning, ExperimentPaused},
		Limit:      &limit,
	})
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}

// ListExpiredExperiments returns running experiments started more than
// maxAge ago whose control and variant together served at least
// minCombinedUsage requests.
func (s *Store) ListExpiredExperiments(ctx context.Context, maxAge time.Duration, minCombinedUsage int64) ([]*Experiment, error) {
	before := s.Now().Add(-maxAge)
	candidates, err := s.ListExperiments(ctx, &FindExperiment{
		Status:        []ExperimentStatus{ExperimentRunning},
		StartedBefore: &before,
	})
	if err != nil {
		return nil, err
	}

	list := []*Experiment{}
	for _, experiment := range candidates {
		usage, err := s.combinedUsage(ctx, experiment)
		if err != nil {
			return nil, err
		}
		if usage >= minCombinedUsage {
			list = append(list, experiment)
		}
	}
	return list, nil
}

func (s *Store) combinedUsage(ctx context.Context, experiment *Experiment) (int64, error) {
	if err := s.attachRelations(ctx, experiment); err != nil {
		return 0, err
	}
	var total int64
	for _, template := range []*Template{experiment.ControlTemplate, experiment.VariantTemplate} {
		if template == nil {
			continue
		}
		perf, err := s.GetTemplatePerformance(ctx, template.Key)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to load performance of %s", template.Key)
		}
		if perf != nil {
			total += perf.TotalUsages
		}
	}
	return total, nil
}

// ListExperimentsRequiringAnalysis returns running experiments that have been
// collecting data for longer than minAge. A non-positive minAge returns every
// running experiment.
func (s *Store) ListExperimentsRequiringAnalysis(ctx context.Context, minAge time.Duration) ([]*Experiment, error) {
	find := &FindExperiment{Status: []ExperimentStatus{ExperimentRunning}}
	if minAge > 0 {
		before := s.Now().Add(-minAge)
		find.StartedBefore = &before
	}
	return s.ListExperiments(ctx, find)
}

func (s *Store) CountExperimentsByStatus(ctx context.Context) (map[ExperimentStatus]int64, error) {
	rows, err := s.driver.CountExperimentsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[ExperimentStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// UpdateExperiment applies a guarded update and returns ErrStatusConflict when
// no row matched.
func (s *Store) UpdateExperiment(ctx context.Context, update *UpdateExperiment) (*Experiment, error) {
	update.UpdatedTs = s.Now()
	experiment, err := s.driver.UpdateExperiment(ctx, update)
	if err != nil {
		return nil, err
	}
	if experiment == nil {
		return nil, errors.Wrapf(ErrStatusConflict, "experiment %d", update.ID)
	}
	return experiment, nil
}

// StartExperiment moves a Created experiment to Running. It returns
// ErrStatusConflict when the experiment is not Created or when another active
// experiment already uses one of its templates.
func (s *Store) StartExperiment(ctx context.Context, id int32, actor string) (*Experiment, error) {
	status := ExperimentRunning
	now := s.Now()
	return s.UpdateExperiment(ctx, &UpdateExperiment{
		ID:                   id,
		ExpectedStatus:       []ExperimentStatus{ExperimentCreated},
		RequireIdleTemplates: true,
		Status:               &status,
		StartTs:              &now,
		UpdatedBy:            actor,
	})
}

// CompleteExperiment moves an active experiment to Completed and stamps the
// winner, end time and the triggering statistics.
func (s *Store) CompleteExperiment(ctx context.Context, id int32, winnerTemplateID *int32, reason, snapshot, actor string) (*Experiment, error) {
	status := ExperimentCompleted
	now := s.Now()
	return s.UpdateExperiment(ctx, &UpdateExperiment{
		ID:               id,
		ExpectedStatus:   []ExperimentStatus{ExperimentRunning, ExperimentPaused},
		Status:           &status,
		EndTs:            &now,
		WinnerTemplateID: winnerTemplateID,
		StatusReason:     &reason,
		AnalysisSnapshot: &snapshot,
		UpdatedBy:        actor,
	})
}

func (s *Store) PauseExperiment(ctx context.Context, id int32, reason, actor string) (*Experiment, error) {
	status := ExperimentPaused
	return s.UpdateExperiment(ctx, &UpdateExperiment{
		ID:             id,
		ExpectedStatus: []ExperimentStatus{ExperimentRunning},
		Status:         &status,
		StatusReason:   &reason,
		UpdatedBy:      actor,
	})
}

func (s *Store) ResumeExperiment(ctx context.Context, id int32, reason, actor string) (*Experiment, error) {
	status := ExperimentRunning
	return s.UpdateExperiment(ctx, &UpdateExperiment{
		ID:             id,
		ExpectedStatus: []ExperimentStatus{ExperimentPaused},
		Status:         &status,
		StatusReason:   &reason,
		UpdatedBy:      actor,
	})
}

func (s *Store) CancelExperiment(ctx context.Context, id int32, reason, actor string) (*Experiment, error) {
	status := ExperimentCancelled
	now := s.Now()
	return s.UpdateExperiment(ctx, &UpdateExperiment{
		ID:             id,
		ExpectedStatus: []ExperimentStatus{ExperimentRunning, ExperimentPaused},
		Status:         &status,
		EndTs:          &now,
		StatusReason:   &reason,
		UpdatedBy:      actor,
	})
}

// ExperimentAudit

func (s *Store) CreateExperimentAudit(ctx context.Context, create *ExperimentAudit) (*ExperimentAudit, error) {
	if create.CreatedTs.IsZero() {
		create.CreatedTs = s.Now()
	}
	if create.Details == "" {
		create.Details = "{}"
	}
	return s.driver.CreateExperimentAudit(ctx, create)
}

func (s *Store) ListExperimentAudits(ctx context.Context, find *FindExperimentAudit) ([]*ExperimentAudit, error) {
	return s.driver.ListExperimentAudits(ctx, find)
}

// Suggestion

func (s *Store) CreateSuggestion(ctx context.Context, create *Suggestion) (*Suggestion, error) {
	create.CreatedTs = s.Now()
	if create.Status == "" {
		create.Status = SuggestionPending
	}
	if create.ProposedChange == "" {
		create.ProposedChange = "{}"
	}
	return s.driver.CreateSuggestion(ctx, create)
}

func (s *Store) ListSuggestions(ctx context.Context, find *FindSuggestion) ([]*Suggestion, error) {
	return s.driver.ListSuggestions(ctx, find)
}

func (s *Store) GetSuggestion(ctx context.Context, id int32) (*Suggestion, error) {
	list, err := s.ListSuggestions(ctx, &FindSuggestion{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateSuggestion applies a guarded review update and returns ErrStatusConflict
// when no row matched.
func (s *Store) UpdateSuggestion(ctx context.Context, update *UpdateSuggestion) (*Suggestion, error) {
	suggestion, err := s.driver.UpdateSuggestion(ctx, update)
	if err != nil {
		return nil, err
	}
	if suggestion == nil {
		return nil, errors.Wrapf(ErrStatusConflict, "suggestion %d", update.ID)
	}
	return suggestion, nil
}
