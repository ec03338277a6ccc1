// Package memory implements store.Driver on in-process maps. It backs the
// demo mode and unit tests that do not need SQL.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/hrygo/querylab/store"
)

// DB is a mutex-guarded in-memory driver.
type DB struct {
	mu sync.Mutex

	templates    map[int32]*store.Template
	performances map[int32]*store.TemplatePerformance
	experiments  map[int32]*store.Experiment
	audits       []*store.ExperimentAudit
	suggestions  map[int32]*store.Suggestion

	nextTemplateID   int32
	nextExperimentID int32
	nextAuditID      int64
	nextSuggestionID int32
}

// NewDB creates an empty in-memory driver.
func NewDB() *DB {
	return &DB{
		templates:    make(map[int32]*store.Template),
		performances: make(map[int32]*store.TemplatePerformance),
		experiments:  make(map[int32]*store.Experiment),
		suggestions:  make(map[int32]*store.Suggestion),
	}
}

func (*DB) GetDB() *sql.DB {
	return nil
}

func (*DB) Close() error {
	return nil
}

func (*DB) IsInitialized(context.Context) (bool, error) {
	return true, nil
}

// ============================================================================
// Templates
// ============================================================================

func (d *DB) CreateTemplate(_ context.Context, create *store.Template) (*store.Template, error) {
	if create == nil {
		return nil, fmt.Errorf("create parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.templates {
		if t.Key == create.Key {
			return nil, fmt.Errorf("failed to create template: duplicate key %q", create.Key)
		}
	}

	d.nextTemplateID++
	template := *create
	template.ID = d.nextTemplateID
	template.UsageCount = 0
	template.SuccessRate = 0
	d.templates[template.ID] = &template
	d.performances[template.ID] = &store.TemplatePerformance{
		TemplateID:  template.ID,
		TemplateKey: template.Key,
		UpdatedTs:   template.CreatedTs,
	}

	result := template
	return &result, nil
}

func (d *DB) ListTemplates(_ context.Context, find *store.FindTemplate) ([]*store.Template, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.Template{}
	for _, id := range sortedKeys(d.templates) {
		t := d.templates[id]
		if find.ID != nil && t.ID != *find.ID {
			continue
		}
		if find.Key != nil && t.Key != *find.Key {
			continue
		}
		if find.IntentType != nil && t.IntentType != *find.IntentType {
			continue
		}
		if find.IsActive != nil && t.IsActive != *find.IsActive {
			continue
		}
		list = append(list, d.templateView(t))
	}

	return limit(list, find.Limit), nil
}

func (d *DB) UpdateTemplate(_ context.Context, update *store.UpdateTemplate) (*store.Template, error) {
	if update == nil {
		return nil, fmt.Errorf("update parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.templates[update.ID]
	if !ok {
		return nil, nil
	}
	if update.Content != nil {
		t.Content = *update.Content
	}
	if update.IsActive != nil {
		t.IsActive = *update.IsActive
	}
	if update.Version != nil {
		t.Version = *update.Version
	}
	t.UpdatedTs = update.UpdatedTs

	return d.templateView(t), nil
}

// templateView copies a template and fills the denormalized usage summary.
// The caller must hold the lock.
func (d *DB) templateView(t *store.Template) *store.Template {
	view := *t
	if p, ok := d.performances[t.ID]; ok {
		view.UsageCount = p.TotalUsages
		view.SuccessRate = p.SuccessRate
	}
	return &view
}

// ============================================================================
// Template performance
// ============================================================================

func (d *DB) ListTemplatePerformances(_ context.Context, find *store.FindTemplatePerformance) ([]*store.TemplatePerformance, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.TemplatePerformance{}
	for _, id := range sortedKeys(d.performances) {
		p := d.performances[id]
		if find.TemplateID != nil && p.TemplateID != *find.TemplateID {
			continue
		}
		if find.TemplateKey != nil && p.TemplateKey != *find.TemplateKey {
			continue
		}
		if find.OnlyActive {
			if t, ok := d.templates[p.TemplateID]; !ok || !t.IsActive {
				continue
			}
		}
		if find.MinUsages != nil && p.TotalUsages < *find.MinUsages {
			continue
		}
		if find.MaxSuccessRate != nil && p.SuccessRate >= *find.MaxSuccessRate {
			continue
		}
		copied := *p
		list = append(list, &copied)
	}

	if find.OrderBySuccessRateDesc {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].SuccessRate != list[j].SuccessRate {
				return list[i].SuccessRate > list[j].SuccessRate
			}
			return list[i].TotalUsages > list[j].TotalUsages
		})
	}

	return limit(list, find.Limit), nil
}

func (d *DB) IncrementTemplateUsage(_ context.Context, inc *store.IncrementTemplateUsage) (*store.TemplatePerformance, error) {
	if inc == nil {
		return nil, fmt.Errorf("increment parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.performanceByKey(inc.TemplateKey)
	if p == nil {
		return nil, nil
	}

	prev := float64(p.TotalUsages)
	p.TotalUsages++
	if inc.Success {
		p.SuccessfulUsages++
	}
	n := float64(p.TotalUsages)
	p.SuccessRate = float64(p.SuccessfulUsages) / n
	p.AvgConfidence = (p.AvgConfidence*prev + inc.Confidence) / n
	p.AvgProcessingTimeMs = (p.AvgProcessingTimeMs*prev + inc.ProcessingTimeMs) / n
	usedTs := inc.UsedTs
	p.LastUsedTs = &usedTs
	p.UpdatedTs = inc.UsedTs

	copied := *p
	return &copied, nil
}

func (d *DB) UpdateTemplateRating(_ context.Context, rating *store.UpdateTemplateRating) (*store.TemplatePerformance, error) {
	if rating == nil {
		return nil, fmt.Errorf("rating parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.performanceByKey(rating.TemplateKey)
	if p == nil {
		return nil, nil
	}

	p.AvgUserRating = (p.AvgUserRating*float64(p.RatingCount) + rating.Rating) / float64(p.RatingCount+1)
	p.RatingCount++
	p.UpdatedTs = rating.RatedTs

	copied := *p
	return &copied, nil
}

func (d *DB) performanceByKey(key string) *store.TemplatePerformance {
	for _, p := range d.performances {
		if p.TemplateKey == key {
			return p
		}
	}
	return nil
}

// ============================================================================
// Experiments
// ============================================================================

func (d *DB) CreateExperiment(_ context.Context, create *store.Experiment) (*store.Experiment, error) {
	if create == nil {
		return nil, fmt.Errorf("create parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextExperimentID++
	experiment := *create
	experiment.ID = d.nextExperimentID
	experiment.ControlTemplate, experiment.VariantTemplate, experiment.WinnerTemplate = nil, nil, nil
	d.experiments[experiment.ID] = &experiment

	result := experiment
	return &result, nil
}

func (d *DB) ListExperiments(_ context.Context, find *store.FindExperiment) ([]*store.Experiment, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.Experiment{}
	for _, id := range sortedKeys(d.experiments) {
		e := d.experiments[id]
		if find.ID != nil && e.ID != *find.ID {
			continue
		}
		if len(find.Status) > 0 && !containsStatus(find.Status, e.Status) {
			continue
		}
		if find.TemplateID != nil && e.ControlTemplateID != *find.TemplateID && e.VariantTemplateID != *find.TemplateID {
			continue
		}
		if find.StartedBefore != nil && (e.StartTs == nil || !e.StartTs.Before(*find.StartedBefore)) {
			continue
		}
		copied := *e
		list = append(list, &copied)
	}

	return limit(list, find.Limit), nil
}

func (d *DB) UpdateExperiment(_ context.Context, update *store.UpdateExperiment) (*store.Experiment, error) {
	if update == nil {
		return nil, fmt.Errorf("update parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.experiments[update.ID]
	if !ok {
		return nil, nil
	}
	if len(update.ExpectedStatus) > 0 && !containsStatus(update.ExpectedStatus, e.Status) {
		return nil, nil
	}
	if update.RequireIdleTemplates && d.templatesBusy(e) {
		return nil, nil
	}

	if update.Status != nil {
		e.Status = *update.Status
	}
	if update.StartTs != nil {
		ts := *update.StartTs
		e.StartTs = &ts
	}
	if update.EndTs != nil {
		ts := *update.EndTs
		e.EndTs = &ts
	}
	if update.WinnerTemplateID != nil {
		id := *update.WinnerTemplateID
		e.WinnerTemplateID = &id
	}
	if update.StatusReason != nil {
		e.StatusReason = *update.StatusReason
	}
	if update.AnalysisSnapshot != nil {
		e.AnalysisSnapshot = *update.AnalysisSnapshot
	}
	e.UpdatedBy = update.UpdatedBy
	e.UpdatedTs = update.UpdatedTs

	copied := *e
	return &copied, nil
}

func (d *DB) CountExperimentsByStatus(context.Context) ([]*store.ExperimentStatusCount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := map[store.ExperimentStatus]int64{}
	for _, e := range d.experiments {
		counts[e.Status]++
	}

	list := make([]*store.ExperimentStatusCount, 0, len(counts))
	for status, count := range counts {
		list = append(list, &store.ExperimentStatusCount{Status: status, Count: count})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Status < list[j].Status })
	return list, nil
}

func containsStatus(list []store.ExperimentStatus, status store.ExperimentStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

// ============================================================================
// Audits
// ============================================================================

func (d *DB) CreateExperimentAudit(_ context.Context, create *store.ExperimentAudit) (*store.ExperimentAudit, error) {
	if create == nil {
		return nil, fmt.Errorf("create parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextAuditID++
	audit := *create
	audit.ID = d.nextAuditID
	d.audits = append(d.audits, &audit)

	result := audit
	return &result, nil
}

func (d *DB) ListExperimentAudits(_ context.Context, find *store.FindExperimentAudit) ([]*store.ExperimentAudit, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.ExperimentAudit{}
	for _, a := range d.audits {
		if find.ExperimentID != nil && a.ExperimentID != *find.ExperimentID {
			continue
		}
		if find.Kind != nil && a.Kind != *find.Kind {
			continue
		}
		copied := *a
		list = append(list, &copied)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedTs.Before(list[j].CreatedTs) })

	return limit(list, find.Limit), nil
}

// ============================================================================
// Suggestions
// ============================================================================

func (d *DB) CreateSuggestion(_ context.Context, create *store.Suggestion) (*store.Suggestion, error) {
	if create == nil {
		return nil, fmt.Errorf("create parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range d.suggestions {
		if s.UID == create.UID {
			return nil, fmt.Errorf("failed to create suggestion: duplicate uid %q", create.UID)
		}
	}

	d.nextSuggestionID++
	suggestion := *create
	suggestion.ID = d.nextSuggestionID
	d.suggestions[suggestion.ID] = &suggestion

	result := suggestion
	return &result, nil
}

func (d *DB) ListSuggestions(_ context.Context, find *store.FindSuggestion) ([]*store.Suggestion, error) {
	if find == nil {
		return nil, fmt.Errorf("find parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.Suggestion{}
	for _, id := range sortedKeys(d.suggestions) {
		s := d.suggestions[id]
		if find.ID != nil && s.ID != *find.ID {
			continue
		}
		if find.TemplateID != nil && s.TemplateID != *find.TemplateID {
			continue
		}
		if find.Status != nil && s.Status != *find.Status {
			continue
		}
		if find.ExperimentID != nil && (s.ExperimentID == nil || *s.ExperimentID != *find.ExperimentID) {
			continue
		}
		copied := *s
		list = append(list, &copied)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].ExpectedImprovement > list[j].ExpectedImprovement })

	return limit(list, find.Limit), nil
}

func (d *DB) UpdateSuggestion(_ context.Context, update *store.UpdateSuggestion) (*store.Suggestion, error) {
	if update == nil {
		return nil, fmt.Errorf("update parameter cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.suggestions[update.ID]
	if !ok {
		return nil, nil
	}
	if len(update.ExpectedStatus) > 0 {
		matched := false
		for _, status := range update.ExpectedStatus {
			if s.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return nil, nil
		}
	}

	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.ReviewedBy != nil {
		s.ReviewedBy = *update.ReviewedBy
	}
	if update.ReviewNotes != nil {
		s.ReviewNotes = *update.ReviewNotes
	}
	if update.ReviewedTs != nil {
		ts := *update.ReviewedTs
		s.ReviewedTs = &ts
	}
	if update.ExperimentID != nil {
		id := *update.ExperimentID
		s.ExperimentID = &id
	}

	copied := *s
	return &copied, nil
}

// ============================================================================
// helpers
// ============================================================================

func sortedKeys[V any](m map[int32]V) []int32 {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func limit[T any](list []T, n *int) []T {
	if n != nil && *n > 0 && len(list) > *n {
		return list[:*n]
	}
	return list
}

// templatesBusy reports whether another active experiment shares a template
// with e. The caller holds d.mu.
func (d *DB) templatesBusy(e *store.Experiment) bool {
	for _, other := range d.experiments {
		if other.ID == e.ID || !other.Status.IsActive() {
			continue
		}
		for _, id := range []int32{other.ControlTemplateID, other.VariantTemplateID} {
			if id == e.ControlTemplateID || id == e.VariantTemplateID {
				return true
			}
		}
	}
	return false
}
