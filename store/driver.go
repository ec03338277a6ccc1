package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
//
// Update methods return a nil record and a nil error when no row matched,
// either because the record does not exist or because an expected-status
// guard rejected the update.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Template model related methods.
	// CreateTemplate also creates the zero-valued performance row.
	CreateTemplate(ctx context.Context, create *Template) (*Template, error)
	ListTemplates(ctx context.Context, find *FindTemplate) ([]*Template, error)
	UpdateTemplate(ctx context.Context, update *UpdateTemplate) (*Template, error)

	// TemplatePerformance model related methods.
	ListTemplatePerformances(ctx context.Context, find *FindTemplatePerformance) ([]*TemplatePerformance, error)
	// IncrementTemplateUsage increments counters and recomputes the derived
	// rates and means in one atomic statement.
	IncrementTemplateUsage(ctx context.Context, inc *IncrementTemplateUsage) (*TemplatePerformance, error)
	UpdateTemplateRating(ctx context.Context, rating *UpdateTemplateRating) (*TemplatePerformance, error)

	// Experiment model related methods.
	CreateExperiment(ctx context.Context, create *Experiment) (*Experiment, error)
	ListExperiments(ctx context.Context, find *FindExperiment) ([]*Experiment, error)
	UpdateExperiment(ctx context.Context, update *UpdateExperiment) (*Experiment, error)
	CountExperimentsByStatus(ctx context.Context) ([]*ExperimentStatusCount, error)

	// ExperimentAudit model related methods.
	CreateExperimentAudit(ctx context.Context, create *ExperimentAudit) (*ExperimentAudit, error)
	ListExperimentAudits(ctx context.Context, find *FindExperimentAudit) ([]*ExperimentAudit, error)

	// Suggestion model related methods.
	CreateSuggestion(ctx context.Context, create *Suggestion) (*Suggestion, error)
	ListSuggestions(ctx context.Context, find *FindSuggestion) ([]*Suggestion, error)
	UpdateSuggestion(ctx context.Context, update *UpdateSuggestion) (*Suggestion, error)
}
