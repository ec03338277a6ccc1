package store

import "time"

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentCreated   ExperimentStatus = "CREATED"
	ExperimentRunning   ExperimentStatus = "RUNNING"
	ExperimentPaused    ExperimentStatus = "PAUSED"
	ExperimentCompleted ExperimentStatus = "COMPLETED"
	ExperimentCancelled ExperimentStatus = "CANCELLED"
)

// IsActive reports whether traffic may still be routed by the experiment.
func (s ExperimentStatus) IsActive() bool {
	return s == ExperimentRunning || s == ExperimentPaused
}

// IsTerminal reports whether no further transitions are possible.
func (s ExperimentStatus) IsTerminal() bool {
	return s == ExperimentCompleted || s == ExperimentCancelled
}

// Experiment is an A/B comparison between a control and a variant template.
type Experiment struct {
	ID                int32
	Name              string
	Description       string
	ControlTemplateID int32
	VariantTemplateID int32
	TrafficSplit      int32
	Status            ExperimentStatus
	StartTs           *time.Time
	EndTs             *time.Time
	WinnerTemplateID  *int32
	// StatusReason records why the latest manual transition happened.
	StatusReason string
	// AnalysisSnapshot is the JSON encoded statistics that triggered completion.
	AnalysisSnapshot string
	// SuggestionID links the experiment to the suggestion that spawned it.
	SuggestionID *int32
	CreatedBy    string
	UpdatedBy    string
	CreatedTs    time.Time
	UpdatedTs    time.Time

	// Relations, populated by Store.GetExperiment.
	ControlTemplate *Template
	VariantTemplate *Template
	WinnerTemplate  *Template
}

// FindExperiment specifies the conditions for finding experiments.
type FindExperiment struct {
	ID     *int32
	Status []ExperimentStatus
	// TemplateID matches either the control or the variant side.
	TemplateID *int32
	// StartedBefore keeps experiments whose start time is before the value.
	StartedBefore *time.Time
	Limit         *int
}

// UpdateExperiment specifies the fields changed by a lifecycle transition.
type UpdateExperiment struct {
	ID int32
	// ExpectedStatus guards the update: it applies only when the current
	// status is one of the listed values.
	ExpectedStatus []ExperimentStatus
	// RequireIdleTemplates guards the update further: it applies only when no
	// other running or paused experiment uses either of the row's templates.
	RequireIdleTemplates bool
	Status               *ExperimentStatus
	StartTs              *time.Time
	EndTs                *time.Time
	WinnerTemplateID     *int32
	StatusReason         *string
	AnalysisSnapshot     *string
	UpdatedBy            string
	UpdatedTs            time.Time
}

// ExperimentStatusCount is one row of CountExperimentsByStatus.
type ExperimentStatusCount struct {
	Status ExperimentStatus
	Count  int64
}
