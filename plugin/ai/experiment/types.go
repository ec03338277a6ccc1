package experiment

import (
	"time"

	"github.com/hrygo/querylab/store"
)

// CreateRequest describes a new experiment.
type CreateRequest struct {
	Name               string
	Description        string
	ControlTemplateKey string
	VariantTemplateKey string
	// TrafficSplit is the percentage of users routed to the variant.
	TrafficSplit int32
	CreatedBy    string
	// Draft leaves the experiment in Created instead of starting it.
	Draft        bool
	SuggestionID *int32
}

// CreateResult is the outcome of CreateExperiment. Validation failures are
// reported here, not as an error.
type CreateResult struct {
	Success    bool              `json:"success"`
	Experiment *store.Experiment `json:"experiment,omitempty"`
	Validation *ValidationResult `json:"validation"`
}

// Selection is the template chosen for one user and intent.
type Selection struct {
	TemplateKey  string `json:"template_key"`
	IsVariant    bool   `json:"is_variant"`
	ExperimentID *int32 `json:"experiment_id,omitempty"`
	Reason       string `json:"reason"`
}

// Interaction is one usage of a template under an experiment.
type Interaction struct {
	ExperimentID   int32
	TemplateKey    string
	Success        bool
	Confidence     float64
	ProcessingTime time.Duration
	UserID         string
}

// Analysis is the statistical evaluation of one experiment.
type Analysis struct {
	ExperimentID   int32                  `json:"experiment_id"`
	ExperimentName string                 `json:"experiment_name"`
	Status         store.ExperimentStatus `json:"status"`
	ControlKey     string                 `json:"control_key"`
	VariantKey     string                 `json:"variant_key"`

	ControlTemplateID int32  `json:"control_template_id"`
	VariantTemplateID int32  `json:"variant_template_id"`
	SuggestionID      *int32 `json:"suggestion_id,omitempty"`

	Statistics Statistics `json:"statistics"`
	Decision   Decision   `json:"decision"`
	// WinnerKey is the template with the higher success rate; ties keep the control.
	WinnerKey  string        `json:"winner_key"`
	Elapsed    time.Duration `json:"elapsed"`
	AnalyzedAt time.Time     `json:"analyzed_at"`
}

// VariantLeads reports whether the variant has the higher success rate.
func (a *Analysis) VariantLeads() bool {
	return a.WinnerKey == a.VariantKey && a.VariantKey != a.ControlKey
}

// Transition names recorded in the audit log.
const (
	ActionCreate   = "CREATE"
	ActionStart    = "START"
	ActionPause    = "PAUSE"
	ActionResume   = "RESUME"
	ActionComplete = "COMPLETE"
	ActionCancel   = "CANCEL"
)
