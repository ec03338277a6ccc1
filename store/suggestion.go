package store

import "time"

// SuggestionStatus is the review state of an improvement suggestion.
type SuggestionStatus string

const (
	SuggestionPending      SuggestionStatus = "PENDING"
	SuggestionApproved     SuggestionStatus = "APPROVED"
	SuggestionRejected     SuggestionStatus = "REJECTED"
	SuggestionNeedsChanges SuggestionStatus = "NEEDS_CHANGES"
	SuggestionScheduled    SuggestionStatus = "SCHEDULED"
)

// IsReviewed reports whether the suggestion reached a terminal review state.
func (s SuggestionStatus) IsReviewed() bool {
	return s == SuggestionApproved || s == SuggestionRejected || s == SuggestionNeedsChanges
}

// Suggestion is a heuristic improvement proposal for a template.
// Numeric fields are fixed at creation; only review fields change afterwards.
type Suggestion struct {
	ID          int32
	UID         string
	TemplateID  int32
	TemplateKey string
	Category    string
	Title       string
	Description string
	// ProposedChange is a JSON payload describing the change.
	ProposedChange      string
	ExpectedImprovement float64
	Confidence          float64
	Status              SuggestionStatus
	ReviewedBy          string
	ReviewNotes         string
	ReviewedTs          *time.Time
	ExperimentID        *int32
	CreatedTs           time.Time
}

// FindSuggestion specifies the conditions for finding suggestions.
type FindSuggestion struct {
	ID           *int32
	TemplateID   *int32
	Status       *SuggestionStatus
	ExperimentID *int32
	Limit        *int
}

// UpdateSuggestion changes review state only.
type UpdateSuggestion struct {
	ID             int32
	ExpectedStatus []SuggestionStatus
	Status         *SuggestionStatus
	ReviewedBy     *string
	ReviewNotes    *string
	ReviewedTs     *time.Time
	ExperimentID   *int32
}
