package store

import "time"

// Template is a prompt template used to drive SQL generation for one intent.
type Template struct {
	ID         int32
	Key        string
	Content    string
	IntentType string
	IsActive   bool
	Version    int32
	CreatedBy  string
	CreatedTs  time.Time
	UpdatedTs  time.Time

	// Summary usage stats, denormalized from TemplatePerformance on read.
	UsageCount  int64
	SuccessRate float64
}

// FindTemplate specifies the conditions for finding templates.
type FindTemplate struct {
	ID         *int32
	Key        *string
	IntentType *string
	IsActive   *bool
	Limit      *int
}

// UpdateTemplate specifies the mutable fields of a template.
type UpdateTemplate struct {
	ID        int32
	Content   *string
	IsActive  *bool
	Version   *int32
	UpdatedTs time.Time
}
