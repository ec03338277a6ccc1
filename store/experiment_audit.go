package store

import "time"

// ExperimentAuditKind separates lifecycle transitions from scheduler analysis records.
type ExperimentAuditKind string

const (
	AuditKindTransition ExperimentAuditKind = "TRANSITION"
	AuditKindAnalysis   ExperimentAuditKind = "ANALYSIS"
)

// ExperimentAudit is an append-only record of something that happened to an experiment.
type ExperimentAudit struct {
	ID           int64
	ExperimentID int32
	Kind         ExperimentAuditKind
	// Action is the transition name or the scheduler action.
	Action string
	Actor  string
	Reason string
	// Details is a JSON document with the statistics at the time of the record.
	Details   string
	CreatedTs time.Time
}

// FindExperimentAudit specifies the conditions for finding audit records.
type FindExperimentAudit struct {
	ExperimentID *int32
	Kind         *ExperimentAuditKind
	Limit        *int
}
