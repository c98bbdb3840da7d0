package audit

import (
	"time"

	"tacita/pkg/domain"
)

// Action names a state-changing operation captured in the audit trail.
type Action string

const (
	ActionConsentGranted   Action = "consent_granted"
	ActionConsentWithdrawn Action = "consent_withdrawn"
	ActionDocumentAdded    Action = "document_added"
	ActionDocumentDeleted  Action = "document_deleted"
	ActionMessageAdded     Action = "message_added"
	ActionMessageDeleted   Action = "message_deleted"
	ActionIngestRejected   Action = "ingest_rejected"
	ActionIngestAborted    Action = "ingest_aborted"
	ActionRetentionSweep   Action = "retention_sweep"
	ActionSubjectErased    Action = "subject_erased"
	ActionExportGenerated  Action = "export_generated"
)

// Outcome records whether the audited operation succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry is one appended audit record. Keep it transport-agnostic so stores
// and sinks can fan out. Detail carries structured context such as counts and
// error codes, never raw content or matched PII values.
type Entry struct {
	ID           domain.LogID
	Timestamp    time.Time
	SubjectID    domain.SubjectID
	Action       Action
	ResourceKind domain.ResourceKind
	ResourceID   string // optional; empty when the action has no single resource
	Outcome      Outcome
	Detail       map[string]any
}

// Filter narrows a Query. Zero values mean "any". The time range is
// inclusive of From and exclusive of To.
type Filter struct {
	SubjectID    domain.SubjectID
	Action       Action
	ResourceKind domain.ResourceKind
	From         time.Time
	To           time.Time
	Limit        int
}

// ReportRow is one aggregate line of a compliance report.
type ReportRow struct {
	Action  Action
	Outcome Outcome
	Count   int64
}
