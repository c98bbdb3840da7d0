package consent

import (
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"tacita/pkg/domain"
)

// Evidence captures where a consent decision came from. Legal defensibility
// requires proving not only what was agreed to but the circumstances of the
// agreement.
type Evidence struct {
	OriginAddress string
	AgentString   string
	AgentSummary  string // parsed "browser version on OS" form, empty if unparseable
}

// NewEvidence builds Evidence from the raw transport facts, deriving the
// parsed agent summary.
func NewEvidence(originAddress, agentString string) Evidence {
	ev := Evidence{OriginAddress: originAddress, AgentString: agentString}
	if agentString != "" {
		ua := useragent.New(agentString)
		name, version := ua.Browser()
		if name != "" {
			ev.AgentSummary = name + " " + version + " on " + ua.OS()
		}
	}
	return ev
}

// Record is one immutable entry in a subject's consent timeline. State
// changes are new rows: a grant closes the previous active record and inserts
// a fresh one, a withdrawal sets RevokedAt on the active record. History is
// never deleted, only superseded.
//
// Invariant: for a given (subject, purpose) at most one record has
// RevokedAt == nil.
type Record struct {
	ID            uuid.UUID
	SubjectID     domain.SubjectID
	Purpose       domain.ConsentPurpose
	Granted       bool
	PolicyVersion string
	GrantedAt     time.Time
	RevokedAt     *time.Time
	RevokeReason  string
	Evidence      Evidence
}

// IsActive returns true when this record is the live decision for its
// purpose and that decision is a grant.
func (r Record) IsActive() bool {
	return r.RevokedAt == nil && r.Granted
}
