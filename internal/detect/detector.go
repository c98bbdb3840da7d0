// Package detect implements the PII detection engine: a deterministic
// pattern detector that always runs, an optional high-recall NER detector,
// and a fixed merge/enhancement algorithm over both. The engine is stateless
// and never stores the text it scans; callers persist only the positional
// Record form, which cannot reproduce the matched substring.
package detect

import "context"

// EntityKind is the category of personally identifiable information detected.
type EntityKind string

const (
	EntitySSN         EntityKind = "SSN"
	EntityEmail       EntityKind = "EMAIL"
	EntityPhone       EntityKind = "PHONE"
	EntityCreditCard  EntityKind = "CREDIT_CARD"
	EntityPerson      EntityKind = "PERSON"
	EntityOrg         EntityKind = "ORG"
	EntityMedicalID   EntityKind = "MEDICAL_ID"
	EntityCaseNumber  EntityKind = "CASE_NUMBER"
	EntityIPAddress   EntityKind = "IP_ADDRESS"
	EntityDateOfBirth EntityKind = "DATE_OF_BIRTH"
)

// Detection is a single in-flight finding. Value holds the matched substring
// so callers can redact; it exists only in memory and is stripped before
// anything is persisted (see Record).
type Detection struct {
	Kind       EntityKind
	Confidence float64 // in [0,1]
	Start      int     // byte offset, inclusive
	End        int     // byte offset, exclusive
	Value      string  // transient; never persisted
	Engine     string  // which detector produced this finding
}

// Detector is one detection backend. Implementations must be deterministic
// for identical input and must not retain the scanned text.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]Detection, error)
}

// overlapFraction returns how much of the smaller measurement each span
// covers: the shared byte range as a fraction of span a and of span b.
func overlapFraction(a, b Detection) (ofA, ofB float64) {
	lo := max(a.Start, b.Start)
	hi := min(a.End, b.End)
	if hi <= lo {
		return 0, 0
	}
	shared := float64(hi - lo)
	return shared / float64(a.End-a.Start), shared / float64(b.End-b.Start)
}
