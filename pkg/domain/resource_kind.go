package domain

import dErrors "tacita/pkg/domain-errors"

// ResourceKind names a retention-bearing entity class. Retention policies,
// audit entries, and sweep reports are keyed by kind.
type ResourceKind string

const (
	ResourceDocuments     ResourceKind = "documents"
	ResourceChatMessages  ResourceKind = "chat_messages"
	ResourcePIIDetections ResourceKind = "pii_detections"
	ResourceAuditLog      ResourceKind = "audit_log"
	ResourceConsent       ResourceKind = "consent_records"
)

var validResourceKinds = map[ResourceKind]bool{
	ResourceDocuments:     true,
	ResourceChatMessages:  true,
	ResourcePIIDetections: true,
	ResourceAuditLog:      true,
	ResourceConsent:       true,
}

// SweepableResourceKinds lists kinds the retention enforcer visits, in sweep
// order. Consent records are deliberately absent: the consent timeline is
// never deleted, only superseded. PII detections are absent because they only
// die by cascade from their owning entity.
func SweepableResourceKinds() []ResourceKind {
	return []ResourceKind{
		ResourceChatMessages,
		ResourceDocuments,
		ResourceAuditLog,
	}
}

// ParseResourceKind constructs a ResourceKind from external input.
//
// Errors: CodeInvalidInput when the value is empty or unknown.
func ParseResourceKind(s string) (ResourceKind, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "resource kind cannot be empty")
	}
	k := ResourceKind(s)
	if !validResourceKinds[k] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid resource kind: "+s)
	}
	return k, nil
}

// IsValid checks if the kind is one of the supported enum values.
func (k ResourceKind) IsValid() bool { return validResourceKinds[k] }

// String returns the string representation of the kind.
func (k ResourceKind) String() string { return string(k) }
