package domain

import dErrors "tacita/pkg/domain-errors"

// ConsentPurpose is a domain value that identifies why data is processed.
// Invariant: the value must be one of the supported consent purposes.
//
// Usage: construct via ParseConsentPurpose at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type ConsentPurpose string

// Supported consent purposes. Each purpose requires its own independent grant;
// there is no implicit "default granted" purpose and no purpose implies
// another.
const (
	ConsentPurposeChatStorage     ConsentPurpose = "chat_storage"
	ConsentPurposeDocuments       ConsentPurpose = "document_processing"
	ConsentPurposePIIEnhancement  ConsentPurpose = "pii_enhancement"
	ConsentPurposeAnalytics       ConsentPurpose = "analytics"
	ConsentPurposeRemoteInference ConsentPurpose = "remote_inference"
)

// validConsentPurposes is the single source of truth for valid consent purposes.
var validConsentPurposes = map[ConsentPurpose]bool{
	ConsentPurposeChatStorage:     true,
	ConsentPurposeDocuments:       true,
	ConsentPurposePIIEnhancement:  true,
	ConsentPurposeAnalytics:       true,
	ConsentPurposeRemoteInference: true,
}

// AllConsentPurposes lists the supported purposes in a stable order, for
// enumeration in exports and transparency views.
func AllConsentPurposes() []ConsentPurpose {
	return []ConsentPurpose{
		ConsentPurposeChatStorage,
		ConsentPurposeDocuments,
		ConsentPurposePIIEnhancement,
		ConsentPurposeAnalytics,
		ConsentPurposeRemoteInference,
	}
}

// ParseConsentPurpose constructs a ConsentPurpose from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported; no
// other errors are expected.
func ParseConsentPurpose(s string) (ConsentPurpose, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "purpose cannot be empty")
	}
	p := ConsentPurpose(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid purpose: "+s)
	}
	return p, nil
}

// IsValid checks if the consent purpose is one of the supported enum values.
func (p ConsentPurpose) IsValid() bool {
	return validConsentPurposes[p]
}

// String returns the string representation of the purpose.
func (p ConsentPurpose) String() string {
	return string(p)
}
