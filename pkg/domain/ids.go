package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "tacita/pkg/domain-errors"
)

// SubjectID identifies the local principal whose data is processed. The system
// assumes a single human operator, so this is a stable opaque string rather
// than a UUID; it still gets validated at trust boundaries.
type SubjectID string

const maxSubjectIDLen = 128

// ParseSubjectID constructs a SubjectID from external input.
//
// Errors: CodeInvalidInput when the value is empty, blank, or too long.
func ParseSubjectID(s string) (SubjectID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject id cannot be empty")
	}
	if len(trimmed) > maxSubjectIDLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject id too long")
	}
	return SubjectID(trimmed), nil
}

func (s SubjectID) String() string { return string(s) }

// IsNil returns true when no subject is set.
func (s SubjectID) IsNil() bool { return s == "" }

// DocumentID identifies a stored document.
type DocumentID uuid.UUID

// MessageID identifies a stored chat message.
type MessageID uuid.UUID

// LogID identifies an audit log entry.
type LogID uuid.UUID

// NewDocumentID returns a fresh random document ID.
func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }

// NewMessageID returns a fresh random message ID.
func NewMessageID() MessageID { return MessageID(uuid.New()) }

// NewLogID returns a fresh random audit log ID.
func NewLogID() LogID { return LogID(uuid.New()) }

// ParseDocumentID validates and returns a DocumentID.
//
// Errors: CodeInvalidInput when the value is empty, malformed, or the nil UUID.
func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID(s, "document id")
	return DocumentID(u), err
}

// ParseMessageID validates and returns a MessageID.
func ParseMessageID(s string) (MessageID, error) {
	u, err := parseUUID(s, "message id")
	return MessageID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be the nil uuid")
	}
	return u, nil
}

func (d DocumentID) String() string { return uuid.UUID(d).String() }
func (d DocumentID) IsNil() bool    { return uuid.UUID(d) == uuid.Nil }

func (m MessageID) String() string { return uuid.UUID(m).String() }
func (m MessageID) IsNil() bool    { return uuid.UUID(m) == uuid.Nil }

func (l LogID) String() string { return uuid.UUID(l).String() }
func (l LogID) IsNil() bool    { return uuid.UUID(l) == uuid.Nil }
