package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tacita/internal/audit"
	"tacita/internal/consent"
	"tacita/internal/detect"
	"tacita/internal/docstore"
	"tacita/internal/messages"
	"tacita/internal/platform/metrics"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
)

// ResourceHint tells the ingest entry point which store the text is
// bound for.
type ResourceHint string

const (
	HintDocument    ResourceHint = "document"
	HintChatMessage ResourceHint = "chat_message"
)

// IngestRequest is the single inbound surface for both the chat layer
// and the document-upload layer. Text arrives already extracted;
// Filename and MIMEType are metadata only and ignored for chat.
type IngestRequest struct {
	SubjectID domain.SubjectID
	Hint      ResourceHint
	Text      string
	Filename  string
	MIMEType  string
	Redact    bool
}

// IngestResult reports what was admitted.
type IngestResult struct {
	Kind           domain.ResourceKind
	ResourceID     string
	DetectionCount int
	Degraded       bool
	ExpiresAt      time.Time
}

// StructuredExport is the subject's complete data snapshot for the
// portability download. Chunk text and embeddings are deliberately
// absent: message content and document metadata cover what the
// subject provided.
type StructuredExport struct {
	SubjectID      domain.SubjectID
	GeneratedAt    time.Time
	ConsentHistory []consent.Record
	Documents      []docstore.Document
	Messages       []messages.Message
	AuditTrail     []audit.Entry
}

// Service is the ordered front door: consent gate, then detection and
// persistence through the owning store, then audit. The audit write is
// synchronous; an operation whose audit entry could not be written is
// reported failed even when the data write committed.
type Service struct {
	consent *consent.Service
	docs    *docstore.Service
	msgs    *messages.Service
	auditor *audit.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewService(consentSvc *consent.Service, docs *docstore.Service, msgs *messages.Service, auditor *audit.Service, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		consent: consentSvc,
		docs:    docs,
		msgs:    msgs,
		auditor: auditor,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("tacita/pipeline"),
	}
}

// Ingest admits one piece of extracted text. Order is fixed: consent
// check, detection, persist, audit. Consent is re-checked at the
// owning service's commit step so a withdrawal racing a slow
// detection aborts the write.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Ingest",
		trace.WithAttributes(attribute.String("hint", string(req.Hint))))
	defer span.End()

	kind, purpose, err := resolveHint(req.Hint)
	if err != nil {
		return IngestResult{}, err
	}
	if req.SubjectID.IsNil() {
		return IngestResult{}, dErrors.New(dErrors.CodeInvalidInput, "subject id is required")
	}

	if err := s.consent.Require(ctx, req.SubjectID, purpose); err != nil {
		s.metrics.ConsentDenials.Inc()
		s.metrics.IngestsTotal.WithLabelValues(kind.String(), "rejected").Inc()
		s.recordRejection(ctx, req.SubjectID, kind, audit.ActionIngestRejected, err)
		return IngestResult{}, err
	}

	gate := func(ctx context.Context) error {
		if err := s.consent.Require(ctx, req.SubjectID, purpose); err != nil {
			s.recordRejection(ctx, req.SubjectID, kind, audit.ActionIngestAborted, err)
			return err
		}
		return nil
	}

	var result IngestResult
	switch kind {
	case domain.ResourceDocuments:
		result, err = s.ingestDocument(ctx, req, gate)
	case domain.ResourceChatMessages:
		result, err = s.ingestMessage(ctx, req, gate)
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeCapacityExceeded) {
			s.metrics.CapacityRejections.Inc()
			s.recordRejection(ctx, req.SubjectID, kind, audit.ActionIngestRejected, err)
		}
		s.metrics.IngestsTotal.WithLabelValues(kind.String(), "failure").Inc()
		return IngestResult{}, err
	}

	s.metrics.IngestsTotal.WithLabelValues(kind.String(), "success").Inc()
	if result.Degraded {
		s.metrics.DetectionDegraded.Inc()
	}
	return result, nil
}

func (s *Service) ingestDocument(ctx context.Context, req IngestRequest, gate func(context.Context) error) (IngestResult, error) {
	// Remote embedding ships chunk text off host, so it needs its own
	// grant. Absence falls back to the local embedder, never an error.
	allowRemote := s.consent.Check(ctx, req.SubjectID, domain.ConsentPurposeRemoteInference)

	added, err := s.docs.AddDocument(ctx, docstore.AddRequest{
		SubjectID:   req.SubjectID,
		Filename:    req.Filename,
		MIMEType:    req.MIMEType,
		Text:        req.Text,
		Redact:      req.Redact,
		AllowRemote: allowRemote,
		Gate:        gate,
	})
	if err != nil {
		return IngestResult{}, err
	}
	s.countDetections(added.Detections)

	if _, err := s.auditor.Record(ctx, audit.Entry{
		SubjectID:    req.SubjectID,
		Action:       audit.ActionDocumentAdded,
		ResourceKind: domain.ResourceDocuments,
		ResourceID:   added.Document.ID.String(),
		Outcome:      audit.OutcomeSuccess,
		Detail: map[string]any{
			"detections": len(added.Detections),
			"chunks":     added.Document.ChunkCount,
			"degraded":   added.Degraded,
			"redacted":   req.Redact,
		},
	}); err != nil {
		return IngestResult{}, err
	}

	return IngestResult{
		Kind:           domain.ResourceDocuments,
		ResourceID:     added.Document.ID.String(),
		DetectionCount: len(added.Detections),
		Degraded:       added.Degraded,
		ExpiresAt:      added.Document.RetentionExpiresAt,
	}, nil
}

func (s *Service) ingestMessage(ctx context.Context, req IngestRequest, gate func(context.Context) error) (IngestResult, error) {
	added, err := s.msgs.AddMessage(ctx, messages.AddRequest{
		SubjectID: req.SubjectID,
		Text:      req.Text,
		Redact:    req.Redact,
		Gate:      gate,
	})
	if err != nil {
		return IngestResult{}, err
	}
	s.countDetections(added.Detections)

	if _, err := s.auditor.Record(ctx, audit.Entry{
		SubjectID:    req.SubjectID,
		Action:       audit.ActionMessageAdded,
		ResourceKind: domain.ResourceChatMessages,
		ResourceID:   added.Message.ID.String(),
		Outcome:      audit.OutcomeSuccess,
		Detail: map[string]any{
			"detections": len(added.Detections),
			"degraded":   added.Degraded,
			"redacted":   req.Redact,
		},
	}); err != nil {
		return IngestResult{}, err
	}

	return IngestResult{
		Kind:           domain.ResourceChatMessages,
		ResourceID:     added.Message.ID.String(),
		DetectionCount: len(added.Detections),
		Degraded:       added.Degraded,
		ExpiresAt:      added.Message.RetentionExpiresAt,
	}, nil
}

// Search serves the retrieval layer. Results are chunk texts with
// similarity scores, already filtered by the similarity floor.
func (s *Service) Search(ctx context.Context, query string, k int) ([]docstore.SearchHit, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Search")
	defer span.End()

	hits, err := s.docs.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	s.metrics.SearchesTotal.Inc()
	return hits, nil
}

// DeleteDocument removes a document through its cascade and audits
// the deletion.
func (s *Service) DeleteDocument(ctx context.Context, subject domain.SubjectID, id domain.DocumentID) error {
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}
	_, err := s.auditor.Record(ctx, audit.Entry{
		SubjectID:    subject,
		Action:       audit.ActionDocumentDeleted,
		ResourceKind: domain.ResourceDocuments,
		ResourceID:   id.String(),
		Outcome:      audit.OutcomeSuccess,
	})
	return err
}

// ExportSubjectData assembles the subject's complete snapshot for the
// data-portability download and audits the export.
func (s *Service) ExportSubjectData(ctx context.Context, subject domain.SubjectID) (StructuredExport, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.ExportSubjectData")
	defer span.End()

	history, err := s.consent.History(ctx, subject)
	if err != nil {
		return StructuredExport{}, err
	}
	docs, err := s.docs.ListBySubject(ctx, subject)
	if err != nil {
		return StructuredExport{}, err
	}
	msgs, err := s.msgs.ListBySubject(ctx, subject)
	if err != nil {
		return StructuredExport{}, err
	}
	trail, err := s.auditor.Query(ctx, audit.Filter{SubjectID: subject})
	if err != nil {
		return StructuredExport{}, err
	}

	export := StructuredExport{
		SubjectID:      subject,
		GeneratedAt:    time.Now().UTC(),
		ConsentHistory: history,
		Documents:      docs,
		Messages:       msgs,
		AuditTrail:     trail,
	}

	if _, err := s.auditor.Record(ctx, audit.Entry{
		SubjectID: subject,
		Action:    audit.ActionExportGenerated,
		Outcome:   audit.OutcomeSuccess,
		Detail: map[string]any{
			"documents": len(docs),
			"messages":  len(msgs),
		},
	}); err != nil {
		return StructuredExport{}, err
	}
	return export, nil
}

// AuditHistory returns the subject's audit trail for the transparency
// view.
func (s *Service) AuditHistory(ctx context.Context, subject domain.SubjectID, limit int) ([]audit.Entry, error) {
	return s.auditor.Query(ctx, audit.Filter{SubjectID: subject, Limit: limit})
}

// ComplianceReport aggregates audit entry counts by action and outcome
// over a time window.
func (s *Service) ComplianceReport(ctx context.Context, from, to time.Time) ([]audit.ReportRow, error) {
	return s.auditor.Report(ctx, from, to)
}

func (s *Service) countDetections(found []detect.Detection) {
	for _, d := range found {
		s.metrics.DetectionsTotal.WithLabelValues(string(d.Kind)).Inc()
	}
}

func (s *Service) recordRejection(ctx context.Context, subject domain.SubjectID, kind domain.ResourceKind, action audit.Action, cause error) {
	if _, err := s.auditor.Record(ctx, audit.Entry{
		SubjectID:    subject,
		Action:       action,
		ResourceKind: kind,
		Outcome:      audit.OutcomeFailure,
		Detail: map[string]any{
			"code":   string(dErrors.CodeOf(cause)),
			"reason": dErrors.MessageOf(cause),
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "rejection audit entry failed", "error", err)
	}
}

func resolveHint(hint ResourceHint) (domain.ResourceKind, domain.ConsentPurpose, error) {
	switch hint {
	case HintDocument:
		return domain.ResourceDocuments, domain.ConsentPurposeDocuments, nil
	case HintChatMessage:
		return domain.ResourceChatMessages, domain.ConsentPurposeChatStorage, nil
	default:
		return "", "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown resource hint %q", hint)
	}
}
