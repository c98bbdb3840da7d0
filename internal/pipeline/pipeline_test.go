package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"tacita/internal/audit"
	"tacita/internal/consent"
	"tacita/internal/detect"
	"tacita/internal/docstore"
	"tacita/internal/messages"
	"tacita/internal/platform/metrics"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/tx"
)

type PipelineSuite struct {
	suite.Suite
	ctx        context.Context
	docStore   *docstore.InMemoryStore
	msgStore   *messages.InMemoryStore
	auditStore *audit.InMemoryStore
	detections *detect.InMemoryRecordStore
	consent    *consent.Service
	service    *Service
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := detect.NewEngine(nil, detect.DefaultOptions())

	s.auditStore = audit.NewInMemoryStore()
	auditor := audit.NewService(s.auditStore, logger, time.Hour)
	s.consent = consent.NewService(consent.NewInMemoryStore(), auditor, tx.NoopRunner{}, logger)

	s.detections = detect.NewInMemoryRecordStore()
	s.docStore = docstore.NewInMemoryStore()
	docs := docstore.NewService(docstore.ServiceParams{
		Store:         s.docStore,
		Detections:    s.detections,
		Engine:        engine,
		Embedder:      docstore.NewLocalEmbedder(64),
		Index:         docstore.NewVecIndex(),
		Runner:        tx.NoopRunner{},
		Chunker:       docstore.NewChunker(500, 250, 50),
		Logger:        logger,
		Ceiling:       10,
		MinSimilarity: 0.01,
		DefaultTTL:    time.Hour,
	})

	s.msgStore = messages.NewInMemoryStore()
	msgs := messages.NewService(s.msgStore, s.detections, engine, tx.NoopRunner{}, logger, time.Hour)

	s.service = NewService(s.consent, docs, msgs, auditor, metrics.New(prometheus.NewRegistry()), logger)
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) grant(subject domain.SubjectID, purpose domain.ConsentPurpose) {
	_, err := s.consent.Grant(s.ctx, subject, purpose, "policy-v1", consent.Evidence{})
	s.Require().NoError(err)
}

func (s *PipelineSuite) TestIngestWithoutConsent() {
	_, err := s.service.Ingest(s.ctx, IngestRequest{
		SubjectID: "u1",
		Hint:      HintDocument,
		Text:      "a document containing SSN: 123-45-6789",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConsentDenied))

	// Denial persists nothing anywhere.
	count, storeErr := s.docStore.Count(s.ctx)
	s.Require().NoError(storeErr)
	s.Equal(int64(0), count)

	msgs, listErr := s.msgStore.ListBySubject(s.ctx, "u1")
	s.Require().NoError(listErr)
	s.Empty(msgs)

	// The rejection itself is audited.
	entries, auditErr := s.auditStore.Query(s.ctx, audit.Filter{
		SubjectID: "u1",
		Action:    audit.ActionIngestRejected,
	})
	s.Require().NoError(auditErr)
	s.Require().Len(entries, 1)
	s.Equal(audit.OutcomeFailure, entries[0].Outcome)
}

func (s *PipelineSuite) TestIngestDocument() {
	s.grant("u1", domain.ConsentPurposeDocuments)

	result, err := s.service.Ingest(s.ctx, IngestRequest{
		SubjectID: "u1",
		Hint:      HintDocument,
		Text:      "intake form lists SSN: 123-45-6789 for the applicant",
		Filename:  "intake.txt",
		MIMEType:  "text/plain",
		Redact:    true,
	})
	s.Require().NoError(err)
	s.Equal(domain.ResourceDocuments, result.Kind)
	s.Equal(1, result.DetectionCount)

	id, err := domain.ParseDocumentID(result.ResourceID)
	s.Require().NoError(err)
	chunks, err := s.docStore.Chunks(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotEmpty(chunks)
	for _, c := range chunks {
		s.NotContains(c.Text, "123-45-6789")
	}

	entries, err := s.auditStore.Query(s.ctx, audit.Filter{
		SubjectID: "u1",
		Action:    audit.ActionDocumentAdded,
	})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(result.ResourceID, entries[0].ResourceID)
}

func (s *PipelineSuite) TestWithdrawalMidSession() {
	s.grant("u1", domain.ConsentPurposeChatStorage)

	first, err := s.service.Ingest(s.ctx, IngestRequest{
		SubjectID: "u1",
		Hint:      HintChatMessage,
		Text:      "first message in the session",
	})
	s.Require().NoError(err)
	s.NotEmpty(first.ResourceID)

	s.Require().NoError(s.consent.Withdraw(s.ctx, "u1", domain.ConsentPurposeChatStorage, "changed my mind"))

	_, err = s.service.Ingest(s.ctx, IngestRequest{
		SubjectID: "u1",
		Hint:      HintChatMessage,
		Text:      "second message after withdrawal",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConsentDenied))

	msgs, err := s.msgStore.ListBySubject(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal("first message in the session", msgs[0].Content)
}

func (s *PipelineSuite) TestSearchAfterIngest() {
	s.grant("u1", domain.ConsentPurposeDocuments)

	_, err := s.service.Ingest(s.ctx, IngestRequest{
		SubjectID: "u1",
		Hint:      HintDocument,
		Text:      "solar panels convert sunlight into electricity for the grid",
	})
	s.Require().NoError(err)

	hits, err := s.service.Search(s.ctx, "solar electricity", 3)
	s.Require().NoError(err)
	s.Require().NotEmpty(hits)
	s.Contains(hits[0].Text, "solar")
}

func (s *PipelineSuite) TestExportSubjectData() {
	s.grant("u1", domain.ConsentPurposeDocuments)
	s.grant("u1", domain.ConsentPurposeChatStorage)

	_, err := s.service.Ingest(s.ctx, IngestRequest{SubjectID: "u1", Hint: HintDocument, Text: "exported document"})
	s.Require().NoError(err)
	_, err = s.service.Ingest(s.ctx, IngestRequest{SubjectID: "u1", Hint: HintChatMessage, Text: "exported message"})
	s.Require().NoError(err)

	export, err := s.service.ExportSubjectData(s.ctx, "u1")
	s.Require().NoError(err)
	s.Len(export.Documents, 1)
	s.Len(export.Messages, 1)
	s.Len(export.ConsentHistory, 2)
	s.NotEmpty(export.AuditTrail)

	entries, err := s.auditStore.Query(s.ctx, audit.Filter{
		SubjectID: "u1",
		Action:    audit.ActionExportGenerated,
	})
	s.Require().NoError(err)
	s.Len(entries, 1)
}

// offHostEmbedder plays the remote backend and records every document
// text handed to it.
type offHostEmbedder struct {
	local *docstore.LocalEmbedder
	mu    sync.Mutex
	texts []string
}

func (e *offHostEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	return e.local.EmbedDocument(ctx, text)
}

func (e *offHostEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.local.EmbedQuery(ctx, text)
}

func (e *offHostEmbedder) Name() string { return "off-host" }

func (e *offHostEmbedder) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

// rebuildWithRemote swaps in a document service that has a remote
// embedding backend configured.
func (s *PipelineSuite) rebuildWithRemote(remote *offHostEmbedder) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := detect.NewEngine(nil, detect.DefaultOptions())
	auditor := audit.NewService(s.auditStore, logger, time.Hour)
	docs := docstore.NewService(docstore.ServiceParams{
		Store:         s.docStore,
		Detections:    s.detections,
		Engine:        engine,
		Embedder:      docstore.NewLocalEmbedder(64),
		Remote:        remote,
		Index:         docstore.NewVecIndex(),
		Runner:        tx.NoopRunner{},
		Chunker:       docstore.NewChunker(500, 250, 50),
		Logger:        logger,
		Ceiling:       10,
		MinSimilarity: 0.01,
		DefaultTTL:    time.Hour,
	})
	msgs := messages.NewService(s.msgStore, s.detections, engine, tx.NoopRunner{}, logger, time.Hour)
	s.service = NewService(s.consent, docs, msgs, auditor, metrics.New(prometheus.NewRegistry()), logger)
}

func (s *PipelineSuite) TestRemoteEmbeddingNeedsItsOwnGrant() {
	remote := &offHostEmbedder{local: docstore.NewLocalEmbedder(64)}
	s.rebuildWithRemote(remote)
	s.grant("u1", domain.ConsentPurposeDocuments)

	secret := "confidential SSN: 123-45-6789 belongs to the applicant"

	// A document grant alone never ships text off host.
	_, err := s.service.Ingest(s.ctx, IngestRequest{SubjectID: "u1", Hint: HintDocument, Text: secret})
	s.Require().NoError(err)
	s.Empty(remote.seen())

	s.grant("u1", domain.ConsentPurposeRemoteInference)

	_, err = s.service.Ingest(s.ctx, IngestRequest{SubjectID: "u1", Hint: HintDocument, Text: secret})
	s.Require().NoError(err)
	s.Require().NotEmpty(remote.seen())
	s.Contains(remote.seen()[0], "123-45-6789")
}

// withdrawingDetector revokes the subject's grant while detection is in
// flight, reproducing a withdrawal that races a slow upload.
type withdrawingDetector struct {
	consent *consent.Service
	subject domain.SubjectID
	purpose domain.ConsentPurpose
}

func (d *withdrawingDetector) Detect(ctx context.Context, _ string) ([]detect.Detection, error) {
	if err := d.consent.Withdraw(ctx, d.subject, d.purpose, "mid-flight"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *withdrawingDetector) Name() string { return "withdrawing" }

func (s *PipelineSuite) TestWithdrawalDuringIngestIsAuditedAsAborted() {
	s.grant("u1", domain.ConsentPurposeDocuments)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := detect.NewEngine(&withdrawingDetector{
		consent: s.consent,
		subject: "u1",
		purpose: domain.ConsentPurposeDocuments,
	}, detect.DefaultOptions())
	auditor := audit.NewService(s.auditStore, logger, time.Hour)
	docs := docstore.NewService(docstore.ServiceParams{
		Store:         s.docStore,
		Detections:    s.detections,
		Engine:        engine,
		Embedder:      docstore.NewLocalEmbedder(64),
		Index:         docstore.NewVecIndex(),
		Runner:        tx.NoopRunner{},
		Chunker:       docstore.NewChunker(500, 250, 50),
		Logger:        logger,
		Ceiling:       10,
		MinSimilarity: 0.01,
		DefaultTTL:    time.Hour,
	})
	msgs := messages.NewService(s.msgStore, s.detections, engine, tx.NoopRunner{}, logger, time.Hour)
	s.service = NewService(s.consent, docs, msgs, auditor, metrics.New(prometheus.NewRegistry()), logger)

	// The upfront check passes, the grant disappears during detection,
	// and the commit-time re-check aborts the write.
	_, err := s.service.Ingest(s.ctx, IngestRequest{
		SubjectID: "u1",
		Hint:      HintDocument,
		Text:      "document caught by a racing withdrawal",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConsentDenied))

	count, storeErr := s.docStore.Count(s.ctx)
	s.Require().NoError(storeErr)
	s.Equal(int64(0), count)

	entries, auditErr := s.auditStore.Query(s.ctx, audit.Filter{
		SubjectID: "u1",
		Action:    audit.ActionIngestAborted,
	})
	s.Require().NoError(auditErr)
	s.Require().Len(entries, 1)
	s.Equal(audit.OutcomeFailure, entries[0].Outcome)
}

func (s *PipelineSuite) TestUnknownHint() {
	_, err := s.service.Ingest(s.ctx, IngestRequest{SubjectID: "u1", Hint: "spreadsheet", Text: "x"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
