package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"tacita/internal/audit"
	"tacita/internal/consent"
	"tacita/internal/detect"
	"tacita/internal/docstore"
	"tacita/internal/messages"
	"tacita/internal/pipeline"
	"tacita/internal/platform/metrics"
	"tacita/internal/retention"
	"tacita/pkg/domain"
	"tacita/pkg/platform/tx"
)

type IngestHandlerSuite struct {
	suite.Suite
	ctx      context.Context
	docStore *docstore.InMemoryStore
	consent  *consent.Service
	handler  *Handler
}

func (s *IngestHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := detect.NewEngine(nil, detect.DefaultOptions())

	auditor := audit.NewService(audit.NewInMemoryStore(), logger, time.Hour)
	s.consent = consent.NewService(consent.NewInMemoryStore(), auditor, tx.NoopRunner{}, logger)

	detections := detect.NewInMemoryRecordStore()
	s.docStore = docstore.NewInMemoryStore()
	docs := docstore.NewService(docstore.ServiceParams{
		Store:         s.docStore,
		Detections:    detections,
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
	msgStore := messages.NewInMemoryStore()
	msgs := messages.NewService(msgStore, detections, engine, tx.NoopRunner{}, logger, time.Hour)

	m := metrics.New(prometheus.NewRegistry())
	enforcer := retention.NewEnforcer(
		retention.NewInMemoryPolicyStore(),
		docs, msgs, auditor,
		func(context.Context) error { return nil },
		logger, m,
	)
	pipe := pipeline.NewService(s.consent, docs, msgs, auditor, m, logger)
	s.handler = NewHandler(pipe, s.consent, enforcer, true, logger)
}

func TestIngestHandlerSuite(t *testing.T) {
	suite.Run(t, new(IngestHandlerSuite))
}

func (s *IngestHandlerSuite) ingest(body map[string]any) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.Router().ServeHTTP(rec, req)
	return rec
}

func (s *IngestHandlerSuite) chunksFor(rec *httptest.ResponseRecorder) []docstore.Chunk {
	var resp struct {
		ResourceID string `json:"resource_id"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	id, err := domain.ParseDocumentID(resp.ResourceID)
	s.Require().NoError(err)
	chunks, err := s.docStore.Chunks(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotEmpty(chunks)
	return chunks
}

func (s *IngestHandlerSuite) TestRedactDefault() {
	_, err := s.consent.Grant(s.ctx, "u1", domain.ConsentPurposeDocuments, "policy-v1", consent.Evidence{})
	s.Require().NoError(err)

	s.Run("absent redact field applies the configured default", func() {
		rec := s.ingest(map[string]any{
			"subject_id":    "u1",
			"resource_hint": "document",
			"text":          "intake form lists SSN: 123-45-6789 for the applicant",
		})
		s.Require().Equal(http.StatusCreated, rec.Code)
		for _, c := range s.chunksFor(rec) {
			s.NotContains(c.Text, "123-45-6789")
		}
	})

	s.Run("explicit false overrides the default", func() {
		rec := s.ingest(map[string]any{
			"subject_id":    "u1",
			"resource_hint": "document",
			"text":          "second form lists SSN: 123-45-6789 for the applicant",
			"redact":        false,
		})
		s.Require().Equal(http.StatusCreated, rec.Code)
		var found bool
		for _, c := range s.chunksFor(rec) {
			if bytes.Contains([]byte(c.Text), []byte("123-45-6789")) {
				found = true
			}
		}
		s.True(found)
	})

	s.Run("consent is still required", func() {
		rec := s.ingest(map[string]any{
			"subject_id":    "u2",
			"resource_hint": "document",
			"text":          "no grant for this subject",
		})
		s.Equal(http.StatusForbidden, rec.Code)
	})
}
