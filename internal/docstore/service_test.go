package docstore

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tacita/internal/detect"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/tx"
)

type DocServiceSuite struct {
	suite.Suite
	ctx        context.Context
	store      *InMemoryStore
	detections *detect.InMemoryRecordStore
	index      *VecIndex
	service    *Service
}

func (s *DocServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
	s.detections = detect.NewInMemoryRecordStore()
	s.index = NewVecIndex()
	s.service = s.newService(3)
}

func (s *DocServiceSuite) newService(ceiling int64) *Service {
	return NewService(ServiceParams{
		Store:         s.store,
		Detections:    s.detections,
		Engine:        detect.NewEngine(nil, detect.DefaultOptions()),
		Embedder:      NewLocalEmbedder(128),
		Index:         s.index,
		Runner:        tx.NoopRunner{},
		Chunker:       NewChunker(200, 100, 20),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Ceiling:       ceiling,
		MinSimilarity: 0.01,
		DefaultTTL:    time.Hour,
	})
}

func TestDocServiceSuite(t *testing.T) {
	suite.Run(t, new(DocServiceSuite))
}

// recordingEmbedder stands in for a remote backend and keeps every text it
// was asked to embed.
type recordingEmbedder struct {
	*LocalEmbedder
	mu    sync.Mutex
	texts []string
}

func (e *recordingEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	return e.LocalEmbedder.EmbedDocument(ctx, text)
}

func (e *recordingEmbedder) Name() string { return "recording" }

func (e *recordingEmbedder) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func (s *DocServiceSuite) TestRemoteEmbedderRequiresGrant() {
	remote := &recordingEmbedder{LocalEmbedder: NewLocalEmbedder(128)}
	s.service = NewService(ServiceParams{
		Store:         s.store,
		Detections:    s.detections,
		Engine:        detect.NewEngine(nil, detect.DefaultOptions()),
		Embedder:      NewLocalEmbedder(128),
		Remote:        remote,
		Index:         s.index,
		Runner:        tx.NoopRunner{},
		Chunker:       NewChunker(200, 100, 20),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Ceiling:       10,
		MinSimilarity: 0.01,
		DefaultTTL:    time.Hour,
	})

	secret := "confidential SSN: 123-45-6789 belongs to the applicant"

	s.Run("without the grant text stays on host", func() {
		_, err := s.service.AddDocument(s.ctx, AddRequest{SubjectID: "u1", Text: secret})
		s.Require().NoError(err)
		s.Empty(remote.seen())
	})

	s.Run("with the grant the remote backend embeds", func() {
		_, err := s.service.AddDocument(s.ctx, AddRequest{SubjectID: "u1", Text: secret, AllowRemote: true})
		s.Require().NoError(err)
		s.NotEmpty(remote.seen())
	})
}

func (s *DocServiceSuite) add(text string) AddResult {
	res, err := s.service.AddDocument(s.ctx, AddRequest{
		SubjectID: "u1",
		Filename:  "note.txt",
		MIMEType:  "text/plain",
		Text:      text,
	})
	s.Require().NoError(err)
	return res
}

func (s *DocServiceSuite) TestCapacityCeiling() {
	for i := 0; i < 3; i++ {
		s.add("document body " + strings.Repeat("x", i))
	}
	s.Equal(int64(3), s.service.Count())

	_, err := s.service.AddDocument(s.ctx, AddRequest{SubjectID: "u1", Text: "one too many"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeCapacityExceeded))

	count, storeErr := s.store.Count(s.ctx)
	s.Require().NoError(storeErr)
	s.Equal(int64(3), count)
}

func (s *DocServiceSuite) TestDetectionRecordsOmitValues() {
	text := "intake form lists SSN: 123-45-6789 for the applicant"
	res := s.add(text)
	s.Require().Len(res.Detections, 1)
	s.GreaterOrEqual(res.Detections[0].Confidence, 0.85)

	records, err := s.detections.ListBySource(s.ctx, domain.ResourceDocuments, res.Document.ID.String())
	s.Require().NoError(err)
	s.Require().Len(records, 1)

	rec := records[0]
	s.Equal(detect.EntitySSN, rec.Kind)
	s.Equal("123-45-6789", text[rec.SpanStart:rec.SpanEnd])
}

func (s *DocServiceSuite) TestRedactionScrubsPersistedChunks() {
	res, err := s.service.AddDocument(s.ctx, AddRequest{
		SubjectID: "u1",
		Text:      "intake form lists SSN: 123-45-6789 for the applicant",
		Redact:    true,
	})
	s.Require().NoError(err)

	chunks, err := s.store.Chunks(s.ctx, res.Document.ID)
	s.Require().NoError(err)
	s.Require().NotEmpty(chunks)
	for _, c := range chunks {
		s.NotContains(c.Text, "123-45-6789")
	}
}

func (s *DocServiceSuite) TestCascadingDelete() {
	res := s.add("delete me, my SSN: 123-45-6789 included")
	id := res.Document.ID
	s.Greater(s.index.Len(), 0)

	s.Require().NoError(s.service.Delete(s.ctx, id))

	_, err := s.store.Get(s.ctx, id)
	s.Require().Error(err)

	records, err := s.detections.ListBySource(s.ctx, domain.ResourceDocuments, id.String())
	s.Require().NoError(err)
	s.Empty(records)

	s.Equal(0, s.index.Len())
	s.Equal(int64(0), s.service.Count())
}

func (s *DocServiceSuite) TestDeleteUnknownDocument() {
	err := s.service.Delete(s.ctx, domain.NewDocumentID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *DocServiceSuite) TestGateAbortsBeforePersistence() {
	denied := dErrors.New(dErrors.CodeConsentDenied, "consent withdrawn mid-flight")
	_, err := s.service.AddDocument(s.ctx, AddRequest{
		SubjectID: "u1",
		Text:      "text that was already scanned and embedded",
		Gate:      func(context.Context) error { return denied },
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConsentDenied))

	count, storeErr := s.store.Count(s.ctx)
	s.Require().NoError(storeErr)
	s.Equal(int64(0), count)
	s.Equal(0, s.index.Len())
	s.Equal(int64(0), s.service.Count())
}

func (s *DocServiceSuite) TestSearchReturnsRelevantChunks() {
	solar := s.add("solar panels convert sunlight into electricity for the grid")
	s.add("medieval castles used moats and drawbridges for defense")

	hits, err := s.service.Search(s.ctx, "solar electricity sunlight", 5)
	s.Require().NoError(err)
	s.Require().NotEmpty(hits)
	s.Equal(solar.Document.ID, hits[0].Ref.DocumentID)
	s.Contains(hits[0].Text, "solar")
}

func (s *DocServiceSuite) TestWarmRebuildsIndexAndCount() {
	first := s.add("warm start document about solar power")
	s.add("second document about castle history")

	rebuilt := NewVecIndex()
	s.index = rebuilt
	fresh := s.newService(3)
	s.Require().NoError(fresh.Warm(s.ctx))

	s.Equal(int64(2), fresh.Count())
	s.Greater(rebuilt.Len(), 0)

	hits, err := fresh.Search(s.ctx, "solar power", 1)
	s.Require().NoError(err)
	s.Require().Len(hits, 1)
	s.Equal(first.Document.ID, hits[0].Ref.DocumentID)
}
