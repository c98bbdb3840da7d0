package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"tacita/internal/audit"
	"tacita/internal/detect"
	"tacita/internal/docstore"
	"tacita/internal/messages"
	"tacita/internal/platform/metrics"
	"tacita/pkg/domain"
	"tacita/pkg/platform/tx"
)

type EnforcerSuite struct {
	suite.Suite
	ctx        context.Context
	docStore   *docstore.InMemoryStore
	msgStore   *messages.InMemoryStore
	auditStore *audit.InMemoryStore
	policies   *InMemoryPolicyStore
	docs       *docstore.Service
	msgs       *messages.Service
	enforcer   *Enforcer
	reclaims   int
}

func (s *EnforcerSuite) SetupTest() {
	s.ctx = context.Background()
	s.reclaims = 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := detect.NewEngine(nil, detect.DefaultOptions())
	detections := detect.NewInMemoryRecordStore()

	s.docStore = docstore.NewInMemoryStore()
	s.docs = docstore.NewService(docstore.ServiceParams{
		Store:         s.docStore,
		Detections:    detections,
		Engine:        engine,
		Embedder:      docstore.NewLocalEmbedder(64),
		Index:         docstore.NewVecIndex(),
		Runner:        tx.NoopRunner{},
		Chunker:       docstore.NewChunker(200, 100, 20),
		Logger:        logger,
		Ceiling:       100,
		MinSimilarity: 0.01,
		DefaultTTL:    time.Second,
	})

	s.msgStore = messages.NewInMemoryStore()
	s.msgs = messages.NewService(s.msgStore, detections, engine, tx.NoopRunner{}, logger, time.Second)

	s.auditStore = audit.NewInMemoryStore()
	auditor := audit.NewService(s.auditStore, logger, time.Hour)

	s.policies = NewInMemoryPolicyStore()
	s.enforcer = NewEnforcer(
		s.policies,
		s.docs,
		s.msgs,
		auditor,
		func(context.Context) error { s.reclaims++; return nil },
		logger,
		metrics.New(prometheus.NewRegistry()),
	)
}

func TestEnforcerSuite(t *testing.T) {
	suite.Run(t, new(EnforcerSuite))
}

func (s *EnforcerSuite) seedAll(ttl time.Duration) {
	s.Require().NoError(s.enforcer.SeedPolicies(s.ctx, []Policy{
		{Kind: domain.ResourceDocuments, TTL: ttl, AutoDelete: true},
		{Kind: domain.ResourceChatMessages, TTL: ttl, AutoDelete: true},
		{Kind: domain.ResourceAuditLog, TTL: 48 * time.Hour, AutoDelete: true},
	}))
}

func (s *EnforcerSuite) kindResult(report SweepReport, kind domain.ResourceKind) KindResult {
	for _, k := range report.Kinds {
		if k.Kind == kind {
			return k
		}
	}
	s.FailNowf("kind missing from report", "%s", kind)
	return KindResult{}
}

func (s *EnforcerSuite) TestSweepDeletesExpiredEntities() {
	s.seedAll(time.Second)

	added, err := s.docs.AddDocument(s.ctx, docstore.AddRequest{SubjectID: "u1", Text: "expires almost immediately"})
	s.Require().NoError(err)

	// Document TTL is one second; wait for it to lapse.
	time.Sleep(1100 * time.Millisecond)

	report, err := s.enforcer.RunSweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), s.kindResult(report, domain.ResourceDocuments).Deleted)

	_, err = s.docStore.Get(s.ctx, added.Document.ID)
	s.Require().Error(err)

	chunks, err := s.docStore.Chunks(s.ctx, added.Document.ID)
	s.Require().NoError(err)
	s.Empty(chunks)

	entries, err := s.auditStore.Query(s.ctx, audit.Filter{
		Action:       audit.ActionRetentionSweep,
		ResourceKind: domain.ResourceDocuments,
	})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.OutcomeSuccess, entries[0].Outcome)

	s.Equal(1, s.reclaims)
}

func (s *EnforcerSuite) TestSweepIsIdempotent() {
	s.seedAll(time.Second)

	_, err := s.msgs.AddMessage(s.ctx, messages.AddRequest{SubjectID: "u1", Text: "transient"})
	s.Require().NoError(err)
	time.Sleep(1100 * time.Millisecond)

	first, err := s.enforcer.RunSweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), first.TotalDeleted())

	second, err := s.enforcer.RunSweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), second.TotalDeleted())
}

func (s *EnforcerSuite) TestUnexpiredEntitiesSurvive() {
	s.seedAll(time.Hour)

	_, err := s.docs.AddDocument(s.ctx, docstore.AddRequest{SubjectID: "u1", Text: "long lived document"})
	s.Require().NoError(err)

	report, err := s.enforcer.RunSweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), report.TotalDeleted())

	count, err := s.docStore.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *EnforcerSuite) TestAutoDeleteOffSkipsKind() {
	s.Require().NoError(s.policies.Upsert(s.ctx, Policy{
		Kind: domain.ResourceDocuments, TTL: time.Second, AutoDelete: false,
	}))

	_, err := s.docs.AddDocument(s.ctx, docstore.AddRequest{SubjectID: "u1", Text: "kept despite expiry"})
	s.Require().NoError(err)
	time.Sleep(1100 * time.Millisecond)

	report, err := s.enforcer.RunSweep(s.ctx)
	s.Require().NoError(err)
	result := s.kindResult(report, domain.ResourceDocuments)
	s.True(result.Skipped)
	s.Equal(int64(0), result.Deleted)
}

func (s *EnforcerSuite) TestSweepCancellationBetweenKinds() {
	s.seedAll(time.Second)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.enforcer.RunSweep(ctx)
	s.Require().Error(err)
}

func (s *EnforcerSuite) TestEraseSubject() {
	s.seedAll(time.Hour)

	_, err := s.docs.AddDocument(s.ctx, docstore.AddRequest{SubjectID: "u1", Text: "subject document"})
	s.Require().NoError(err)
	_, err = s.msgs.AddMessage(s.ctx, messages.AddRequest{SubjectID: "u1", Text: "subject message"})
	s.Require().NoError(err)
	kept, err := s.docs.AddDocument(s.ctx, docstore.AddRequest{SubjectID: "u2", Text: "other subject document"})
	s.Require().NoError(err)

	report, err := s.enforcer.EraseSubject(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(2), report.TotalDeleted())

	docs, err := s.docStore.ListBySubject(s.ctx, "u1")
	s.Require().NoError(err)
	s.Empty(docs)

	msgs, err := s.msgStore.ListBySubject(s.ctx, "u1")
	s.Require().NoError(err)
	s.Empty(msgs)

	_, err = s.docStore.Get(s.ctx, kept.Document.ID)
	s.Require().NoError(err)

	perEntity, err := s.auditStore.Query(s.ctx, audit.Filter{
		SubjectID: "u1",
		Action:    audit.ActionDocumentDeleted,
	})
	s.Require().NoError(err)
	s.Len(perEntity, 1)

	summaries, err := s.auditStore.Query(s.ctx, audit.Filter{
		SubjectID: "u1",
		Action:    audit.ActionSubjectErased,
	})
	s.Require().NoError(err)
	s.Len(summaries, 2)
}

func (s *EnforcerSuite) TestSetPolicyRestampsExpiry() {
	s.seedAll(time.Hour)

	added, err := s.docs.AddDocument(s.ctx, docstore.AddRequest{SubjectID: "u1", Text: "restamp target"})
	s.Require().NoError(err)

	s.Require().NoError(s.enforcer.SetPolicy(s.ctx, Policy{
		Kind: domain.ResourceDocuments, TTL: 10 * time.Hour, AutoDelete: true,
	}))

	doc, err := s.docStore.Get(s.ctx, added.Document.ID)
	s.Require().NoError(err)
	s.WithinDuration(doc.CreatedAt.Add(10*time.Hour), doc.RetentionExpiresAt, time.Second)

	policy, err := s.policies.Get(s.ctx, domain.ResourceDocuments)
	s.Require().NoError(err)
	s.Equal(10*time.Hour, policy.TTL)
}
