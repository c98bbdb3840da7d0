package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
)

// flakyStore fails the first n appends, then delegates to the real store.
type flakyStore struct {
	*InMemoryStore
	failures int
}

func (s *flakyStore) Append(ctx context.Context, entry Entry) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("database is locked")
	}
	return s.InMemoryStore.Append(ctx, entry)
}

type AuditServiceSuite struct {
	suite.Suite
	ctx    context.Context
	store  *InMemoryStore
	logger *slog.Logger
}

func (s *AuditServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditServiceSuite(t *testing.T) {
	suite.Run(t, new(AuditServiceSuite))
}

func (s *AuditServiceSuite) TestRecord() {
	service := NewService(s.store, s.logger, time.Hour)

	s.Run("fills id and timestamp", func() {
		id, err := service.Record(s.ctx, Entry{
			SubjectID: "u1",
			Action:    ActionDocumentAdded,
			Outcome:   OutcomeSuccess,
		})
		s.Require().NoError(err)
		s.False(id.IsNil())

		entries, err := service.Query(s.ctx, Filter{SubjectID: "u1"})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.False(entries[0].Timestamp.IsZero())
	})

	s.Run("retries once on transient failure", func() {
		flaky := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 1}
		retried := NewService(flaky, s.logger, time.Hour)

		_, err := retried.Record(s.ctx, Entry{Action: ActionRetentionSweep, Outcome: OutcomeSuccess})
		s.Require().NoError(err)
	})

	s.Run("persistent failure is fatal to the operation", func() {
		flaky := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 2}
		failing := NewService(flaky, s.logger, time.Hour)

		_, err := failing.Record(s.ctx, Entry{Action: ActionRetentionSweep, Outcome: OutcomeSuccess})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAuditWriteFailure))
	})
}

func (s *AuditServiceSuite) TestQuery() {
	service := NewService(s.store, s.logger, time.Hour)
	base := time.Now().Add(-time.Minute)
	for i, action := range []Action{ActionConsentGranted, ActionDocumentAdded, ActionDocumentDeleted} {
		s.Require().NoError(s.store.Append(s.ctx, Entry{
			ID:        domain.NewLogID(),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			SubjectID: "u1",
			Action:    action,
			Outcome:   OutcomeSuccess,
		}))
	}

	s.Run("returns newest first", func() {
		entries, err := service.Query(s.ctx, Filter{SubjectID: "u1"})
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		s.Equal(ActionDocumentDeleted, entries[0].Action)
	})

	s.Run("filters by action", func() {
		entries, err := service.Query(s.ctx, Filter{Action: ActionDocumentAdded})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
	})

	s.Run("honors the limit", func() {
		entries, err := service.Query(s.ctx, Filter{SubjectID: "u1", Limit: 2})
		s.Require().NoError(err)
		s.Len(entries, 2)
	})
}

func (s *AuditServiceSuite) TestReport() {
	service := NewService(s.store, s.logger, time.Hour)
	now := time.Now()
	for _, e := range []Entry{
		{ID: domain.NewLogID(), Timestamp: now.Add(-time.Minute), Action: ActionDocumentAdded, Outcome: OutcomeSuccess},
		{ID: domain.NewLogID(), Timestamp: now.Add(-time.Minute), Action: ActionDocumentAdded, Outcome: OutcomeSuccess},
		{ID: domain.NewLogID(), Timestamp: now.Add(-time.Minute), Action: ActionDocumentAdded, Outcome: OutcomeFailure},
		{ID: domain.NewLogID(), Timestamp: now.Add(-48 * time.Hour), Action: ActionConsentGranted, Outcome: OutcomeSuccess},
	} {
		s.Require().NoError(s.store.Append(s.ctx, e))
	}

	rows, err := service.Report(s.ctx, now.Add(-time.Hour), now)
	s.Require().NoError(err)

	counts := make(map[[2]string]int64, len(rows))
	for _, row := range rows {
		counts[[2]string{string(row.Action), string(row.Outcome)}] = row.Count
	}
	s.Equal(int64(2), counts[[2]string{string(ActionDocumentAdded), string(OutcomeSuccess)}])
	s.Equal(int64(1), counts[[2]string{string(ActionDocumentAdded), string(OutcomeFailure)}])
	s.NotContains(counts, [2]string{string(ActionConsentGranted), string(OutcomeSuccess)})
}

func (s *AuditServiceSuite) TestExpireBefore() {
	floor := 24 * time.Hour
	service := NewService(s.store, s.logger, floor)

	old := Entry{ID: domain.NewLogID(), Timestamp: time.Now().Add(-48 * time.Hour), Action: ActionMessageAdded, Outcome: OutcomeSuccess}
	recent := Entry{ID: domain.NewLogID(), Timestamp: time.Now().Add(-time.Hour), Action: ActionMessageAdded, Outcome: OutcomeSuccess}
	s.Require().NoError(s.store.Append(s.ctx, old))
	s.Require().NoError(s.store.Append(s.ctx, recent))

	s.Run("cutoff is clamped to the legal floor", func() {
		// Asking to expire everything may still only remove entries older
		// than the floor.
		deleted, err := service.ExpireBefore(s.ctx, time.Now())
		s.Require().NoError(err)
		s.Equal(int64(1), deleted)

		entries, err := service.Query(s.ctx, Filter{})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(recent.ID, entries[0].ID)
	})
}
