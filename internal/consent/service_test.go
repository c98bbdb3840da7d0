package consent

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tacita/internal/audit"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/tx"
)

type ConsentServiceSuite struct {
	suite.Suite
	ctx        context.Context
	store      *InMemoryStore
	auditStore *audit.InMemoryStore
	service    *Service
}

func (s *ConsentServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
	s.auditStore = audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := audit.NewService(s.auditStore, logger, time.Hour)
	s.service = NewService(s.store, auditor, tx.NoopRunner{}, logger)
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) grant(subject domain.SubjectID, purpose domain.ConsentPurpose) Record {
	record, err := s.service.Grant(s.ctx, subject, purpose, "policy-v1", Evidence{})
	s.Require().NoError(err)
	return record
}

func (s *ConsentServiceSuite) TestFailClosed() {
	s.Run("no record means denied", func() {
		s.False(s.service.Check(s.ctx, "u1", domain.ConsentPurposeChatStorage))
	})

	s.Run("require names the missing purpose", func() {
		err := s.service.Require(s.ctx, "u1", domain.ConsentPurposeDocuments)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConsentDenied))
		s.Contains(err.Error(), string(domain.ConsentPurposeDocuments))
	})

	s.Run("purposes are independent", func() {
		s.grant("u1", domain.ConsentPurposeChatStorage)
		s.True(s.service.Check(s.ctx, "u1", domain.ConsentPurposeChatStorage))
		s.False(s.service.Check(s.ctx, "u1", domain.ConsentPurposeDocuments))
	})

	s.Run("subjects are independent", func() {
		s.grant("u1", domain.ConsentPurposeChatStorage)
		s.False(s.service.Check(s.ctx, "u2", domain.ConsentPurposeChatStorage))
	})
}

func (s *ConsentServiceSuite) TestGrant() {
	s.Run("grant activates the purpose and audits it", func() {
		record := s.grant("u1", domain.ConsentPurposeDocuments)
		s.True(record.IsActive())
		s.True(s.service.Check(s.ctx, "u1", domain.ConsentPurposeDocuments))

		entries, err := s.auditStore.Query(s.ctx, audit.Filter{
			SubjectID: "u1",
			Action:    audit.ActionConsentGranted,
			Limit:     10,
		})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.OutcomeSuccess, entries[0].Outcome)
	})

	s.Run("regrant supersedes the prior record", func() {
		first := s.grant("u2", domain.ConsentPurposeDocuments)
		second := s.grant("u2", domain.ConsentPurposeDocuments)
		s.NotEqual(first.ID, second.ID)

		history, err := s.service.History(s.ctx, "u2")
		s.Require().NoError(err)
		s.Require().Len(history, 2)

		active := 0
		for _, rec := range history {
			if rec.IsActive() {
				active++
			}
		}
		s.Equal(1, active)
	})

	s.Run("policy version is required", func() {
		_, err := s.service.Grant(s.ctx, "u1", domain.ConsentPurposeDocuments, "", Evidence{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ConsentServiceSuite) TestWithdraw() {
	s.Run("withdrawal closes the active grant immediately", func() {
		s.grant("u1", domain.ConsentPurposeChatStorage)
		s.True(s.service.Check(s.ctx, "u1", domain.ConsentPurposeChatStorage))

		s.Require().NoError(s.service.Withdraw(s.ctx, "u1", domain.ConsentPurposeChatStorage, "user request"))
		s.False(s.service.Check(s.ctx, "u1", domain.ConsentPurposeChatStorage))
	})

	s.Run("withdrawal is audited", func() {
		s.grant("u2", domain.ConsentPurposeChatStorage)
		s.Require().NoError(s.service.Withdraw(s.ctx, "u2", domain.ConsentPurposeChatStorage, "user request"))

		entries, err := s.auditStore.Query(s.ctx, audit.Filter{
			SubjectID: "u2",
			Action:    audit.ActionConsentWithdrawn,
			Limit:     10,
		})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("user request", entries[0].Detail["reason"])
	})

	s.Run("withdrawing absent consent is NotFound", func() {
		err := s.service.Withdraw(s.ctx, "u1", domain.ConsentPurposeAnalytics, "none")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("timeline survives withdrawal", func() {
		s.grant("u4", domain.ConsentPurposeChatStorage)
		s.Require().NoError(s.service.Withdraw(s.ctx, "u4", domain.ConsentPurposeChatStorage, "done"))

		history, err := s.service.History(s.ctx, "u4")
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Require().NotNil(history[0].RevokedAt)
		s.Equal("done", history[0].RevokeReason)
	})
}

func (s *ConsentServiceSuite) TestEvidenceSummary() {
	ev := NewEvidence("203.0.113.7", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	s.Equal("203.0.113.7", ev.OriginAddress)
	s.NotEmpty(ev.AgentSummary)
	s.Contains(ev.AgentSummary, "Chrome")
}
