package consent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tacita/internal/audit"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/sentinel"
	"tacita/pkg/platform/tx"
)

// Auditor is the slice of the audit service the consent gate needs.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry) (domain.LogID, error)
}

// Service is the consent gate. Every other component consults Check before
// acting; grants and withdrawals run atomically with their audit entries so
// a consent change that could not be recorded never takes effect (fail
// closed).
type Service struct {
	store   Store
	auditor Auditor
	runner  tx.Runner
	logger  *slog.Logger
}

func NewService(store Store, auditor Auditor, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{store: store, auditor: auditor, runner: runner, logger: logger}
}

// Check reports whether an active grant exists for (subject, purpose). It is
// read-only and non-blocking. Absence of a record means false; store errors
// also mean false: on ambiguity the gate denies.
func (s *Service) Check(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) bool {
	record, err := s.store.Active(ctx, subject, purpose)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "consent lookup failed, denying",
				"purpose", purpose,
				"error", err,
			)
		}
		return false
	}
	return record.IsActive()
}

// Require is Check with a caller-friendly error: CodeConsentDenied naming the
// missing purpose so the caller knows exactly what to grant.
func (s *Service) Require(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) error {
	if !s.Check(ctx, subject, purpose) {
		return dErrors.Newf(dErrors.CodeConsentDenied,
			"no active consent for purpose %q; grant it to proceed", purpose)
	}
	return nil
}

// Grant records fresh consent for (subject, purpose) at the given policy
// version. Any currently-active record is closed first: consent is never
// additive across versions, and accepting a new policy version requires a
// new explicit grant. The state change and its audit entry commit together.
func (s *Service) Grant(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, policyVersion string, evidence Evidence) (Record, error) {
	if policyVersion == "" {
		return Record{}, dErrors.New(dErrors.CodeInvalidInput, "policy version is required")
	}

	now := time.Now()
	record := Record{
		ID:            uuid.New(),
		SubjectID:     subject,
		Purpose:       purpose,
		Granted:       true,
		PolicyVersion: policyVersion,
		GrantedAt:     now,
		Evidence:      evidence,
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CloseActive(ctx, subject, purpose, now, "superseded"); err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "could not supersede prior consent")
			}
		}
		if err := s.store.Save(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "could not save consent record")
		}
		_, err := s.auditor.Record(ctx, audit.Entry{
			SubjectID:    subject,
			Action:       audit.ActionConsentGranted,
			ResourceKind: domain.ResourceConsent,
			ResourceID:   record.ID.String(),
			Outcome:      audit.OutcomeSuccess,
			Detail: map[string]any{
				"purpose":        purpose.String(),
				"policy_version": policyVersion,
			},
		})
		return err
	})
	if err != nil {
		return Record{}, err
	}

	s.logger.InfoContext(ctx, "consent granted",
		"purpose", purpose,
		"policy_version", policyVersion,
	)
	return record, nil
}

// Withdraw revokes the active grant for (subject, purpose). In-flight
// operations gated on that purpose observe the revocation at their
// commit-time re-check. The revocation and its audit entry commit together.
func (s *Service) Withdraw(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, reason string) error {
	now := time.Now()

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CloseActive(ctx, subject, purpose, now, reason); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "no active consent for purpose %q", purpose)
			}
			return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "could not revoke consent")
		}
		_, err := s.auditor.Record(ctx, audit.Entry{
			SubjectID:    subject,
			Action:       audit.ActionConsentWithdrawn,
			ResourceKind: domain.ResourceConsent,
			Outcome:      audit.OutcomeSuccess,
			Detail: map[string]any{
				"purpose": purpose.String(),
				"reason":  reason,
			},
		})
		return err
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "consent withdrawn", "purpose", purpose)
	return nil
}

// History returns the subject's full consent timeline, newest first, for the
// transparency view and data export.
func (s *Service) History(ctx context.Context, subject domain.SubjectID) ([]Record, error) {
	records, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "could not list consent history")
	}
	return records, nil
}
