package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tacita/internal/audit"
	"tacita/internal/docstore"
	"tacita/internal/messages"
	"tacita/internal/platform/metrics"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/sentinel"
)

// DocumentReaper is the slice of the document service the enforcer
// needs. Deletion goes through the service so chunks and detection
// records cascade.
type DocumentReaper interface {
	ListExpired(ctx context.Context, asOf time.Time) ([]docstore.Document, error)
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]docstore.Document, error)
	Delete(ctx context.Context, id domain.DocumentID) error
	RestampExpiry(ctx context.Context, ttl time.Duration) (int64, error)
}

// MessageReaper is the slice of the message service the enforcer needs.
type MessageReaper interface {
	ListExpired(ctx context.Context, asOf time.Time) ([]messages.Message, error)
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]messages.Message, error)
	Delete(ctx context.Context, id domain.MessageID) error
	RestampExpiry(ctx context.Context, ttl time.Duration) (int64, error)
}

// AuditSink records sweep outcomes and expires old audit entries. The
// expiry side clamps to the legal retention floor internally.
type AuditSink interface {
	Record(ctx context.Context, entry audit.Entry) (domain.LogID, error)
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Enforcer runs retention sweeps and subject erasure. It deletes only
// through owning services, never by direct row removal, and reclaims
// database storage after each sweep.
type Enforcer struct {
	policies PolicyStore
	docs     DocumentReaper
	msgs     MessageReaper
	auditor  AuditSink
	reclaim  func(ctx context.Context) error
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewEnforcer(policies PolicyStore, docs DocumentReaper, msgs MessageReaper, auditor AuditSink, reclaim func(ctx context.Context) error, logger *slog.Logger, m *metrics.Metrics) *Enforcer {
	return &Enforcer{
		policies: policies,
		docs:     docs,
		msgs:     msgs,
		auditor:  auditor,
		reclaim:  reclaim,
		logger:   logger,
		metrics:  m,
	}
}

// SeedPolicies writes default policies for any kind that has none.
// Existing policies are left untouched so operator changes survive
// restarts.
func (e *Enforcer) SeedPolicies(ctx context.Context, defaults []Policy) error {
	for _, p := range defaults {
		_, err := e.policies.Get(ctx, p.Kind)
		if err == nil {
			continue
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "loading retention policy")
		}
		if err := e.policies.Upsert(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "seeding retention policy")
		}
	}
	return nil
}

// Policies lists the current policy set.
func (e *Enforcer) Policies(ctx context.Context) ([]Policy, error) {
	ps, err := e.policies.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "listing retention policies")
	}
	return ps, nil
}

// SetPolicy updates one kind's policy and restamps existing entities
// so the new TTL applies to them from their original creation time.
func (e *Enforcer) SetPolicy(ctx context.Context, p Policy) error {
	if !p.Kind.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid resource kind: "+p.Kind.String())
	}
	if p.TTL <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "retention ttl must be positive")
	}
	if err := e.policies.Upsert(ctx, p); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "updating retention policy")
	}

	var restamped int64
	var err error
	switch p.Kind {
	case domain.ResourceDocuments:
		restamped, err = e.docs.RestampExpiry(ctx, p.TTL)
	case domain.ResourceChatMessages:
		restamped, err = e.msgs.RestampExpiry(ctx, p.TTL)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "restamping entity expiry")
	}
	e.logger.InfoContext(ctx, "retention policy updated",
		"kind", p.Kind.String(), "ttl", p.TTL.String(), "restamped", restamped)
	return nil
}

// RunSweep visits each sweepable kind in order, deleting expired
// entities through their owning service. A failure on one kind is
// recorded in the report and the sweep continues; cancellation is
// honored between kinds. The sweep is idempotent: a second run with
// no intervening writes deletes nothing.
func (e *Enforcer) RunSweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{StartedAt: time.Now().UTC()}

	for _, kind := range domain.SweepableResourceKinds() {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, dErrors.Wrap(err, dErrors.CodeTimeout, "sweep cancelled")
		}
		report.Kinds = append(report.Kinds, e.sweepKind(ctx, kind))
	}

	if e.reclaim != nil && report.TotalDeleted() > 0 {
		if err := e.reclaim(ctx); err != nil {
			e.logger.WarnContext(ctx, "storage reclamation failed", "error", err)
		}
	}

	report.FinishedAt = time.Now().UTC()
	e.logger.InfoContext(ctx, "retention sweep finished",
		"deleted", report.TotalDeleted(),
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

func (e *Enforcer) sweepKind(ctx context.Context, kind domain.ResourceKind) KindResult {
	result := KindResult{Kind: kind}

	policy, err := e.policies.Get(ctx, kind)
	if errors.Is(err, sentinel.ErrNotFound) {
		result.Skipped = true
		return result
	}
	if err != nil {
		result.Err = err.Error()
		return result
	}
	if !policy.AutoDelete {
		result.Skipped = true
		return result
	}

	now := time.Now().UTC()
	deleted, sweepErr := e.deleteExpired(ctx, kind, policy, now)
	result.Deleted = deleted
	if sweepErr != nil {
		result.Err = sweepErr.Error()
		e.logger.ErrorContext(ctx, "sweep failed for kind", "kind", kind.String(), "error", sweepErr)
	}
	e.metrics.SweepDeletionsTotal.WithLabelValues(kind.String()).Add(float64(deleted))

	outcome := audit.OutcomeSuccess
	detail := map[string]any{"deleted": deleted, "ttl_seconds": int64(policy.TTL.Seconds())}
	if sweepErr != nil {
		outcome = audit.OutcomeFailure
		detail["error"] = sweepErr.Error()
	}
	if _, err := e.auditor.Record(ctx, audit.Entry{
		Action:       audit.ActionRetentionSweep,
		ResourceKind: kind,
		Outcome:      outcome,
		Detail:       detail,
	}); err != nil {
		e.logger.ErrorContext(ctx, "sweep audit entry failed", "kind", kind.String(), "error", err)
		if result.Err == "" {
			result.Err = err.Error()
		}
	}
	return result
}

func (e *Enforcer) deleteExpired(ctx context.Context, kind domain.ResourceKind, policy Policy, now time.Time) (int64, error) {
	switch kind {
	case domain.ResourceChatMessages:
		expired, err := e.msgs.ListExpired(ctx, now)
		if err != nil {
			return 0, err
		}
		var n int64
		for _, m := range expired {
			if err := e.msgs.Delete(ctx, m.ID); err != nil {
				return n, err
			}
			n++
		}
		return n, nil

	case domain.ResourceDocuments:
		expired, err := e.docs.ListExpired(ctx, now)
		if err != nil {
			return 0, err
		}
		var n int64
		for _, d := range expired {
			if err := e.docs.Delete(ctx, d.ID); err != nil {
				return n, err
			}
			n++
		}
		return n, nil

	case domain.ResourceAuditLog:
		return e.auditor.ExpireBefore(ctx, now.Add(-policy.TTL))

	default:
		return 0, nil
	}
}

// EraseSubject deletes every document and chat message belonging to
// the subject, emitting one audit entry per deleted entity plus a
// summary entry per kind, so the erasure is provable afterwards.
func (e *Enforcer) EraseSubject(ctx context.Context, subject domain.SubjectID) (SweepReport, error) {
	report := SweepReport{StartedAt: time.Now().UTC()}

	msgs, err := e.msgs.ListBySubject(ctx, subject)
	if err != nil {
		return report, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "listing subject messages")
	}
	msgResult := KindResult{Kind: domain.ResourceChatMessages}
	for _, m := range msgs {
		if err := e.msgs.Delete(ctx, m.ID); err != nil {
			msgResult.Err = err.Error()
			break
		}
		msgResult.Deleted++
		if _, err := e.auditor.Record(ctx, audit.Entry{
			SubjectID:    subject,
			Action:       audit.ActionMessageDeleted,
			ResourceKind: domain.ResourceChatMessages,
			ResourceID:   m.ID.String(),
			Outcome:      audit.OutcomeSuccess,
			Detail:       map[string]any{"reason": "subject_erasure"},
		}); err != nil {
			msgResult.Err = err.Error()
			break
		}
	}
	report.Kinds = append(report.Kinds, msgResult)

	docs, err := e.docs.ListBySubject(ctx, subject)
	if err != nil {
		return report, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "listing subject documents")
	}
	docResult := KindResult{Kind: domain.ResourceDocuments}
	for _, d := range docs {
		if err := e.docs.Delete(ctx, d.ID); err != nil {
			docResult.Err = err.Error()
			break
		}
		docResult.Deleted++
		if _, err := e.auditor.Record(ctx, audit.Entry{
			SubjectID:    subject,
			Action:       audit.ActionDocumentDeleted,
			ResourceKind: domain.ResourceDocuments,
			ResourceID:   d.ID.String(),
			Outcome:      audit.OutcomeSuccess,
			Detail:       map[string]any{"reason": "subject_erasure"},
		}); err != nil {
			docResult.Err = err.Error()
			break
		}
	}
	report.Kinds = append(report.Kinds, docResult)

	for _, kr := range report.Kinds {
		outcome := audit.OutcomeSuccess
		detail := map[string]any{"deleted": kr.Deleted}
		if kr.Err != "" {
			outcome = audit.OutcomeFailure
			detail["error"] = kr.Err
		}
		if _, err := e.auditor.Record(ctx, audit.Entry{
			SubjectID:    subject,
			Action:       audit.ActionSubjectErased,
			ResourceKind: kr.Kind,
			Outcome:      outcome,
			Detail:       detail,
		}); err != nil {
			return report, err
		}
		e.metrics.SweepDeletionsTotal.WithLabelValues(kr.Kind.String()).Add(float64(kr.Deleted))
	}

	if e.reclaim != nil && report.TotalDeleted() > 0 {
		if err := e.reclaim(ctx); err != nil {
			e.logger.WarnContext(ctx, "storage reclamation failed", "error", err)
		}
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}
