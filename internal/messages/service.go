package messages

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tacita/internal/detect"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/sentinel"
	"tacita/pkg/platform/tx"
)

// AddRequest carries one chat turn for admission. Gate, when set, is
// re-checked immediately before persistence so a consent withdrawal
// racing the write loses.
type AddRequest struct {
	SubjectID domain.SubjectID
	Text      string
	Redact    bool
	Gate      func(ctx context.Context) error
}

type AddResult struct {
	Message    Message
	Detections []detect.Detection
	Degraded   bool
}

// Service owns chat message admission and deletion. Messages carry a
// short retention window relative to documents; the enforcer reaps
// them through Delete so detection records cascade.
type Service struct {
	store      Store
	detections detect.RecordStore
	engine     *detect.Engine
	runner     tx.Runner
	logger     *slog.Logger
	ttl        time.Duration
}

func NewService(store Store, detections detect.RecordStore, engine *detect.Engine, runner tx.Runner, logger *slog.Logger, ttl time.Duration) *Service {
	return &Service{
		store:      store,
		detections: detections,
		engine:     engine,
		runner:     runner,
		logger:     logger,
		ttl:        ttl,
	}
}

func (s *Service) AddMessage(ctx context.Context, req AddRequest) (AddResult, error) {
	if req.Text == "" {
		return AddResult{}, dErrors.New(dErrors.CodeInvalidInput, "message text is empty")
	}

	result, err := s.engine.Detect(ctx, req.Text)
	if err != nil {
		return AddResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "detecting entities")
	}

	text := req.Text
	if req.Redact {
		text = detect.Redact(text, result.Detections)
	}

	if req.Gate != nil {
		if err := req.Gate(ctx); err != nil {
			return AddResult{}, err
		}
	}

	now := time.Now().UTC()
	msg := Message{
		ID:                 domain.NewMessageID(),
		SubjectID:          req.SubjectID,
		Content:            text,
		CreatedAt:          now,
		RetentionExpiresAt: now.Add(s.ttl),
	}

	records := make([]detect.Record, 0, len(result.Detections))
	for _, d := range result.Detections {
		records = append(records, detect.NewRecord(d, domain.ResourceChatMessages, msg.ID.String(), now))
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, msg); err != nil {
			return err
		}
		return s.detections.SaveAll(ctx, records)
	})
	if err != nil {
		return AddResult{}, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "persisting message")
	}

	s.logger.InfoContext(ctx, "message added",
		"message_id", msg.ID.String(),
		"subject_id", msg.SubjectID.String(),
		"detections", len(records),
		"degraded", result.Degraded,
	)
	return AddResult{Message: msg, Detections: result.Detections, Degraded: result.Degraded}, nil
}

func (s *Service) Get(ctx context.Context, id domain.MessageID) (Message, error) {
	msg, err := s.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Message{}, dErrors.Wrap(err, dErrors.CodeNotFound, "message not found")
	}
	if err != nil {
		return Message{}, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "loading message")
	}
	return msg, nil
}

func (s *Service) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Message, error) {
	msgs, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "listing messages")
	}
	return msgs, nil
}

func (s *Service) ListExpired(ctx context.Context, asOf time.Time) ([]Message, error) {
	msgs, err := s.store.ListExpired(ctx, asOf)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "listing expired messages")
	}
	return msgs, nil
}

// Delete removes the message and its detection records atomically.
func (s *Service) Delete(ctx context.Context, id domain.MessageID) error {
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
		_, err := s.detections.DeleteBySource(ctx, domain.ResourceChatMessages, id.String())
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "message not found")
		}
		return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "deleting message")
	}
	s.logger.InfoContext(ctx, "message deleted", "message_id", id.String())
	return nil
}

// RestampExpiry recomputes every message's expiry from its creation
// time and the given TTL, used when the retention policy changes.
func (s *Service) RestampExpiry(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := s.store.RestampExpiry(ctx, ttl)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "restamping message expiry")
	}
	return n, nil
}
