package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallcrm/leadhook/internal/clock"
	"github.com/smallcrm/leadhook/internal/event/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const staleSweepMessage = "processing exceeded staleness threshold, requeued by reaper"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("event.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) RecordIfNew(ctx context.Context, eventID, leadID, action string, payload []byte, receivedAt time.Time) (*domain.Record, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, domain.ErrRecordNotFound
	}
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(payload))
	}

	record := domain.Record{
		ID:         s.genID.Generate(),
		EventID:    eventID,
		LeadID:     leadID,
		Action:     action,
		Status:     domain.StatusProcessing,
		RawPayload: datatypes.JSON(payload),
		ReceivedAt: receivedAt.UTC(),
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &record, nil
	}

	// A row exists. Only a failed row may be re-admitted; the UPDATE is
	// conditional on the status so racing callers cannot both win.
	retried, err := s.repo.RetryFailed(ctx, s.db, eventID, record.RawPayload, record.ReceivedAt)
	if err != nil {
		return nil, err
	}
	if !retried {
		return nil, domain.ErrDuplicateEvent
	}

	stored, err := s.repo.FindByEventID(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrRecordNotFound
	}
	s.log.Info("re-admitted failed event for retry",
		zap.String("event_id", eventID),
		zap.Int("retry_count", stored.RetryCount),
	)
	return stored, nil
}

func (s *Service) MarkSuccess(ctx context.Context, id snowflake.ID) error {
	return s.repo.MarkSuccess(ctx, s.db, id, s.clock.Now())
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	return s.repo.MarkFailed(ctx, s.db, id, message, s.clock.Now())
}

func (s *Service) Get(ctx context.Context, eventID string) (*domain.Record, error) {
	record, err := s.repo.FindByEventID(ctx, s.db, strings.TrimSpace(eventID))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrRecordNotFound
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, status string, limit int) ([]domain.Record, error) {
	return s.repo.List(ctx, s.db, strings.TrimSpace(status), limit)
}

func (s *Service) FailStale(ctx context.Context, threshold time.Duration) (int64, error) {
	now := s.clock.Now()
	return s.repo.FailStale(ctx, s.db, now.Add(-threshold), staleSweepMessage, now)
}
