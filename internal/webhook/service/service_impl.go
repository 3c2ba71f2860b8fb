package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallcrm/leadhook/internal/clock"
	"github.com/smallcrm/leadhook/internal/config"
	"github.com/smallcrm/leadhook/internal/crm"
	enrichdomain "github.com/smallcrm/leadhook/internal/enrichment/domain"
	eventdomain "github.com/smallcrm/leadhook/internal/event/domain"
	"github.com/smallcrm/leadhook/internal/lock"
	"github.com/smallcrm/leadhook/internal/observability/metrics"
	"github.com/smallcrm/leadhook/internal/webhook/domain"
	"github.com/smallcrm/leadhook/internal/webhook/signature"
)

const lockKeyPrefix = "leadhook:lock:"

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	Verifier *signature.Verifier
	Locker   lock.Locker
	Events   eventdomain.Service
	Enricher enrichdomain.Service
	CRM      *crm.Client
	Metrics  *metrics.Metrics
}

type service struct {
	log      *zap.Logger
	cfg      config.Config
	clock    clock.Clock
	verifier *signature.Verifier
	locker   lock.Locker
	events   eventdomain.Service
	enricher enrichdomain.Service
	crm      *crm.Client
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		log:      p.Log.Named("webhook.service"),
		cfg:      p.Config,
		clock:    p.Clock,
		verifier: p.Verifier,
		locker:   p.Locker,
		events:   p.Events,
		enricher: p.Enricher,
		crm:      p.CRM,
		metrics:  p.Metrics,
	}
}

func (s *service) HandleWebhook(ctx context.Context, body []byte, signatureHeader string) (*domain.Receipt, error) {
	if err := s.verifier.Verify(body, signatureHeader); err != nil {
		return nil, err
	}

	events, err := domain.DecodePayload(body)
	if err != nil {
		return nil, err
	}

	receipt := &domain.Receipt{Received: len(events)}
	for _, event := range events {
		s.metrics.RecordEventReceived(ctx, event.Action)
		result := s.processEvent(ctx, event)
		receipt.Results = append(receipt.Results, result)
		switch result.Status {
		case domain.ResultProcessed:
			receipt.Processed++
		case domain.ResultDuplicate, domain.ResultContended:
			receipt.Duplicates++
		case domain.ResultFailed:
			receipt.Failed++
		}
	}
	return receipt, nil
}

func (s *service) EnrichLead(ctx context.Context, leadID string) (*domain.Result, error) {
	lead, err := s.crm.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, eventdomain.ErrRecordNotFound
	}

	updatedAt, err := domain.ParseTimestamp(lead.UpdatedAt)
	if err != nil {
		updatedAt = s.clock.Now()
	}
	raw, _ := json.Marshal(lead)
	event := domain.Event{
		LeadID:    lead.ID,
		Action:    "lead.enrich",
		UpdatedAt: updatedAt,
		Name:      lead.Name,
		Phone:     lead.Phone,
		Email:     lead.Email,
		Document:  lead.Document,
		Raw:       raw,
	}
	result := s.processEvent(ctx, event)
	return &result, nil
}

// processEvent drives one event through lock, ledger, enrichment and
// delivery. The transport's cancellation is deliberately detached: once an
// event is admitted it must reach a terminal ledger state even if the caller
// disconnects, so only the per-event timeout bounds it.
func (s *service) processEvent(ctx context.Context, event domain.Event) domain.Result {
	eventID := event.EventID()
	result := domain.Result{EventID: eventID, LeadID: event.LeadID}
	log := s.log.With(zap.String("event_id", eventID), zap.String("lead_id", event.LeadID))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Webhook.EventTimeout)
	defer cancel()

	token, acquired, err := s.locker.Acquire(ctx, lockKeyPrefix+eventID, s.cfg.Webhook.LockLease)
	if err != nil {
		log.Error("lock acquire failed", zap.Error(err))
		return s.failed(ctx, result, fmt.Errorf("acquire lock: %w", err))
	}
	if !acquired {
		log.Info("event contended, another instance is processing it")
		s.metrics.RecordEventOutcome(ctx, domain.ResultContended)
		result.Status = domain.ResultContended
		return result
	}
	defer func() {
		if err := s.locker.Release(ctx, lockKeyPrefix+eventID, token); err != nil && !errors.Is(err, lock.ErrNotHolder) {
			log.Warn("lock release failed", zap.Error(err))
		}
	}()

	record, err := s.events.RecordIfNew(ctx, eventID, event.LeadID, event.Action, event.Raw, s.clock.Now())
	if err != nil {
		if errors.Is(err, eventdomain.ErrDuplicateEvent) {
			log.Info("duplicate event, already handled")
			s.metrics.RecordEventOutcome(ctx, domain.ResultDuplicate)
			result.Status = domain.ResultDuplicate
			return result
		}
		log.Error("ledger admission failed", zap.Error(err))
		return s.failed(ctx, result, fmt.Errorf("admit event: %w", err))
	}

	enriched, err := s.enricher.Enrich(ctx, enrichdomain.Query{
		LeadID:   event.LeadID,
		Name:     event.Name,
		Document: event.Document,
		Phone:    event.Phone,
		Email:    event.Email,
	})
	if err != nil {
		cause := fmt.Errorf("%w: %v", domain.ErrEnrichmentFailed, err)
		s.markFailed(ctx, log, record.ID, cause)
		return s.failed(ctx, result, cause)
	}
	if len(enriched.PartialErrors) > 0 {
		log.Warn("partial enrichment",
			zap.Strings("sources", enriched.Sources),
			zap.Any("missing", enriched.PartialErrors),
		)
	}

	if err := s.deliver(ctx, enriched); err != nil {
		cause := fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
		s.markFailed(ctx, log, record.ID, cause)
		return s.failed(ctx, result, cause)
	}

	if err := s.events.MarkSuccess(ctx, record.ID); err != nil {
		log.Error("mark success failed", zap.Error(err))
		return s.failed(ctx, result, fmt.Errorf("mark success: %w", err))
	}

	log.Info("event processed",
		zap.Strings("sources", enriched.Sources),
		zap.Int("retry_count", record.RetryCount),
	)
	s.metrics.RecordEventOutcome(ctx, domain.ResultProcessed)
	result.Status = domain.ResultProcessed
	return result
}

// deliver posts the summary message and then patches the lead's custom
// fields. The message is the authoritative delivery; a failed field patch
// only logs, since redelivering the whole event would duplicate the message.
func (s *service) deliver(ctx context.Context, enriched *enrichdomain.EnrichedLead) error {
	message := crm.FormatEnrichedMessage(enriched)
	if err := s.crm.SendMessage(ctx, enriched.LeadID, message); err != nil {
		return err
	}

	fields := map[string]any{
		"enriched_at":        s.clock.Now().Format(time.RFC3339),
		"enrichment_sources": enriched.Sources,
	}
	if len(enriched.Documents) > 0 {
		fields["document"] = enriched.Documents[0]
	}
	if err := s.crm.UpdateLead(ctx, enriched.LeadID, fields); err != nil {
		s.log.Warn("lead field update failed",
			zap.String("lead_id", enriched.LeadID),
			zap.Error(err),
		)
	}
	return nil
}

func (s *service) markFailed(ctx context.Context, log *zap.Logger, id snowflake.ID, cause error) {
	if err := s.events.MarkFailed(ctx, id, cause); err != nil {
		log.Error("persisting failure state failed", zap.Error(err))
	}
}

func (s *service) failed(ctx context.Context, result domain.Result, cause error) domain.Result {
	s.metrics.RecordEventOutcome(ctx, domain.ResultFailed)
	result.Status = domain.ResultFailed
	result.Error = cause.Error()
	return result
}
