// Package service implements webhook event admission. The pipeline order is
// load-bearing: signature, parse, freshness, reservation, dedup, handler,
// then the ledger insert. A ledger row is only ever written after the
// handler succeeded, so a redelivery of a failed event is processed again.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coreflow/usaged/internal/billingevent/adapters"
	"github.com/coreflow/usaged/internal/billingevent/domain"
	"github.com/coreflow/usaged/internal/clock"
	"github.com/coreflow/usaged/internal/config"
	obsmetrics "github.com/coreflow/usaged/internal/observability/metrics"
	"github.com/coreflow/usaged/internal/ratelimit"
	subscriptiondomain "github.com/coreflow/usaged/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	GenID      *snowflake.Node
	Ledger     domain.Ledger
	Adapters   *adapters.Registry
	SubSvc     subscriptiondomain.Service
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	ledger     domain.Ledger
	adapters   *adapters.Registry
	subSvc     subscriptiondomain.Service
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics

	freshness time.Duration

	// In-process reservations when no distributed locker is configured.
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(p Params) domain.Service {
	freshness := p.Cfg.WebhookFreshnessWindow
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}

	return &Service{
		log:        p.Log.Named("billingevent.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		ledger:     p.Ledger,
		adapters:   p.Adapters,
		subSvc:     p.SubSvc,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
		freshness:  freshness,
		inflight:   map[string]struct{}{},
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.Result, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.Result{}, domain.ErrInvalidProvider
	}
	adapter, ok := s.adapters.Get(provider)
	if !ok {
		return domain.Result{}, domain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return domain.Result{}, domain.ErrInvalidPayload
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.recordOutcome(ctx, provider, "unknown", "invalid_signature")
		return domain.Result{}, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			// Acknowledged without side effects so the provider stops
			// redelivering event types this pipeline does not handle.
			s.recordOutcome(ctx, provider, "unknown", "ignored")
			return domain.Result{Outcome: domain.OutcomeIgnored}, nil
		}
		return domain.Result{}, err
	}
	if strings.TrimSpace(event.ProviderEventID) == "" || event.CreatedAt.IsZero() {
		return domain.Result{}, domain.ErrInvalidEvent
	}

	now := s.clock.Now().UTC()
	if now.Sub(event.CreatedAt) > s.freshness {
		s.recordOutcome(ctx, provider, event.Type, "stale")
		s.log.Warn("stale webhook event rejected",
			zap.String("provider", provider),
			zap.String("event_id", event.ProviderEventID),
			zap.Time("event_created_at", event.CreatedAt),
		)
		return domain.Result{}, domain.ErrStaleEvent
	}

	release, acquired, err := s.reserve(ctx, provider, event.ProviderEventID)
	if err != nil {
		return domain.Result{}, err
	}
	if !acquired {
		return domain.Result{}, domain.ErrEventInFlight
	}
	defer release()

	stored, err := s.ledger.Find(ctx, provider, event.ProviderEventID)
	if err != nil {
		return domain.Result{}, err
	}
	if stored != nil {
		s.recordOutcome(ctx, provider, event.Type, "already_processed")
		return domain.Result{Outcome: domain.OutcomeAlreadyProcessed, EventType: event.Type}, nil
	}

	if err := s.apply(ctx, event); err != nil {
		// No ledger write on failure. The reservation is released and the
		// provider's redelivery gets a clean retry.
		s.recordOutcome(ctx, provider, event.Type, "failed")
		return domain.Result{}, err
	}

	inserted, err := s.ledger.Insert(ctx, &domain.BillingEvent{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		EventCreatedAt:  event.CreatedAt,
		ProcessedAt:     now,
	})
	if err != nil {
		return domain.Result{}, err
	}
	if !inserted {
		s.recordOutcome(ctx, provider, event.Type, "already_processed")
		return domain.Result{Outcome: domain.OutcomeAlreadyProcessed, EventType: event.Type}, nil
	}

	s.recordOutcome(ctx, provider, event.Type, "processed")
	s.log.Info("billing event processed",
		zap.String("provider", provider),
		zap.String("event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
	)
	return domain.Result{Outcome: domain.OutcomeProcessed, EventType: event.Type}, nil
}

// apply dispatches the event's side effects into the subscription state.
func (s *Service) apply(ctx context.Context, event *domain.ProviderEvent) error {
	switch event.Type {
	case domain.EventTypeSubscriptionCreated, domain.EventTypeSubscriptionUpdated:
		_, err := s.subSvc.Upsert(ctx, subscriptiondomain.UpsertRequest{
			TenantID:               event.TenantID,
			UserID:                 event.UserID,
			PlanTier:               event.PlanTier,
			Status:                 event.Status,
			ProviderCustomerID:     event.ProviderCustomerID,
			ProviderSubscriptionID: event.ProviderSubscriptionID,
			CurrentPeriodEnd:       event.CurrentPeriodEnd,
		})
		return err

	case domain.EventTypeSubscriptionDeleted:
		return s.updateStatus(ctx, event, subscriptiondomain.StatusCanceled)

	case domain.EventTypePaymentSucceeded, domain.EventTypeInvoicePaid:
		return s.updateStatus(ctx, event, subscriptiondomain.StatusActive)

	case domain.EventTypePaymentFailed:
		return s.updateStatus(ctx, event, subscriptiondomain.StatusPastDue)

	default:
		return domain.ErrInvalidEvent
	}
}

func (s *Service) updateStatus(ctx context.Context, event *domain.ProviderEvent, status string) error {
	var err error
	switch {
	case event.ProviderSubscriptionID != "":
		err = s.subSvc.UpdateStatusByProviderSubscriptionID(ctx, event.ProviderSubscriptionID, status)
	case event.ProviderCustomerID != "":
		err = s.subSvc.UpdateStatusByProviderCustomerID(ctx, event.ProviderCustomerID, status)
	default:
		return domain.ErrInvalidEvent
	}
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		// Nothing to transition. Acknowledge so the provider stops
		// redelivering events for subscriptions this service never saw.
		s.log.Warn("billing event for unknown subscription",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.Type),
			zap.String("provider_subscription_id", event.ProviderSubscriptionID),
		)
		return nil
	}
	return err
}

// reserve takes the single-flight reservation for a provider event. With a
// redis locker the reservation spans replicas; without one it only guards
// this process.
func (s *Service) reserve(ctx context.Context, provider, eventID string) (func(), bool, error) {
	key := "usaged:webhook:" + provider + ":" + eventID

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, key, 2*s.freshness)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		return func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn("webhook reservation release failed", zap.String("key", key), zap.Error(err))
			}
		}, true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.inflight[key]; held {
		return nil, false, nil
	}
	s.inflight[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}, true, nil
}

func (s *Service) recordOutcome(ctx context.Context, provider, eventType string, outcome string) {
	s.obsMetrics.RecordWebhookEvent(ctx, provider, eventType, outcome)
}
