package domain

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrStaleEvent       = errors.New("stale_event")

	// ErrEventIgnored is an adapter-internal signal for event types the
	// pipeline does not handle. Ignored events are acknowledged, never
	// written to the ledger.
	ErrEventIgnored = errors.New("event_ignored")

	// ErrEventInFlight means another worker holds the reservation for the
	// same provider event. The provider should redeliver.
	ErrEventInFlight = errors.New("event_in_flight")
)

// Adapter verifies and parses one provider's webhook payloads.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ProviderEvent, error)
}

// Ledger is the billing-event store. Insert reports false when the unique
// constraint already holds a row for the same provider event.
type Ledger interface {
	Find(ctx context.Context, provider, providerEventID string) (*BillingEvent, error)
	Insert(ctx context.Context, event *BillingEvent) (bool, error)
}

type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeIgnored          Outcome = "ignored"
)

// Result reports how an accepted webhook delivery was resolved. Duplicate
// and ignored deliveries are values, not errors: the provider gets a 2xx
// either way.
type Result struct {
	Outcome   Outcome
	EventType string
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Result, error)
}
