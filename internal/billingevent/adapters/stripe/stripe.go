// Package stripe adapts Stripe webhook deliveries into provider events.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreflow/usaged/internal/billingevent/domain"
)

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is empty")
	}
	return &Adapter{webhookSecret: webhookSecret}, nil
}

func (a *Adapter) Provider() string {
	return "stripe"
}

// Verify checks the Stripe-Signature header: HMAC-SHA256 over
// "<timestamp>.<payload>" keyed with the endpoint secret. Any v1 signature
// matching is sufficient.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.ProviderEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "customer.subscription.created":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionCreated)
	case "customer.subscription.updated":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionDeleted)
	case "invoice.paid":
		return a.parseInvoice(event, payload, domain.EventTypeInvoicePaid)
	case "invoice.payment_succeeded":
		return a.parseInvoice(event, payload, domain.EventTypePaymentSucceeded)
	case "invoice.payment_failed":
		return a.parseInvoice(event, payload, domain.EventTypePaymentFailed)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, eventType string) (*domain.ProviderEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	return &domain.ProviderEvent{
		Provider:               a.Provider(),
		ProviderEventID:        event.ID,
		Type:                   eventType,
		TenantID:               strings.TrimSpace(sub.Metadata["tenant_id"]),
		UserID:                 strings.TrimSpace(sub.Metadata["user_id"]),
		PlanTier:               strings.TrimSpace(sub.Metadata["plan_tier"]),
		ProviderCustomerID:     strings.TrimSpace(sub.Customer),
		ProviderSubscriptionID: sub.ID,
		Status:                 mapSubscriptionStatus(sub.Status),
		CurrentPeriodEnd:       periodEnd,
		CreatedAt:              eventTimestamp(event.Created),
		RawPayload:             payload,
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte, eventType string) (*domain.ProviderEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	return &domain.ProviderEvent{
		Provider:               a.Provider(),
		ProviderEventID:        event.ID,
		Type:                   eventType,
		TenantID:               strings.TrimSpace(invoice.Metadata["tenant_id"]),
		UserID:                 strings.TrimSpace(invoice.Metadata["user_id"]),
		ProviderCustomerID:     strings.TrimSpace(invoice.Customer),
		ProviderSubscriptionID: strings.TrimSpace(invoice.Subscription),
		CreatedAt:              eventTimestamp(event.Created),
		RawPayload:             payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func mapSubscriptionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return "ACTIVE"
	case "trialing":
		return "TRIALING"
	case "past_due", "unpaid":
		return "PAST_DUE"
	case "canceled", "incomplete_expired":
		return "CANCELED"
	default:
		return "CANCELED"
	}
}

func eventTimestamp(created int64) time.Time {
	if created == 0 {
		return time.Time{}
	}
	return time.Unix(created, 0).UTC()
}
