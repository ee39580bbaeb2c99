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
	"testing"
	"time"

	"github.com/coreflow/usaged/internal/billingevent/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"invoice.paid","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{webhookSecret: secret}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	reqHeader.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error for missing header, got %v", err)
	}
}

func TestParseSubscriptionEvents(t *testing.T) {
	created := time.Now().UTC().Unix()
	periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour).Unix()

	tests := []struct {
		name       string
		stripeType string
		wantType   string
		wantStatus string
	}{
		{"created", "customer.subscription.created", domain.EventTypeSubscriptionCreated, "ACTIVE"},
		{"updated", "customer.subscription.updated", domain.EventTypeSubscriptionUpdated, "ACTIVE"},
		{"deleted", "customer.subscription.deleted", domain.EventTypeSubscriptionDeleted, "ACTIVE"},
	}

	adapter := &Adapter{webhookSecret: "whsec_test"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(map[string]any{
				"id":      "evt_sub",
				"type":    tt.stripeType,
				"created": created,
				"data": map[string]any{
					"object": map[string]any{
						"id":                 "sub_1",
						"customer":           "cus_1",
						"status":             "active",
						"current_period_end": periodEnd,
						"metadata": map[string]any{
							"tenant_id": "ten_1",
							"user_id":   "usr_1",
							"plan_tier": "PRO",
						},
					},
				},
			})
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}

			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.Status != tt.wantStatus {
				t.Fatalf("expected status %s, got %s", tt.wantStatus, event.Status)
			}
			if event.ProviderSubscriptionID != "sub_1" {
				t.Fatalf("expected subscription ID sub_1, got %s", event.ProviderSubscriptionID)
			}
			if event.TenantID != "ten_1" || event.UserID != "usr_1" || event.PlanTier != "PRO" {
				t.Fatalf("metadata not carried: %+v", event)
			}
			if event.CurrentPeriodEnd == nil || event.CurrentPeriodEnd.Unix() != periodEnd {
				t.Fatalf("expected current period end %d, got %v", periodEnd, event.CurrentPeriodEnd)
			}
			if event.CreatedAt.Unix() != created {
				t.Fatalf("expected created %d, got %d", created, event.CreatedAt.Unix())
			}
		})
	}
}

func TestParseInvoiceEvents(t *testing.T) {
	created := time.Now().UTC().Unix()

	tests := []struct {
		stripeType string
		wantType   string
	}{
		{"invoice.paid", domain.EventTypeInvoicePaid},
		{"invoice.payment_succeeded", domain.EventTypePaymentSucceeded},
		{"invoice.payment_failed", domain.EventTypePaymentFailed},
	}

	adapter := &Adapter{webhookSecret: "whsec_test"}
	for _, tt := range tests {
		t.Run(tt.stripeType, func(t *testing.T) {
			payload, err := json.Marshal(map[string]any{
				"id":      "evt_inv",
				"type":    tt.stripeType,
				"created": created,
				"data": map[string]any{
					"object": map[string]any{
						"id":           "in_1",
						"customer":     "cus_1",
						"subscription": "sub_1",
					},
				},
			})
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}

			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.ProviderSubscriptionID != "sub_1" {
				t.Fatalf("expected subscription ID sub_1, got %s", event.ProviderSubscriptionID)
			}
			if event.ProviderCustomerID != "cus_1" {
				t.Fatalf("expected customer ID cus_1, got %s", event.ProviderCustomerID)
			}
		})
	}
}

func TestParseUnhandledTypeIsIgnored(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	payload := []byte(`{"id":"evt_x","type":"payment_method.attached","created":1,"data":{"object":{}}}`)

	_, err := adapter.Parse(context.Background(), payload)
	if !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected event ignored, got %v", err)
	}
}

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
