package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreflow/usaged/internal/agent"
	billingeventdomain "github.com/coreflow/usaged/internal/billingevent/domain"
	usagedomain "github.com/coreflow/usaged/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stubUsageService struct {
	selectResult usagedomain.SelectAgentResult
	status       usagedomain.Status
	trackResult  usagedomain.TrackResult
	err          error

	lastTrack usagedomain.TrackUsageRequest
}

func (s *stubUsageService) SelectAgent(_ context.Context, req usagedomain.SelectAgentRequest) (usagedomain.SelectAgentResult, error) {
	return s.selectResult, s.err
}

func (s *stubUsageService) GetStatus(_ context.Context, req usagedomain.StatusRequest) (usagedomain.Status, error) {
	return s.status, s.err
}

func (s *stubUsageService) TrackUsage(_ context.Context, req usagedomain.TrackUsageRequest) (usagedomain.TrackResult, error) {
	s.lastTrack = req
	return s.trackResult, s.err
}

type stubBillingEventService struct {
	result billingeventdomain.Result
	err    error
}

func (s *stubBillingEventService) IngestWebhook(context.Context, string, []byte, http.Header) (billingeventdomain.Result, error) {
	return s.result, s.err
}

func newTestServer(usageSvc usagedomain.Service, billingSvc billingeventdomain.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())

	s := &Server{
		engine:          r,
		log:             zap.NewNop(),
		catalog:         agent.NewCatalog(),
		usageSvc:        usageSvc,
		billingEventSvc: billingSvc,
	}
	s.registerAPIRoutes()
	return r
}

func TestTrackUsageReturns429WhenQuotaExhausted(t *testing.T) {
	svc := &stubUsageService{trackResult: usagedomain.TrackResult{
		Rejected:      true,
		ShouldUpgrade: true,
		Current:       10,
		Limit:         10,
	}}
	r := newTestServer(svc, &stubBillingEventService{})

	req := httptest.NewRequest(http.MethodPost, "/api/usage/track", nil)
	req.Header.Set("X-Tenant-Id", "ten_1")
	req.Header.Set("X-User-Id", "usr_1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Daily usage limit exceeded" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
	if body["should_upgrade"] != true {
		t.Fatalf("expected should_upgrade true, got %v", body["should_upgrade"])
	}
}

func TestTrackUsageSuccess(t *testing.T) {
	svc := &stubUsageService{trackResult: usagedomain.TrackResult{
		Current:   3,
		Limit:     10,
		Remaining: 7,
	}}
	r := newTestServer(svc, &stubBillingEventService{})

	req := httptest.NewRequest(http.MethodPost, "/api/usage/track", nil)
	req.Header.Set("X-Tenant-Id", "ten_1")
	req.Header.Set("X-User-Id", "usr_1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastTrack.TenantID != "ten_1" || svc.lastTrack.UserID != "usr_1" {
		t.Fatalf("identity headers not propagated: %+v", svc.lastTrack)
	}

	var body struct {
		Success bool `json:"success"`
		Usage   struct {
			Current   int `json:"current"`
			Remaining int `json:"remaining"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success || body.Usage.Current != 3 || body.Usage.Remaining != 7 {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestTrackUsageMissingIdentity(t *testing.T) {
	svc := &stubUsageService{err: usagedomain.ErrInvalidTenant}
	r := newTestServer(svc, &stubBillingEventService{})

	req := httptest.NewRequest(http.MethodPost, "/api/usage/track", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSelectAgentInvalidAgentReturns400(t *testing.T) {
	svc := &stubUsageService{err: usagedomain.ErrInvalidAgent}
	r := newTestServer(svc, &stubBillingEventService{})

	req := httptest.NewRequest(http.MethodPost, "/api/usage/select-agent",
		strings.NewReader(`{"tenant_id":"ten_1","user_id":"usr_1","agent":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetUsageStatusFromQueryParams(t *testing.T) {
	svc := &stubUsageService{status: usagedomain.Status{PlanTier: "FREE", DailyLimit: 10, Remaining: 10}}
	r := newTestServer(svc, &stubBillingEventService{})

	req := httptest.NewRequest(http.MethodGet, "/api/usage/status?tenant_id=ten_1&user_id=usr_1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var status usagedomain.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if status.PlanTier != "FREE" || status.DailyLimit != 10 {
		t.Fatalf("unexpected status payload: %+v", status)
	}
}

func TestListAgents(t *testing.T) {
	r := newTestServer(&stubUsageService{}, &stubBillingEventService{})

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Agents []agent.Agent `json:"agents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Agents) == 0 {
		t.Fatalf("expected a non-empty catalog")
	}
}

func TestBillingWebhookResponses(t *testing.T) {
	tests := []struct {
		name       string
		result     billingeventdomain.Result
		err        error
		wantStatus int
	}{
		{"processed", billingeventdomain.Result{Outcome: billingeventdomain.OutcomeProcessed}, nil, http.StatusOK},
		{"duplicate", billingeventdomain.Result{Outcome: billingeventdomain.OutcomeAlreadyProcessed}, nil, http.StatusOK},
		{"ignored", billingeventdomain.Result{Outcome: billingeventdomain.OutcomeIgnored}, nil, http.StatusOK},
		{"invalid signature", billingeventdomain.Result{}, billingeventdomain.ErrInvalidSignature, http.StatusBadRequest},
		{"stale", billingeventdomain.Result{}, billingeventdomain.ErrStaleEvent, http.StatusBadRequest},
		{"unknown provider", billingeventdomain.Result{}, billingeventdomain.ErrProviderNotFound, http.StatusNotFound},
		{"in flight", billingeventdomain.Result{}, billingeventdomain.ErrEventInFlight, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestServer(&stubUsageService{}, &stubBillingEventService{result: tt.result, err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/billing/webhooks/stripe", strings.NewReader(`{}`))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus == http.StatusOK && !strings.Contains(w.Body.String(), `"received":true`) {
				t.Fatalf("expected acknowledgement body, got %s", w.Body.String())
			}
		})
	}
}
