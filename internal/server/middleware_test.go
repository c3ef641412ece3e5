package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/metergate/metergate/internal/apikey/domain"
	billingdomain "github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/internal/billing/stripe"
	"github.com/metergate/metergate/internal/billing/webhook"
	"github.com/metergate/metergate/internal/config"
	"github.com/metergate/metergate/internal/ratelimit"
	usagedomain "github.com/metergate/metergate/internal/usage/domain"
	userdomain "github.com/metergate/metergate/internal/user/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_gateway_test"

type keyStoreStub struct {
	mu      sync.Mutex
	records map[string]*apikeydomain.AuthRecord
}

func newKeyStoreStub() *keyStoreStub {
	return &keyStoreStub{records: make(map[string]*apikeydomain.AuthRecord)}
}

func (s *keyStoreStub) add(raw string, record *apikeydomain.AuthRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[raw] = record
}

func (s *keyStoreStub) Generate(ctx context.Context, userID snowflake.ID, name string) (*apikeydomain.SecretResponse, error) {
	return &apikeydomain.SecretResponse{APIKey: "mg_generated", Name: name}, nil
}

func (s *keyStoreStub) Validate(ctx context.Context, rawKey string) (*apikeydomain.AuthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[rawKey], nil
}

func (s *keyStoreStub) Revoke(ctx context.Context, userID, keyID snowflake.ID) error {
	return nil
}

func (s *keyStoreStub) List(ctx context.Context, userID snowflake.ID) ([]apikeydomain.Response, error) {
	return nil, nil
}

type usageRecorderStub struct {
	mu      sync.Mutex
	records []usagedomain.CallRecord
}

func (s *usageRecorderStub) TrackRequest(ctx context.Context, rec usagedomain.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *usageRecorderStub) UnreportedTotals(ctx context.Context) ([]usagedomain.UnreportedUsage, error) {
	return nil, nil
}

func (s *usageRecorderStub) MarkReported(ctx context.Context, userID snowflake.ID, collectedAt time.Time) error {
	return nil
}

func (s *usageRecorderStub) StatsByEndpoint(ctx context.Context, userID snowflake.ID, from, to time.Time) ([]usagedomain.EndpointStat, error) {
	return nil, nil
}

func (s *usageRecorderStub) DailyCounts(ctx context.Context, userID snowflake.ID, days int) ([]usagedomain.DailyCount, error) {
	return nil, nil
}

func (s *usageRecorderStub) CurrentMonthTotal(ctx context.Context, userID snowflake.ID) (int64, error) {
	return 0, nil
}

func (s *usageRecorderStub) SummaryRange(ctx context.Context, userID snowflake.ID, from, to time.Time) (*usagedomain.Summary, error) {
	return nil, nil
}

func (s *usageRecorderStub) CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (s *usageRecorderStub) tracked() []usagedomain.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]usagedomain.CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

type syncUserRepoStub struct {
	mu      sync.Mutex
	updates []userdomain.SubscriptionUpdate
}

func (s *syncUserRepoStub) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*userdomain.User, error) {
	return nil, nil
}

func (s *syncUserRepoStub) FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*userdomain.User, error) {
	return nil, nil
}

func (s *syncUserRepoStub) SetBillingCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string) error {
	return nil
}

func (s *syncUserRepoStub) UpdateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, update userdomain.SubscriptionUpdate) error {
	return nil
}

func (s *syncUserRepoStub) UpdateSubscriptionByCustomerID(ctx context.Context, db *gorm.DB, customerID string, update userdomain.SubscriptionUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return 1, nil
}

type eventRepoStub struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *eventRepoStub) Record(ctx context.Context, id snowflake.ID, event *billingdomain.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[event.ID] {
		return false, nil
	}
	s.seen[event.ID] = true
	return true, nil
}

type gatewayHarness struct {
	server   *Server
	keys     *keyStoreStub
	usage    *usageRecorderStub
	userSync *syncUserRepoStub
}

func newGatewayHarness(t *testing.T, maxRequests int) *gatewayHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	keys := newKeyStoreStub()
	usage := &usageRecorderStub{}
	userSync := &syncUserRepoStub{}

	verifier := stripe.NewVerifier(config.Config{
		Billing: config.BillingConfig{WebhookSecret: testWebhookSecret},
	})
	webhookSvc := webhook.New(nil, verifier, userSync, &eventRepoStub{}, node, zap.NewNop())

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:     engine,
		log:        zap.NewNop(),
		genID:      node,
		apiKeySvc:  keys,
		usageSvc:   usage,
		limiter:    ratelimit.NewLimiter(ratelimit.NewMemoryStore(), maxRequests, time.Minute),
		webhookSvc: webhookSvc,
	}
	srv.registerMeteredRoutes()
	srv.registerWebhookRoutes()

	return &gatewayHarness{server: srv, keys: keys, usage: usage, userSync: userSync}
}

func (h *gatewayHarness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.server.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func activeRecord(node *snowflake.Node) *apikeydomain.AuthRecord {
	subID := "sub_1"
	return &apikeydomain.AuthRecord{
		KeyID:              node.Generate(),
		UserID:             node.Generate(),
		SubscriptionID:     &subID,
		SubscriptionStatus: userdomain.StatusActive,
	}
}

func TestMeteredRejectsMissingCredential(t *testing.T) {
	h := newGatewayHarness(t, 10)

	w := h.do(httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "MissingCredential" {
		t.Fatalf("expected MissingCredential, got %v", body["error"])
	}
	if len(h.usage.tracked()) != 0 {
		t.Fatal("rejected request was tracked")
	}
}

func TestMeteredRejectsUnknownKey(t *testing.T) {
	h := newGatewayHarness(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer mg_wrong")
	w := h.do(req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != "InvalidCredential" {
		t.Fatalf("expected InvalidCredential, got %v", body["error"])
	}
}

func TestMeteredAcceptsAllCredentialSources(t *testing.T) {
	h := newGatewayHarness(t, 10)
	record := activeRecord(h.server.genID)
	h.keys.add("mg_good", record)

	bearer := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	bearer.Header.Set("Authorization", "Bearer mg_good")

	header := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	header.Header.Set("X-API-Key", "mg_good")

	query := httptest.NewRequest(http.MethodGet, "/v1/ping?api_key=mg_good", nil)

	for name, req := range map[string]*http.Request{"bearer": bearer, "header": header, "query": query} {
		if w := h.do(req); w.Code != http.StatusOK {
			t.Fatalf("%s credential: expected 200, got %d (%s)", name, w.Code, w.Body.String())
		}
	}

	if got := len(h.usage.tracked()); got != 3 {
		t.Fatalf("expected 3 tracked calls, got %d", got)
	}
}

func TestMeteredGatesOnSubscription(t *testing.T) {
	h := newGatewayHarness(t, 10)
	record := activeRecord(h.server.genID)
	record.SubscriptionStatus = userdomain.StatusCanceled
	h.keys.add("mg_canceled", record)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("X-API-Key", "mg_canceled")
	w := h.do(req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "SubscriptionRequired" {
		t.Fatalf("expected SubscriptionRequired, got %v", body["error"])
	}
	if body["subscriptionStatus"] != "canceled" {
		t.Fatalf("expected subscriptionStatus canceled, got %v", body["subscriptionStatus"])
	}
	if len(h.usage.tracked()) != 0 {
		t.Fatal("gated request was tracked")
	}
}

func TestMeteredGraceStatusesAllowed(t *testing.T) {
	h := newGatewayHarness(t, 10)

	for _, status := range []userdomain.SubscriptionStatus{
		userdomain.StatusActive,
		userdomain.StatusTrialing,
		userdomain.StatusPastDue,
	} {
		raw := fmt.Sprintf("mg_%s", status)
		record := activeRecord(h.server.genID)
		record.SubscriptionStatus = status
		h.keys.add(raw, record)

		req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
		req.Header.Set("X-API-Key", raw)
		if w := h.do(req); w.Code != http.StatusOK {
			t.Fatalf("status %s: expected 200, got %d", status, w.Code)
		}
	}
}

func TestMeteredRateLimitHeadersAndRejection(t *testing.T) {
	h := newGatewayHarness(t, 2)
	h.keys.add("mg_limited", activeRecord(h.server.genID))

	request := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
		req.Header.Set("X-API-Key", "mg_limited")
		return h.do(req)
	}

	for i, wantRemaining := range []string{"1", "0"} {
		w := request()
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Fatalf("request %d: expected limit header 2, got %q", i+1, got)
		}
		if got := w.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Fatalf("request %d: expected remaining %s, got %q", i+1, wantRemaining, got)
		}
		if w.Header().Get("X-RateLimit-Reset") == "" {
			t.Fatalf("request %d: missing reset header", i+1)
		}
	}

	w := request()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0 on rejection, got %q", got)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header on rejection")
	}
	body := decodeBody(t, w)
	if body["error"] != "RateLimitExceeded" {
		t.Fatalf("expected RateLimitExceeded, got %v", body["error"])
	}
	retryAfter, ok := body["retryAfter"].(float64)
	if !ok || retryAfter < 1 {
		t.Fatalf("expected positive retryAfter in body, got %v", body["retryAfter"])
	}

	// The throttled request is not billed.
	if got := len(h.usage.tracked()); got != 2 {
		t.Fatalf("expected 2 tracked calls, got %d", got)
	}
}

func TestMeteredCallRecordedWithOutcome(t *testing.T) {
	h := newGatewayHarness(t, 10)
	record := activeRecord(h.server.genID)
	h.keys.add("mg_track", record)

	req := httptest.NewRequest(http.MethodPost, "/v1/echo", strings.NewReader(`{"hello":"world"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "mg_track")
	if w := h.do(req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	tracked := h.usage.tracked()
	if len(tracked) != 1 {
		t.Fatalf("expected 1 tracked call, got %d", len(tracked))
	}
	call := tracked[0]
	if call.UserID != record.UserID || call.APIKeyID != record.KeyID {
		t.Fatalf("tracked wrong principal: %+v", call)
	}
	if call.Endpoint != "/v1/echo" || call.Method != http.MethodPost {
		t.Fatalf("tracked wrong endpoint: %+v", call)
	}
	if call.StatusCode != http.StatusOK {
		t.Fatalf("tracked wrong status: %d", call.StatusCode)
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	h := newGatewayHarness(t, 10)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(`{"id":"evt_1","type":"invoice.paid"}`))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	w := h.do(req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != "WebhookVerificationFailure" {
		t.Fatalf("expected WebhookVerificationFailure, got %v", body["error"])
	}
}

func TestWebhookAppliesSignedEvent(t *testing.T) {
	h := newGatewayHarness(t, 10)

	payload := `{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"data": {
			"object": {
				"id": "sub_7",
				"object": "subscription",
				"customer": "cus_7",
				"status": "active"
			}
		}
	}`

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(timestamp + "." + payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, signature))
	w := h.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["received"] != true {
		t.Fatalf("expected received ack, got %v", body)
	}

	h.userSync.mu.Lock()
	updates := h.userSync.updates
	h.userSync.mu.Unlock()
	if len(updates) != 1 {
		t.Fatalf("expected 1 subscription update, got %d", len(updates))
	}
	if updates[0].SubscriptionID == nil || *updates[0].SubscriptionID != "sub_7" {
		t.Fatalf("unexpected subscription update %+v", updates[0])
	}
	if updates[0].Status != userdomain.StatusActive {
		t.Fatalf("unexpected status %q", updates[0].Status)
	}
}
