package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atlasops/atlasops-backend/api/middleware"
	subsvc "github.com/atlasops/atlasops-backend/internal/subscriptions"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
)

type stubSubscriptionService struct {
	subscription *models.Subscription
	refill       *subsvc.RefillResult

	createInput subsvc.CreateInput
	getID       uuid.UUID
	refillID    uuid.UUID
	pausedID    uuid.UUID
	resumedID   uuid.UUID
	cancelledID uuid.UUID
	err         error
}

func (s *stubSubscriptionService) Create(ctx context.Context, input subsvc.CreateInput) (*models.Subscription, error) {
	s.createInput = input
	if s.err != nil {
		return nil, s.err
	}
	return s.subscription, nil
}

func (s *stubSubscriptionService) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	s.getID = id
	if s.err != nil {
		return nil, s.err
	}
	return s.subscription, nil
}

func (s *stubSubscriptionService) Refill(ctx context.Context, id uuid.UUID) (*subsvc.RefillResult, error) {
	s.refillID = id
	if s.err != nil {
		return nil, s.err
	}
	return s.refill, nil
}

func (s *stubSubscriptionService) Pause(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	s.pausedID = id
	return s.subscription, s.err
}

func (s *stubSubscriptionService) Resume(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	s.resumedID = id
	return s.subscription, s.err
}

func (s *stubSubscriptionService) Cancel(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	s.cancelledID = id
	return s.subscription, s.err
}

type stubAccountResolver struct {
	account *models.BillingAccount
	ensured bool
}

func (s *stubAccountResolver) EnsureTenantAccount(ctx context.Context, tenantID uuid.UUID) (*models.BillingAccount, error) {
	s.ensured = true
	return s.account, nil
}

func subscriptionFixture(accountID uuid.UUID) *models.Subscription {
	return &models.Subscription{
		ID:                           uuid.New(),
		AccountID:                    accountID,
		CycleDays:                    30,
		MonthlyCreditGrantMinorUnits: 50000,
		Status:                       enums.SubscriptionStatusActive,
		NextRefillAt:                 time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		CreatedAt:                    time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC),
	}
}

func tenantRequest(method, target, body string, tenantID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := middleware.WithTenantID(req.Context(), tenantID.String())
	ctx = middleware.WithRole(ctx, string(enums.PrincipalRoleAdmin))
	return req.WithContext(ctx)
}

func withSubscriptionParam(req *http.Request, id string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("subscriptionID", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestCreateSubscriptionLazilyResolvesAccount(t *testing.T) {
	tenantID := uuid.New()
	accountID := uuid.New()
	service := &stubSubscriptionService{subscription: subscriptionFixture(accountID)}
	accounts := &stubAccountResolver{account: &models.BillingAccount{ID: accountID, TenantID: tenantID}}
	handler := CreateSubscription(service, accounts, nil)

	payload := `{"cycle_days":30,"monthly_credit_grant_minor_units":50000}`
	req := tenantRequest(http.MethodPost, "/v1/subscriptions", payload, tenantID)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if !accounts.ensured {
		t.Fatal("expected tenant account to be ensured")
	}
	if service.createInput.AccountID != accountID || service.createInput.TenantID != tenantID {
		t.Fatalf("account not forwarded: %+v", service.createInput)
	}
	if service.createInput.CycleDays != 30 || service.createInput.MonthlyCreditGrantMinorUnits != 50000 {
		t.Fatalf("schedule not forwarded: %+v", service.createInput)
	}
	if service.createInput.FirstRefillAt != nil {
		t.Fatalf("unexpected first refill %v", service.createInput.FirstRefillAt)
	}

	var envelope struct {
		Data subscriptionResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.MonthlyCreditGrant != "500.00" {
		t.Fatalf("unexpected grant display %s", envelope.Data.MonthlyCreditGrant)
	}
}

func TestCreateSubscriptionParsesFirstRefill(t *testing.T) {
	tenantID := uuid.New()
	accountID := uuid.New()
	service := &stubSubscriptionService{subscription: subscriptionFixture(accountID)}
	accounts := &stubAccountResolver{}
	handler := CreateSubscription(service, accounts, nil)

	payload := `{
		"account_id":"` + accountID.String() + `",
		"cycle_days":7,
		"monthly_credit_grant_minor_units":10000,
		"first_refill_at":"2026-09-01T00:00:00Z"
	}`
	req := tenantRequest(http.MethodPost, "/v1/subscriptions", payload, tenantID)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if accounts.ensured {
		t.Fatal("explicit account must bypass lazy creation")
	}
	if service.createInput.AccountID != accountID {
		t.Fatalf("unexpected account %s", service.createInput.AccountID)
	}
	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if service.createInput.FirstRefillAt == nil || !service.createInput.FirstRefillAt.Equal(want) {
		t.Fatalf("first refill not forwarded: %v", service.createInput.FirstRefillAt)
	}
}

func TestCreateSubscriptionRejectsMalformedFirstRefill(t *testing.T) {
	handler := CreateSubscription(&stubSubscriptionService{}, &stubAccountResolver{account: &models.BillingAccount{ID: uuid.New()}}, nil)
	payload := `{"cycle_days":30,"monthly_credit_grant_minor_units":50000,"first_refill_at":"next tuesday"}`
	req := tenantRequest(http.MethodPost, "/v1/subscriptions", payload, uuid.New())
	resp := httptest.NewRecorder()
	handler(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed first_refill_at, got %d", resp.Code)
	}
}

func TestGetSubscriptionRejectsMalformedID(t *testing.T) {
	handler := GetSubscription(&stubSubscriptionService{}, nil)
	req := tenantRequest(http.MethodGet, "/v1/subscriptions/nope", "", uuid.New())
	req = withSubscriptionParam(req, "nope")
	resp := httptest.NewRecorder()
	handler(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", resp.Code)
	}
}

func TestRefillSubscriptionRendersResult(t *testing.T) {
	accountID := uuid.New()
	subscription := subscriptionFixture(accountID)
	entryID := uuid.New()
	service := &stubSubscriptionService{
		refill: &subsvc.RefillResult{
			Subscription: subscription,
			Entry:        &models.CreditLedgerEntry{ID: entryID, AccountID: accountID},
		},
	}
	handler := RefillSubscription(service, nil)

	req := tenantRequest(http.MethodPost, "/v1/subscriptions/"+subscription.ID.String()+"/refill", "", uuid.New())
	req = withSubscriptionParam(req, subscription.ID.String())
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.refillID != subscription.ID {
		t.Fatalf("unexpected refill id %s", service.refillID)
	}

	var envelope struct {
		Data refillResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.EntryID == nil || *envelope.Data.EntryID != entryID.String() {
		t.Fatalf("entry id not rendered: %v", envelope.Data.EntryID)
	}
	if envelope.Data.Replayed {
		t.Fatal("expected fresh refill, got replay")
	}
}

func TestCancelSubscriptionForwardsID(t *testing.T) {
	accountID := uuid.New()
	subscription := subscriptionFixture(accountID)
	subscription.Status = enums.SubscriptionStatusCancelled
	service := &stubSubscriptionService{subscription: subscription}
	handler := CancelSubscription(service, nil)

	req := tenantRequest(http.MethodPost, "/v1/subscriptions/"+subscription.ID.String()+"/cancel", "", uuid.New())
	req = withSubscriptionParam(req, subscription.ID.String())
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.cancelledID != subscription.ID {
		t.Fatalf("unexpected cancel id %s", service.cancelledID)
	}

	var envelope struct {
		Data subscriptionResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Status != string(enums.SubscriptionStatusCancelled) {
		t.Fatalf("unexpected status %s", envelope.Data.Status)
	}
}
