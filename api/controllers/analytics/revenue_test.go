package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atlasops/atlasops-backend/api/middleware"
	"github.com/atlasops/atlasops-backend/internal/analytics/types"
)

type stubAnalyticsService struct {
	last     types.RevenueQueryRequest
	response *types.RevenueQueryResponse
	err      error
}

func (s *stubAnalyticsService) Query(ctx context.Context, req types.RevenueQueryRequest) (*types.RevenueQueryResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	if s.response == nil {
		return &types.RevenueQueryResponse{}, nil
	}
	return s.response, nil
}

func frozenNow(t *testing.T) func() {
	t.Helper()
	previous := timeNowUTC
	timeNowUTC = func() time.Time {
		return time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	}
	return func() { timeNowUTC = previous }
}

func TestRevenueRequiresTenant(t *testing.T) {
	handler := Revenue(&stubAnalyticsService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/ops/analytics/revenue", nil)
	resp := httptest.NewRecorder()
	handler(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant, got %d", resp.Code)
	}
}

func TestRevenueDefaultsToThirtyDayPreset(t *testing.T) {
	defer frozenNow(t)()
	tenantID := uuid.NewString()
	service := &stubAnalyticsService{}
	handler := Revenue(service, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/analytics/revenue?tenant_id="+tenantID, nil)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.last.TenantID != tenantID {
		t.Fatalf("unexpected tenant %s", service.last.TenantID)
	}
	wantEnd := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if !service.last.End.Equal(wantEnd) {
		t.Fatalf("unexpected end %v", service.last.End)
	}
	if !service.last.Start.Equal(wantEnd.Add(-30 * 24 * time.Hour)) {
		t.Fatalf("unexpected start %v", service.last.Start)
	}
}

func TestRevenueParsesExplicitRange(t *testing.T) {
	tenantID := uuid.NewString()
	accountID := uuid.NewString()
	service := &stubAnalyticsService{}
	handler := Revenue(service, nil)

	target := "/v1/ops/analytics/revenue?tenant_id=" + tenantID +
		"&account_id=" + accountID +
		"&from=2026-08-01T00:00:00Z&to=2026-08-15T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.last.AccountID != accountID {
		t.Fatalf("account not forwarded: %s", service.last.AccountID)
	}
	if !service.last.Start.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", service.last.Start)
	}
	if !service.last.End.Equal(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %v", service.last.End)
	}
}

func TestRevenueRejectsHalfRange(t *testing.T) {
	handler := Revenue(&stubAnalyticsService{}, nil)
	req := httptest.NewRequest(http.MethodGet,
		"/v1/ops/analytics/revenue?tenant_id="+uuid.NewString()+"&from=2026-08-01T00:00:00Z", nil)
	resp := httptest.NewRecorder()
	handler(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for half range, got %d", resp.Code)
	}
}

func TestRevenueRejectsUnknownPreset(t *testing.T) {
	handler := Revenue(&stubAnalyticsService{}, nil)
	req := httptest.NewRequest(http.MethodGet,
		"/v1/ops/analytics/revenue?tenant_id="+uuid.NewString()+"&preset=1y", nil)
	resp := httptest.NewRecorder()
	handler(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown preset, got %d", resp.Code)
	}
}

func TestRevenueFallsBackToTokenTenant(t *testing.T) {
	defer frozenNow(t)()
	tenantID := uuid.NewString()
	service := &stubAnalyticsService{}
	handler := Revenue(service, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/analytics/revenue", nil)
	req = req.WithContext(middleware.WithTenantID(req.Context(), tenantID))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.last.TenantID != tenantID {
		t.Fatalf("unexpected tenant %s", service.last.TenantID)
	}
}
