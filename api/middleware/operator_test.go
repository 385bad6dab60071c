package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atlasops/atlasops-backend/pkg/config"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	"github.com/atlasops/atlasops-backend/pkg/security"
)

func mustHashToken(t *testing.T, token string) string {
	t.Helper()
	hash, err := security.HashToken(token, config.PasswordConfig{
		ArgonMemoryKB:    64,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	})
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	return hash
}

func TestOperatorAcceptsOpsToken(t *testing.T) {
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if RoleFromContext(r.Context()) != string(enums.PrincipalRoleOperator) {
			t.Fatalf("expected operator role, got %q", RoleFromContext(r.Context()))
		}
		w.WriteHeader(http.StatusOK)
	})

	mw := Operator(config.OpsConfig{TokenHash: mustHashToken(t, "machine-secret")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/credit/reconcile", nil)
	req.Header.Set("X-Ops-Token", "machine-secret")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !handlerCalled {
		t.Fatal("handler not reached")
	}
}

func TestOperatorRejectsWrongToken(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := Operator(config.OpsConfig{TokenHash: mustHashToken(t, "machine-secret")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/credit/reconcile", nil)
	req.Header.Set("X-Ops-Token", "wrong")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestOperatorRejectsMissingToken(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := Operator(config.OpsConfig{TokenHash: mustHashToken(t, "machine-secret")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/refills/process", nil)
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestOperatorAcceptsOperatorRole(t *testing.T) {
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	mw := Operator(config.OpsConfig{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/refills/process", nil)
	req = req.WithContext(WithRole(req.Context(), string(enums.PrincipalRoleOperator)))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !handlerCalled {
		t.Fatal("handler not reached")
	}
}
