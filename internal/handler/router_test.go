package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veloapp/velo-backend/internal/auth"
	"github.com/veloapp/velo-backend/internal/fireauth"
	"github.com/veloapp/velo-backend/internal/middleware"
	"github.com/veloapp/velo-backend/internal/model"
)

// mockSessionResolver はmiddleware.SessionResolverのモック実装。
type mockSessionResolver struct {
	resolveFunc func(ctx context.Context, sessionCookie string) (*fireauth.Claims, error)
}

func (m *mockSessionResolver) ResolveSession(ctx context.Context, sessionCookie string) (*fireauth.Claims, error) {
	return m.resolveFunc(ctx, sessionCookie)
}

// newTestRouter はテスト用の全ルート構成を組み立てる。
func newTestRouter(t *testing.T, resolver middleware.SessionResolver) http.Handler {
	t.Helper()

	if resolver == nil {
		resolver = &mockSessionResolver{
			resolveFunc: func(ctx context.Context, sessionCookie string) (*fireauth.Claims, error) {
				if sessionCookie == "valid-session" {
					return &fireauth.Claims{Subject: "uid-1", Email: "taro@example.com"}, nil
				}
				return nil, auth.ErrUnauthorized
			},
		}
	}

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 1000))
	t.Cleanup(rl.Stop)

	itemSvc := &mockItemService{
		listFunc: func(ctx context.Context, skip, limit int, activeOnly bool) ([]*model.Item, error) {
			return []*model.Item{}, nil
		},
		getFunc: func(ctx context.Context, itemID string) (*model.Item, error) {
			return testItem(itemID, "アイテム"), nil
		},
	}
	userSvc := &mockUserService{
		listFunc: func(ctx context.Context, skip, limit int) ([]*model.User, error) {
			return []*model.User{}, nil
		},
	}
	authSvc := &mockAuthService{
		sessionLoginFunc: func(ctx context.Context, idToken string) (string, int, error) {
			return "new-session", 604800, nil
		},
	}

	return NewRouter(&RouterDeps{
		SessionResolver:   resolver,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		CSRFConfig:        middleware.CSRFConfig{},
		AuthService:       authSvc,
		AuthConfig:        AuthHandlerConfig{},
		ItemService:       itemSvc,
		UserService:       userSvc,
	})
}

// csrfRequest は状態変更メソッド用にCSRFトークンを付与したリクエストを生成する。
func csrfRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "test-csrf-token"})
	req.Header.Set("X-CSRF-Token", "test-csrf-token")
	return req
}

func TestRouter_HealthCheck_Public(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスボディのデコードに失敗: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestRouter_CSRFTokenEndpoint_Public(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_ProtectedRoutes_RequireSession(t *testing.T) {
	router := newTestRouter(t, nil)

	protectedGETs := []string{
		"/api/items",
		"/api/items/item-1",
		"/api/items/name/some-name",
		"/api/users",
		"/api/users/user-1",
	}

	for _, path := range protectedGETs {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestRouter_ProtectedRoute_ValidSession_Passes(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_SessionLogin_BypassesSessionMiddleware(t *testing.T) {
	router := newTestRouter(t, nil)

	// セッションCookieなしでもログインエンドポイントは到達できる
	req := csrfRequest(http.MethodPost, "/auth/session-login", `{"id_token":"some-token"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_StateChangingWithoutCSRF_Returns403(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/session-login",
		strings.NewReader(`{"id_token":"some-token"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRouter_SessionLogout_Public(t *testing.T) {
	router := newTestRouter(t, nil)

	req := csrfRequest(http.MethodPost, "/auth/session-logout", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_ProviderUnavailable_Returns503(t *testing.T) {
	resolver := &mockSessionResolver{
		resolveFunc: func(ctx context.Context, sessionCookie string) (*fireauth.Claims, error) {
			return nil, auth.ErrProviderUnavailable
		},
	}
	router := newTestRouter(t, resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "anything"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
