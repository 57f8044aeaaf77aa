package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/veloapp/velo-backend/internal/auth"
	"github.com/veloapp/velo-backend/internal/fireauth"
	"github.com/veloapp/velo-backend/internal/metrics"
	"github.com/veloapp/velo-backend/internal/middleware"
	"github.com/veloapp/velo-backend/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// SessionLogin はIDトークンを検証しセッションCookie値と有効期間（秒）を返す。
	SessionLogin(ctx context.Context, idToken string) (string, int, error)
	// ResolveSession はセッションCookie値を検証しクレームを返す。
	ResolveSession(ctx context.Context, sessionCookie string) (*fireauth.Claims, error)
	// CurrentUser はクレームに対応するユーザーを取得または作成する。
	CurrentUser(ctx context.Context, claims *fireauth.Claims) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はセッション認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	config    AuthHandlerConfig
	collector metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。collectorはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, collector metrics.MetricsCollector) *AuthHandler {
	return &AuthHandler{
		service:   service,
		config:    config,
		collector: collector,
	}
}

// sessionLoginRequest はセッションログインリクエストのボディ。
type sessionLoginRequest struct {
	IDToken string `json:"id_token"`
}

// userResponse はユーザー情報のJSON表現。
type userResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName *string  `json:"display_name"`
	Roles       []string `json:"roles"`
	ActiveMode  string   `json:"active_mode"`
}

func toUserResponse(u *model.User) userResponse {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       roles,
		ActiveMode:  string(u.ActiveMode),
	}
}

// SessionLogin はIDトークンをセッションCookieに交換する。
// POST /auth/session-login
// 成功時はHTTP OnlyのセッションCookieを設定する。
func (h *AuthHandler) SessionLogin(w http.ResponseWriter, r *http.Request) {
	var req sessionLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("failed to parse request body"))
		return
	}
	if req.IDToken == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("id_token is required"))
		return
	}

	cookieValue, maxAge, err := h.service.SessionLogin(r.Context(), req.IDToken)
	if err != nil {
		h.recordLogin(false)
		h.handleAuthError(w, err)
		return
	}
	h.recordLogin(true)

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// SessionLogout はセッションCookieをクリアする。
// POST /auth/session-logout
// Cookieの有無にかかわらず冪等に成功する。
func (h *AuthHandler) SessionLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
// 未登録ユーザーの場合はレコードを自動作成して返す。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	claims, err := h.service.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if h.collector != nil {
		h.collector.RecordUserUpserted()
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleAuthError は認証サービスのエラーをHTTPレスポンスに変換する。
// 検証失敗の理由はレスポンスに含めない。
func (h *AuthHandler) handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrProviderUnavailable):
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewAuthUnavailableError())
	case errors.Is(err, auth.ErrUnauthorized):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	default:
		slog.Error("auth service error", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     "INTERNAL_ERROR",
			Message:  "内部エラーが発生しました。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
	}
}

func (h *AuthHandler) recordLogin(success bool) {
	if h.collector != nil {
		h.collector.RecordSessionLogin(success)
	}
}
