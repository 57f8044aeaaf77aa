// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/veloapp/velo-backend/internal/auth"
	"github.com/veloapp/velo-backend/internal/fireauth"
	"github.com/veloapp/velo-backend/internal/model"
)

// SessionCookieName はセッションCookieの名前。
// Firebase Hosting経由でバックエンドに転送される唯一のCookie名であるため固定。
const SessionCookieName = "__session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストに検証済みクレームを格納するためのキー。
var claimsContextKey = contextKey("session_claims")

// SessionResolver はセッションCookieの検証に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionCookie string) (*fireauth.Claims, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 検証済みクレームをリクエストコンテキストに注入する。
// Cookieがないリクエストはプロバイダーを呼ばずに401を返す。
// 認証プロバイダー未構成の場合は503を返す。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションCookie値を取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. セッションCookieの有効性を検証（失効チェックを含む）
			claims, err := resolver.ResolveSession(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, auth.ErrProviderUnavailable) {
					WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewAuthUnavailableError())
					return
				}
				if !errors.Is(err, auth.ErrUnauthorized) {
					slog.Error("failed to resolve session",
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 検証済みクレームをコンテキストに注入
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext はリクエストコンテキストから検証済みクレームを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*fireauth.Claims, error) {
	claims, ok := ctx.Value(claimsContextKey).(*fireauth.Claims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("session claims not found in context")
	}
	return claims, nil
}

// SubjectFromContext はリクエストコンテキストから認証済みユーザーの
// Firebase UIDを取得する。
func SubjectFromContext(ctx context.Context) (string, error) {
	claims, err := ClaimsFromContext(ctx)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("session claims have empty subject")
	}
	return claims.Subject, nil
}

// ContextWithClaims はコンテキストに検証済みクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *fireauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
