// Package auth はセッションCookieによる認証フローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veloapp/velo-backend/internal/fireauth"
	"github.com/veloapp/velo-backend/internal/model"
	"github.com/veloapp/velo-backend/internal/repository"
)

// AuthProviderName はDBに記録する外部IdPの識別子。
const AuthProviderName = "firebase"

var (
	// ErrProviderUnavailable は認証プロバイダーが未構成であることを示す。
	ErrProviderUnavailable = errors.New("auth: provider unavailable")

	// ErrUnauthorized はトークンまたはセッションCookieの検証失敗を示す。
	// 不正・期限切れ・失効の区別は意図的に行わない。
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// Provider は外部IdPに対するトークン検証・セッションCookie発行のインターフェース。
// 本番実装はfireauth.Client。テストでは関数フィールドのモックを使う。
type Provider interface {
	// VerifyIDToken はIdPが発行したIDトークンを検証しクレームを返す。
	VerifyIDToken(ctx context.Context, idToken string) (*fireauth.Claims, error)
	// CreateSessionCookie はIDトークンをセッションCookie値に交換する。
	CreateSessionCookie(ctx context.Context, idToken string, ttlSeconds int) (string, error)
	// VerifySessionCookie はセッションCookie値を検証しクレームを返す。
	VerifySessionCookie(ctx context.Context, sessionCookie string, checkRevoked bool) (*fireauth.Claims, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッションCookie有効期間（秒）
}

// Service はセッション認証に関するビジネスロジックを提供する。
// providerがnilの場合、全ての操作はErrProviderUnavailableを返す。
type Service struct {
	provider Provider
	userRepo repository.UserRepository
	config   ServiceConfig
}

// NewService はServiceを生成する。
// 認証プロバイダーが未構成の環境ではproviderにnilを渡す。
func NewService(provider Provider, userRepo repository.UserRepository, config ServiceConfig) *Service {
	return &Service{
		provider: provider,
		userRepo: userRepo,
		config:   config,
	}
}

// SessionMaxAge はセッションCookieの有効期間（秒）を返す。
func (s *Service) SessionMaxAge() int {
	return s.config.SessionMaxAge
}

// SessionLogin はIDトークンを検証し、セッションCookie値を発行する。
// 返り値はCookie値と有効期間（秒）。検証失敗時はErrUnauthorizedを返す。
func (s *Service) SessionLogin(ctx context.Context, idToken string) (string, int, error) {
	if s.provider == nil {
		return "", 0, ErrProviderUnavailable
	}
	if idToken == "" {
		return "", 0, ErrUnauthorized
	}

	// 1. IDトークン自体を検証する。交換APIに渡す前に不正なトークンを弾く。
	claims, err := s.provider.VerifyIDToken(ctx, idToken)
	if err != nil {
		if errors.Is(err, fireauth.ErrNotConfigured) {
			return "", 0, ErrProviderUnavailable
		}
		slog.Info("session login rejected", slog.String("reason", "id token verification failed"))
		return "", 0, ErrUnauthorized
	}

	// 2. IDトークンをより長寿命のセッションCookieに交換する
	cookie, err := s.provider.CreateSessionCookie(ctx, idToken, s.config.SessionMaxAge)
	if err != nil {
		if errors.Is(err, fireauth.ErrNotConfigured) {
			return "", 0, ErrProviderUnavailable
		}
		if errors.Is(err, fireauth.ErrInvalidToken) {
			return "", 0, ErrUnauthorized
		}
		// IdP側の障害やネットワークエラー。詳細はログにのみ残し、
		// 呼び出し側にはプロバイダー利用不可としてのみ伝える。
		slog.Error("session cookie exchange failed", slog.String("error", err.Error()))
		return "", 0, ErrProviderUnavailable
	}

	slog.Info("session login succeeded", slog.String("subject", claims.Subject))
	return cookie, s.config.SessionMaxAge, nil
}

// ResolveSession はセッションCookie値を検証しクレームを返す。
// 失効チェックまで行う。Cookie値が空の場合はプロバイダーを呼ばずに
// ErrUnauthorizedを返す。
func (s *Service) ResolveSession(ctx context.Context, sessionCookie string) (*fireauth.Claims, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	if sessionCookie == "" {
		return nil, ErrUnauthorized
	}

	claims, err := s.provider.VerifySessionCookie(ctx, sessionCookie, true)
	if err != nil {
		if errors.Is(err, fireauth.ErrNotConfigured) {
			return nil, ErrProviderUnavailable
		}
		return nil, ErrUnauthorized
	}

	return claims, nil
}

// CurrentUser は検証済みクレームに対応するユーザーレコードを返す。
// 未登録ユーザーの場合はレコードを自動作成し、登録済みユーザーの場合は
// IdP側の最新のemail・表示名を反映する。
func (s *Service) CurrentUser(ctx context.Context, claims *fireauth.Claims) (*model.User, error) {
	var displayName *string
	if claims.Name != "" {
		displayName = &claims.Name
	}

	user, err := s.userRepo.UpsertFromClaims(ctx, AuthProviderName, claims.Subject, claims.Email, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user from claims: %w", err)
	}

	return user, nil
}
