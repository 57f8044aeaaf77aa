package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veloapp/velo-backend/internal/fireauth"
	"github.com/veloapp/velo-backend/internal/model"
)

// mockProvider はProviderのモック実装。
type mockProvider struct {
	verifyIDTokenFunc       func(ctx context.Context, idToken string) (*fireauth.Claims, error)
	createSessionCookieFunc func(ctx context.Context, idToken string, ttlSeconds int) (string, error)
	verifySessionCookieFunc func(ctx context.Context, sessionCookie string, checkRevoked bool) (*fireauth.Claims, error)
}

func (m *mockProvider) VerifyIDToken(ctx context.Context, idToken string) (*fireauth.Claims, error) {
	return m.verifyIDTokenFunc(ctx, idToken)
}

func (m *mockProvider) CreateSessionCookie(ctx context.Context, idToken string, ttlSeconds int) (string, error) {
	return m.createSessionCookieFunc(ctx, idToken, ttlSeconds)
}

func (m *mockProvider) VerifySessionCookie(ctx context.Context, sessionCookie string, checkRevoked bool) (*fireauth.Claims, error) {
	return m.verifySessionCookieFunc(ctx, sessionCookie, checkRevoked)
}

// mockUserRepo はrepository.UserRepositoryのモック実装。
type mockUserRepo struct {
	upsertFromClaimsFunc  func(ctx context.Context, provider, subject, email string, displayName *string) (*model.User, error)
	findByAuthSubjectFunc func(ctx context.Context, provider, subject string) (*model.User, error)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) GetAll(ctx context.Context, skip, limit int) ([]*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, payload model.UserCreate) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Update(ctx context.Context, id string, payload model.UserUpdate) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (m *mockUserRepo) FindByAuthSubject(ctx context.Context, provider, subject string) (*model.User, error) {
	if m.findByAuthSubjectFunc != nil {
		return m.findByAuthSubjectFunc(ctx, provider, subject)
	}
	return nil, nil
}

func (m *mockUserRepo) UpsertFromClaims(ctx context.Context, provider, subject, email string, displayName *string) (*model.User, error) {
	return m.upsertFromClaimsFunc(ctx, provider, subject, email, displayName)
}

func testClaims() *fireauth.Claims {
	return &fireauth.Claims{
		Subject:  "firebase-uid-1",
		Email:    "taro@example.com",
		Name:     "山田太郎",
		AuthTime: time.Now().Add(-time.Minute),
		Expires:  time.Now().Add(time.Hour),
	}
}

func TestSessionLogin_Success(t *testing.T) {
	var gotTTL int
	provider := &mockProvider{
		verifyIDTokenFunc: func(ctx context.Context, idToken string) (*fireauth.Claims, error) {
			return testClaims(), nil
		},
		createSessionCookieFunc: func(ctx context.Context, idToken string, ttlSeconds int) (string, error) {
			gotTTL = ttlSeconds
			return "cookie-value", nil
		},
	}

	svc := NewService(provider, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 604800})

	cookie, maxAge, err := svc.SessionLogin(context.Background(), "valid-id-token")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cookie != "cookie-value" {
		t.Errorf("cookie = %q, want %q", cookie, "cookie-value")
	}
	if maxAge != 604800 {
		t.Errorf("maxAge = %d, want 604800", maxAge)
	}
	if gotTTL != 604800 {
		t.Errorf("provider ttl = %d, want 604800", gotTTL)
	}
}

func TestSessionLogin_NilProvider_ReturnsProviderUnavailable(t *testing.T) {
	svc := NewService(nil, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	_, _, err := svc.SessionLogin(context.Background(), "token")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestSessionLogin_EmptyToken_ReturnsUnauthorized(t *testing.T) {
	called := false
	provider := &mockProvider{
		verifyIDTokenFunc: func(ctx context.Context, idToken string) (*fireauth.Claims, error) {
			called = true
			return testClaims(), nil
		},
	}
	svc := NewService(provider, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	_, _, err := svc.SessionLogin(context.Background(), "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if called {
		t.Error("provider should not be called for empty token")
	}
}

func TestSessionLogin_VerificationFails_ReturnsUnauthorized(t *testing.T) {
	provider := &mockProvider{
		verifyIDTokenFunc: func(ctx context.Context, idToken string) (*fireauth.Claims, error) {
			return nil, fireauth.ErrInvalidToken
		},
	}
	svc := NewService(provider, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	_, _, err := svc.SessionLogin(context.Background(), "bad-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSessionLogin_ExchangeRejected_ReturnsUnauthorized(t *testing.T) {
	provider := &mockProvider{
		verifyIDTokenFunc: func(ctx context.Context, idToken string) (*fireauth.Claims, error) {
			return testClaims(), nil
		},
		createSessionCookieFunc: func(ctx context.Context, idToken string, ttlSeconds int) (string, error) {
			return "", fireauth.ErrInvalidToken
		},
	}
	svc := NewService(provider, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	_, _, err := svc.SessionLogin(context.Background(), "stale-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSessionLogin_ExchangeFailure_ReturnsProviderUnavailable(t *testing.T) {
	// IdPの5xxやネットワークエラーは2分類（認可エラー／プロバイダー利用不可）の
	// 外に漏れてはならない
	provider := &mockProvider{
		verifyIDTokenFunc: func(ctx context.Context, idToken string) (*fireauth.Claims, error) {
			return testClaims(), nil
		},
		createSessionCookieFunc: func(ctx context.Context, idToken string, ttlSeconds int) (string, error) {
			return "", errors.New("request failed with status 500: backend error")
		},
	}
	svc := NewService(provider, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	_, _, err := svc.SessionLogin(context.Background(), "valid-token")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestResolveSession_Success_ChecksRevocation(t *testing.T) {
	var gotCheckRevoked bool
	provider := &mockProvider{
		verifySessionCookieFunc: func(ctx context.Context, sessionCookie string, checkRevoked bool) (*fireauth.Claims, error) {
			gotCheckRevoked = checkRevoked
			return testClaims(), nil
		},
	}
	svc := NewService(provider, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	claims, err := svc.ResolveSession(context.Background(), "cookie-value")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if claims.Subject != "firebase-uid-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "firebase-uid-1")
	}
	if !gotCheckRevoked {
		t.Error("ResolveSession should check revocation")
	}
}

func TestResolveSession_EmptyCookie_SkipsProvider(t *testing.T) {
	called := false
	provider := &mockProvider{
		verifySessionCookieFunc: func(ctx context.Context, sessionCookie string, checkRevoked bool) (*fireauth.Claims, error) {
			called = true
			return testClaims(), nil
		},
	}
	svc := NewService(provider, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	_, err := svc.ResolveSession(context.Background(), "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if called {
		t.Error("provider should not be called for empty cookie")
	}
}

func TestResolveSession_InvalidCookie_ReturnsUnauthorized(t *testing.T) {
	provider := &mockProvider{
		verifySessionCookieFunc: func(ctx context.Context, sessionCookie string, checkRevoked bool) (*fireauth.Claims, error) {
			return nil, fireauth.ErrInvalidToken
		},
	}
	svc := NewService(provider, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	_, err := svc.ResolveSession(context.Background(), "expired-cookie")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveSession_NilProvider_ReturnsProviderUnavailable(t *testing.T) {
	svc := NewService(nil, &mockUserRepo{}, ServiceConfig{SessionMaxAge: 3600})

	_, err := svc.ResolveSession(context.Background(), "cookie-value")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestCurrentUser_UpsertsFromClaims(t *testing.T) {
	var gotProvider, gotSubject, gotEmail string
	var gotDisplayName *string

	repo := &mockUserRepo{
		upsertFromClaimsFunc: func(ctx context.Context, provider, subject, email string, displayName *string) (*model.User, error) {
			gotProvider = provider
			gotSubject = subject
			gotEmail = email
			gotDisplayName = displayName
			return &model.User{
				ID:           "user-1",
				AuthProvider: provider,
				AuthSubject:  subject,
				Email:        email,
				DisplayName:  displayName,
				Roles:        []string{},
				ActiveMode:   model.UserModeStudent,
			}, nil
		},
	}
	svc := NewService(&mockProvider{}, repo, ServiceConfig{SessionMaxAge: 3600})

	user, err := svc.CurrentUser(context.Background(), testClaims())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if gotProvider != AuthProviderName {
		t.Errorf("provider = %q, want %q", gotProvider, AuthProviderName)
	}
	if gotSubject != "firebase-uid-1" {
		t.Errorf("subject = %q, want %q", gotSubject, "firebase-uid-1")
	}
	if gotEmail != "taro@example.com" {
		t.Errorf("email = %q, want %q", gotEmail, "taro@example.com")
	}
	if gotDisplayName == nil || *gotDisplayName != "山田太郎" {
		t.Errorf("displayName = %v, want 山田太郎", gotDisplayName)
	}
	if user.ID != "user-1" {
		t.Errorf("user.ID = %q, want %q", user.ID, "user-1")
	}
}

func TestCurrentUser_EmptyName_PassesNilDisplayName(t *testing.T) {
	var gotDisplayName *string
	repo := &mockUserRepo{
		upsertFromClaimsFunc: func(ctx context.Context, provider, subject, email string, displayName *string) (*model.User, error) {
			gotDisplayName = displayName
			return &model.User{ID: "user-1"}, nil
		},
	}
	svc := NewService(&mockProvider{}, repo, ServiceConfig{SessionMaxAge: 3600})

	claims := testClaims()
	claims.Name = ""

	if _, err := svc.CurrentUser(context.Background(), claims); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotDisplayName != nil {
		t.Errorf("displayName = %v, want nil", gotDisplayName)
	}
}

func TestCurrentUser_RepositoryError_Propagates(t *testing.T) {
	repo := &mockUserRepo{
		upsertFromClaimsFunc: func(ctx context.Context, provider, subject, email string, displayName *string) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}
	svc := NewService(&mockProvider{}, repo, ServiceConfig{SessionMaxAge: 3600})

	_, err := svc.CurrentUser(context.Background(), testClaims())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
