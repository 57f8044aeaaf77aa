package fireauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testProjectID = "velo-test"

// testKeyPair はテスト用のRSA鍵ペアと自己署名証明書を保持する。
type testKeyPair struct {
	key     *rsa.PrivateKey
	keyPEM  string
	certPEM string
	kid     string
}

// newTestKeyPair はRSA鍵と自己署名証明書を生成する。
func newTestKeyPair(t *testing.T, kid string) *testKeyPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("RSA鍵の生成に失敗: %v", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("証明書の生成に失敗: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	return &testKeyPair{
		key:     key,
		keyPEM:  string(keyPEM),
		certPEM: string(certPEM),
		kid:     kid,
	}
}

// certsHandler はGoogleの証明書エンドポイントを模したハンドラーを返す。
func certsHandler(pairs ...*testKeyPair) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certs := make(map[string]string, len(pairs))
		for _, p := range pairs {
			certs[p.kid] = p.certPEM
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(certs)
	}
}

// tokenHandler はサービスアカウントのトークンエンドポイントを模したハンドラー。
func tokenHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// signToken は指定のクレームでRS256署名済みJWTを生成する。
func signToken(t *testing.T, pair *testKeyPair, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = pair.kid

	signed, err := token.SignedString(pair.key)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return signed
}

// idTokenClaims はIDトークンの正常なクレーム一式を返す。
func idTokenClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"aud":       testProjectID,
		"iss":       "https://securetoken.google.com/" + testProjectID,
		"sub":       "firebase-uid-1",
		"email":     "taro@example.com",
		"name":      "山田太郎",
		"auth_time": float64(now.Unix()),
		"iat":       float64(now.Unix()),
		"exp":       float64(now.Add(time.Hour).Unix()),
	}
}

// newTestClient は各エンドポイントをテストサーバーに向けたClientを生成する。
func newTestClient(t *testing.T, pair *testKeyPair, apiHandler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/id-certs", certsHandler(pair))
	mux.HandleFunc("/session-certs", certsHandler(pair))
	mux.HandleFunc("/token", tokenHandler)
	if apiHandler != nil {
		mux.Handle("/v1/", apiHandler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		ProjectID:       testProjectID,
		ClientEmail:     "sa@velo-test.iam.gserviceaccount.com",
		PrivateKey:      pair.keyPEM,
		IDTokenCertsURL: server.URL + "/id-certs",
		SessionCertsURL: server.URL + "/session-certs",
		TokenURL:        server.URL + "/token",
		APIBaseURL:      server.URL + "/v1",
		HTTPClient:      server.Client(),
	})
	if err != nil {
		t.Fatalf("クライアント生成に失敗: %v", err)
	}
	return client, server
}

func TestNewClient_MissingSecrets_ReturnsErrNotConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"all empty", Config{}},
		{"missing project ID", Config{ClientEmail: "a@b", PrivateKey: "key"}},
		{"missing client email", Config{ProjectID: "p", PrivateKey: "key"}},
		{"missing private key", Config{ProjectID: "p", ClientEmail: "a@b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config)
			if !errors.Is(err, ErrNotConfigured) {
				t.Errorf("expected ErrNotConfigured, got %v", err)
			}
		})
	}
}

func TestVerifyIDToken_ValidToken_ReturnsClaims(t *testing.T) {
	pair := newTestKeyPair(t, "kid-1")
	client, _ := newTestClient(t, pair, nil)

	idToken := signToken(t, pair, idTokenClaims())

	claims, err := client.VerifyIDToken(context.Background(), idToken)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if claims.Subject != "firebase-uid-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "firebase-uid-1")
	}
	if claims.Email != "taro@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "taro@example.com")
	}
	if claims.Name != "山田太郎" {
		t.Errorf("Name = %q, want %q", claims.Name, "山田太郎")
	}
}

func TestVerifyIDToken_InvalidTokens_ReturnErrInvalidToken(t *testing.T) {
	pair := newTestKeyPair(t, "kid-1")
	client, _ := newTestClient(t, pair, nil)

	otherPair := newTestKeyPair(t, "kid-1")

	tests := []struct {
		name   string
		mutate func(c jwt.MapClaims) (signWith *testKeyPair)
	}{
		{"wrong audience", func(c jwt.MapClaims) *testKeyPair {
			c["aud"] = "other-project"
			return pair
		}},
		{"wrong issuer", func(c jwt.MapClaims) *testKeyPair {
			c["iss"] = "https://accounts.google.com"
			return pair
		}},
		{"expired", func(c jwt.MapClaims) *testKeyPair {
			c["exp"] = float64(time.Now().Add(-time.Hour).Unix())
			return pair
		}},
		{"missing expiration", func(c jwt.MapClaims) *testKeyPair {
			delete(c, "exp")
			return pair
		}},
		{"empty subject", func(c jwt.MapClaims) *testKeyPair {
			c["sub"] = ""
			return pair
		}},
		{"signed with unknown key", func(c jwt.MapClaims) *testKeyPair {
			return otherPair
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := idTokenClaims()
			signWith := tt.mutate(claims)

			idToken := signToken(t, signWith, claims)

			_, err := client.VerifyIDToken(context.Background(), idToken)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerifyIDToken_GarbageInput_ReturnsErrInvalidToken(t *testing.T) {
	pair := newTestKeyPair(t, "kid-1")
	client, _ := newTestClient(t, pair, nil)

	_, err := client.VerifyIDToken(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCreateSessionCookie_Success(t *testing.T) {
	pair := newTestKeyPair(t, "kid-1")

	var gotBody map[string]string
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			t.Errorf("unexpected Authorization header: %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"sessionCookie": "session-cookie-value"})
	})
	client, _ := newTestClient(t, pair, api)

	cookie, err := client.CreateSessionCookie(context.Background(), "some-id-token", 604800)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cookie != "session-cookie-value" {
		t.Errorf("cookie = %q, want %q", cookie, "session-cookie-value")
	}
	if gotBody["validDuration"] != "604800s" {
		t.Errorf("validDuration = %q, want %q", gotBody["validDuration"], "604800s")
	}
	if gotBody["idToken"] != "some-id-token" {
		t.Errorf("idToken = %q, want %q", gotBody["idToken"], "some-id-token")
	}
}

func TestCreateSessionCookie_RejectedByIdP_ReturnsErrInvalidToken(t *testing.T) {
	pair := newTestKeyPair(t, "kid-1")

	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"INVALID_ID_TOKEN"}}`, http.StatusBadRequest)
	})
	client, _ := newTestClient(t, pair, api)

	_, err := client.CreateSessionCookie(context.Background(), "bad-token", 3600)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

// sessionCookieClaims はセッションCookieの正常なクレーム一式を返す。
func sessionCookieClaims(authTime time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"aud":       testProjectID,
		"iss":       "https://session.firebase.google.com/" + testProjectID,
		"sub":       "firebase-uid-1",
		"email":     "taro@example.com",
		"auth_time": float64(authTime.Unix()),
		"iat":       float64(authTime.Unix()),
		"exp":       float64(authTime.Add(7 * 24 * time.Hour).Unix()),
	}
}

// lookupHandler はaccounts:lookupを模したハンドラーを返す。
func lookupHandler(validSince string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"users": []map[string]string{
				{"localId": "firebase-uid-1", "validSince": validSince},
			},
		})
	}
}

func TestVerifySessionCookie_WithoutRevocationCheck(t *testing.T) {
	pair := newTestKeyPair(t, "kid-1")
	client, _ := newTestClient(t, pair, nil)

	cookie := signToken(t, pair, sessionCookieClaims(time.Now()))

	claims, err := client.VerifySessionCookie(context.Background(), cookie, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if claims.Subject != "firebase-uid-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "firebase-uid-1")
	}
}

func TestVerifySessionCookie_IDTokenIssuer_Rejected(t *testing.T) {
	// IDトークンをセッションCookieとして使い回すことはできない
	pair := newTestKeyPair(t, "kid-1")
	client, _ := newTestClient(t, pair, nil)

	idToken := signToken(t, pair, idTokenClaims())

	_, err := client.VerifySessionCookie(context.Background(), idToken, false)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifySessionCookie_RevokedSession_Rejected(t *testing.T) {
	pair := newTestKeyPair(t, "kid-1")

	authTime := time.Now().Add(-time.Hour)
	// validSinceが認証時刻より後 = 認証後に失効操作が行われた
	revokedAt := time.Now().Add(-30 * time.Minute)
	client, _ := newTestClient(t, pair, lookupHandler(
		strconv.FormatInt(revokedAt.Unix(), 10),
	))

	cookie := signToken(t, pair, sessionCookieClaims(authTime))

	_, err := client.VerifySessionCookie(context.Background(), cookie, true)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for revoked session, got %v", err)
	}
}

func TestVerifySessionCookie_NotRevoked_Accepted(t *testing.T) {
	pair := newTestKeyPair(t, "kid-1")

	authTime := time.Now().Add(-time.Hour)
	// validSinceが認証時刻より前 = 認証後の失効操作はない
	client, _ := newTestClient(t, pair, lookupHandler(
		strconv.FormatInt(authTime.Add(-24*time.Hour).Unix(), 10),
	))

	cookie := signToken(t, pair, sessionCookieClaims(authTime))

	claims, err := client.VerifySessionCookie(context.Background(), cookie, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if claims.Subject != "firebase-uid-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "firebase-uid-1")
	}
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Duration
	}{
		{"standard directive", "public, max-age=19302, must-revalidate", 19302 * time.Second},
		{"only max-age", "max-age=60", 60 * time.Second},
		{"missing max-age", "no-cache", defaultKeyTTL},
		{"empty header", "", defaultKeyTTL},
		{"invalid value", "max-age=abc", defaultKeyTTL},
		{"zero value", "max-age=0", defaultKeyTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseMaxAge(tt.input); got != tt.want {
				t.Errorf("parseMaxAge(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestKeyCache_RefetchesOnUnknownKid(t *testing.T) {
	pair1 := newTestKeyPair(t, "kid-1")
	pair2 := newTestKeyPair(t, "kid-2")

	// 1回目はkid-1のみ、2回目以降はkid-2も含める（鍵ローテーションを模す）
	var fetchCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetchCount++
		if fetchCount == 1 {
			certsHandler(pair1)(w, r)
			return
		}
		certsHandler(pair1, pair2)(w, r)
	}))
	defer server.Close()

	cache := newKeyCache(server.URL, server.Client())

	if _, err := cache.key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("kid-1の取得に失敗: %v", err)
	}
	if _, err := cache.key(context.Background(), "kid-2"); err != nil {
		t.Fatalf("ローテーション後のkid-2の取得に失敗: %v", err)
	}
	if fetchCount != 2 {
		t.Errorf("fetchCount = %d, want 2", fetchCount)
	}

	// キャッシュ済みのkidは再取得しない
	if _, err := cache.key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("キャッシュ済みkid-1の取得に失敗: %v", err)
	}
	if fetchCount != 2 {
		t.Errorf("fetchCount after cached access = %d, want 2", fetchCount)
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	pair := newTestKeyPair(t, "kid-1")
	config := Config{
		ProjectID:   testProjectID,
		ClientEmail: "sa@velo-test.iam.gserviceaccount.com",
		PrivateKey:  pair.keyPEM,
	}

	first, err := Initialize(config)
	if err != nil {
		t.Fatalf("1回目のInitializeに失敗: %v", err)
	}

	// 2回目は設定が異なっても最初のインスタンスを返す
	second, err := Initialize(Config{
		ProjectID:   "other-project",
		ClientEmail: "other@example.com",
		PrivateKey:  pair.keyPEM,
	})
	if err != nil {
		t.Fatalf("2回目のInitializeに失敗: %v", err)
	}

	if first != second {
		t.Error("expected both Initialize calls to return the same instance")
	}

	got, ok := Default()
	if !ok || got != first {
		t.Error("Default should return the initialized instance")
	}
}

func TestInitialize_Concurrent_ConvergesOnSingleInstance(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	pair := newTestKeyPair(t, "kid-1")
	config := Config{
		ProjectID:   testProjectID,
		ClientEmail: "sa@velo-test.iam.gserviceaccount.com",
		PrivateKey:  pair.keyPEM,
	}

	const goroutines = 16
	clients := make([]*Client, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := Initialize(config)
			if err != nil {
				t.Errorf("Initializeに失敗: %v", err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if clients[i] != clients[0] {
			t.Fatalf("goroutine %d got a different instance", i)
		}
	}
}

func TestDefault_BeforeInitialize_ReturnsFalse(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	if _, ok := Default(); ok {
		t.Error("Default should return false before Initialize")
	}
}
