// Package fireauth はFirebase Authenticationに対するIDトークン検証、
// セッションCookieの発行・検証を提供する。
// Admin SDKは使用せず、Googleの公開証明書とIdentity Toolkit REST APIを
// 直接利用する。
package fireauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	oauthjwt "golang.org/x/oauth2/jwt"
)

const (
	// IDトークン署名証明書（securetoken）
	defaultIDTokenCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	// セッションCookie署名証明書
	defaultSessionCertsURL = "https://www.googleapis.com/identitytoolkit/v3/relyingparty/publicKeys"
	// サービスアカウントのトークンエンドポイント
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	// Identity Toolkit REST APIのベースURL
	defaultAPIBaseURL = "https://identitytoolkit.googleapis.com/v1"

	identityToolkitScope = "https://www.googleapis.com/auth/identitytoolkit"
)

var (
	// ErrNotConfigured はFirebaseの3つのシークレット
	// （プロジェクトID、クライアントメール、秘密鍵）のいずれかが
	// 未設定であることを示す。ネットワーク呼び出しは行われない。
	ErrNotConfigured = errors.New("fireauth: not configured")

	// ErrInvalidToken はトークンまたはセッションCookieが
	// 不正・期限切れ・失効のいずれかであることを示す。
	// 呼び出し側が失敗理由を区別する必要はない前提で1つに集約する。
	ErrInvalidToken = errors.New("fireauth: invalid token")
)

// Claims はトークン検証後にIdPから得られるユーザーのクレームを表す。
type Claims struct {
	Subject  string         // Firebase UID
	Email    string         // メールアドレス
	Name     string         // 表示名。IdPが返さない場合は空文字列
	AuthTime time.Time      // 元の認証が行われた時刻
	Expires  time.Time      // トークンの有効期限
	Raw      map[string]any // デコード済みの全クレーム
}

// Config はfireauthクライアントの設定。
// 3つのシークレットはサービスアカウントJSONに由来する。
type Config struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string

	// テスト用にオーバーライド可能なURL
	IDTokenCertsURL string
	SessionCertsURL string
	TokenURL        string
	APIBaseURL      string

	// HTTPClient はテスト用に差し替え可能。nilの場合はデフォルトを使用する。
	HTTPClient *http.Client
}

// Client はFirebase Authenticationとの通信を行うクライアント。
// 並行リクエストから安全に共有できる。
type Client struct {
	config      Config
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	idTokenKeys *keyCache
	sessionKeys *keyCache
	parser      *jwt.Parser
}

// NewClient はClientを生成する。
// 3つのシークレットのいずれかが空の場合はErrNotConfiguredを返す。
func NewClient(config Config) (*Client, error) {
	if config.ProjectID == "" || config.ClientEmail == "" || config.PrivateKey == "" {
		return nil, ErrNotConfigured
	}

	if config.IDTokenCertsURL == "" {
		config.IDTokenCertsURL = defaultIDTokenCertsURL
	}
	if config.SessionCertsURL == "" {
		config.SessionCertsURL = defaultSessionCertsURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	// Identity Toolkit REST API呼び出し用のサービスアカウントトークンソース。
	// JWT assertion grantでアクセストークンを取得し、有効期限内は再利用する。
	saConfig := &oauthjwt.Config{
		Email:      config.ClientEmail,
		PrivateKey: []byte(config.PrivateKey),
		Scopes:     []string{identityToolkitScope},
		TokenURL:   config.TokenURL,
	}

	return &Client{
		config:      config,
		httpClient:  httpClient,
		tokenSource: saConfig.TokenSource(context.Background()),
		idTokenKeys: newKeyCache(config.IDTokenCertsURL, httpClient),
		sessionKeys: newKeyCache(config.SessionCertsURL, httpClient),
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired()),
	}, nil
}

// VerifyIDToken はクライアントから受け取った短命のIDトークンを検証し、
// クレームを返す。署名・有効期限・発行者・audienceのいずれかが不正な場合は
// ErrInvalidTokenを返す。
func (c *Client) VerifyIDToken(ctx context.Context, idToken string) (*Claims, error) {
	return c.verifyJWT(ctx, idToken, c.idTokenKeys,
		"https://securetoken.google.com/"+c.config.ProjectID)
}

// CreateSessionCookie は検証済みのIDトークンを長命のセッションCookieに交換する。
// ttlSecondsはIdPに渡す有効期間（秒）。
func (c *Client) CreateSessionCookie(ctx context.Context, idToken string, ttlSeconds int) (string, error) {
	reqBody, err := json.Marshal(map[string]string{
		"idToken":       idToken,
		"validDuration": strconv.Itoa(ttlSeconds) + "s",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session cookie request: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s:createSessionCookie", c.config.APIBaseURL, c.config.ProjectID)

	body, err := c.postJSON(ctx, url, reqBody)
	if err != nil {
		return "", err
	}

	var result struct {
		SessionCookie string `json:"sessionCookie"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse session cookie response: %w", err)
	}
	if result.SessionCookie == "" {
		return "", fmt.Errorf("empty session cookie in response: %w", ErrInvalidToken)
	}

	return result.SessionCookie, nil
}

// VerifySessionCookie はセッションCookieを検証し、クレームを返す。
// checkRevokedがtrueの場合はIdPに問い合わせ、Cookie自体が有効期限内でも
// サーバー側で失効済みのセッションを拒否する。
func (c *Client) VerifySessionCookie(ctx context.Context, sessionCookie string, checkRevoked bool) (*Claims, error) {
	claims, err := c.verifyJWT(ctx, sessionCookie, c.sessionKeys,
		"https://session.firebase.google.com/"+c.config.ProjectID)
	if err != nil {
		return nil, err
	}

	if checkRevoked {
		if err := c.checkRevocation(ctx, claims); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

// verifyJWT はRS256署名のJWTをGoogleの公開証明書で検証し、クレームを取り出す。
func (c *Client) verifyJWT(ctx context.Context, raw string, keys *keyCache, issuer string) (*Claims, error) {
	token, err := c.parser.Parse(raw, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing kid header")
		}
		return keys.key(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("jwt verification failed: %w: %w", err, ErrInvalidToken)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type: %w", ErrInvalidToken)
	}

	// audienceと発行者はプロジェクトに固定される
	aud, _ := mapClaims["aud"].(string)
	if aud != c.config.ProjectID {
		return nil, fmt.Errorf("unexpected audience: %w", ErrInvalidToken)
	}
	iss, _ := mapClaims["iss"].(string)
	if iss != issuer {
		return nil, fmt.Errorf("unexpected issuer: %w", ErrInvalidToken)
	}
	sub, _ := mapClaims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("empty subject: %w", ErrInvalidToken)
	}

	claims := &Claims{
		Subject: sub,
		Raw:     map[string]any(mapClaims),
	}
	claims.Email, _ = mapClaims["email"].(string)
	claims.Name, _ = mapClaims["name"].(string)
	if authTime, ok := mapClaims["auth_time"].(float64); ok {
		claims.AuthTime = time.Unix(int64(authTime), 0)
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.Expires = time.Unix(int64(exp), 0)
	}

	return claims, nil
}

// checkRevocation はaccounts:lookupでユーザーのvalidSinceを取得し、
// セッションの認証時刻より後にトークンが無効化されていないかを確認する。
func (c *Client) checkRevocation(ctx context.Context, claims *Claims) error {
	reqBody, err := json.Marshal(map[string][]string{
		"localId": {claims.Subject},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal lookup request: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/accounts:lookup", c.config.APIBaseURL, c.config.ProjectID)

	body, err := c.postJSON(ctx, url, reqBody)
	if err != nil {
		return err
	}

	var result struct {
		Users []struct {
			LocalID    string `json:"localId"`
			ValidSince string `json:"validSince"`
		} `json:"users"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse lookup response: %w", err)
	}
	if len(result.Users) == 0 {
		return fmt.Errorf("user not found in lookup: %w", ErrInvalidToken)
	}

	validSince, err := strconv.ParseInt(result.Users[0].ValidSince, 10, 64)
	if err != nil {
		// validSinceが未設定のアカウントは失効操作を受けていない
		return nil
	}

	if claims.AuthTime.Before(time.Unix(validSince, 0)) {
		return fmt.Errorf("session revoked: %w", ErrInvalidToken)
	}

	return nil
}

// postJSON はサービスアカウントのアクセストークン付きでJSONをPOSTする。
func (c *Client) postJSON(ctx context.Context, url string, reqBody []byte) ([]byte, error) {
	token, err := c.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain service account token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// 4xxはトークン不正として扱う。5xxはそのままエラーにする。
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("request rejected with status %d: %w", resp.StatusCode, ErrInvalidToken)
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
