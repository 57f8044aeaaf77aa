package fireauth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// defaultKeyTTL はCache-Controlヘッダーが取得できなかった場合の公開鍵キャッシュ期間。
const defaultKeyTTL = time.Hour

// keyCache はGoogleが公開するx509証明書から取り出したRSA公開鍵を
// kidをキーにキャッシュする。レスポンスのCache-Control max-ageに従って更新する。
type keyCache struct {
	url        string
	httpClient *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// newKeyCache はkeyCacheを生成する。
func newKeyCache(url string, httpClient *http.Client) *keyCache {
	return &keyCache{
		url:        url,
		httpClient: httpClient,
	}
}

// key は指定kidのRSA公開鍵を返す。
// キャッシュが期限切れ、または未知のkidの場合は証明書を再取得する。
func (c *keyCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	if time.Now().Before(c.expiresAt) {
		if key, ok := c.keys[kid]; ok {
			c.mu.RUnlock()
			return key, nil
		}
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// ダブルチェック: 待っている間に別のリクエストが更新済みの場合がある
	if time.Now().Before(c.expiresAt) {
		if key, ok := c.keys[kid]; ok {
			return key, nil
		}
	}

	keys, maxAge, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.keys = keys
	c.expiresAt = time.Now().Add(maxAge)

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key ID: %s", kid)
	}

	return key, nil
}

// fetch は証明書エンドポイントからkid→PEM証明書のマップを取得し、
// RSA公開鍵に変換して返す。
func (c *keyCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create certs request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("certs request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read certs response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("certs fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return nil, 0, fmt.Errorf("failed to parse certs response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseRSAPublicKey(certPEM)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to parse cert for kid %s: %w", kid, err)
		}
		keys[kid] = key
	}

	return keys, parseMaxAge(resp.Header.Get("Cache-Control")), nil
}

// parseRSAPublicKey はPEMエンコードされたx509証明書からRSA公開鍵を取り出す。
func parseRSAPublicKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate does not contain an RSA public key")
	}

	return key, nil
}

// parseMaxAge はCache-Controlヘッダーからmax-ageを取り出す。
// 取得できない場合はデフォルトのキャッシュ期間を返す。
func parseMaxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, "max-age=") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
		if err != nil || seconds <= 0 {
			break
		}
		return time.Duration(seconds) * time.Second
	}
	return defaultKeyTTL
}
