package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Firebase
	FirebaseProjectID   string
	FirebaseClientEmail string
	FirebasePrivateKey  string

	// Session
	SessionCookieExpiryDays int

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort      string
	Debug           bool
	ShutdownTimeout time.Duration

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// Firebase関連の3変数は任意。未設定の場合は認証サービスが未構成として扱われ、
// 認証系エンドポイントは503を返す（起動自体は可能）。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Firebase（任意: 3変数セット）
	cfg.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	cfg.FirebaseClientEmail = os.Getenv("FIREBASE_CLIENT_EMAIL")
	// 環境変数には改行をエスケープした秘密鍵が入るため復元する
	cfg.FirebasePrivateKey = strings.ReplaceAll(os.Getenv("FIREBASE_PRIVATE_KEY"), `\n`, "\n")

	// Optional fields with defaults
	cfg.SessionCookieExpiryDays = getEnvInt("SESSION_COOKIE_EXPIRY_DAYS", 7)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.Debug = getEnvBool("DEBUG", false)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	// ローカルデバッグ時のみSecure属性を外す
	cfg.CookieSecure = !cfg.Debug
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// FirebaseConfigured はFirebaseの3つのシークレットがすべて設定されているかを返す。
func (c *Config) FirebaseConfigured() bool {
	return c.FirebaseProjectID != "" && c.FirebaseClientEmail != "" && c.FirebasePrivateKey != ""
}

// SessionCookieMaxAge はセッションCookieの有効期間を秒で返す。
func (c *Config) SessionCookieMaxAge() int {
	return c.SessionCookieExpiryDays * 24 * 60 * 60
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
