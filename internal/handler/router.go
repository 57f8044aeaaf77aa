package handler

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/veloapp/velo-backend/internal/metrics"
	"github.com/veloapp/velo-backend/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// アイテム・ユーザー
	ItemService ItemServiceInterface
	UserService UserServiceInterface

	// 監視
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer
	DB        *sql.DB
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → Logging → CSRF
//	→（/api配下のみ）Session → RateLimit(General)
//
// 認証ルート（/auth/*）はセッションミドルウェアの外に配置する。
// ログイン試行には専用のIPベースレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Collector != nil {
		r.Use(metrics.NewHTTPMiddleware(deps.Collector))
	}
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, deps.Collector)
	itemHandler := NewItemHandler(deps.ItemService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler(deps.DB))

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// セッション管理
	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/session-login", authHandler.SessionLogin)
		r.Post("/session-logout", authHandler.SessionLogout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// アイテム管理
		r.Route("/api/items", func(r chi.Router) {
			r.Get("/", itemHandler.ListItems)
			r.Post("/", itemHandler.CreateItem)
			r.Get("/name/{name}", itemHandler.GetItemByName)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", itemHandler.GetItem)
				r.Patch("/", itemHandler.UpdateItem)
				r.Delete("/", itemHandler.DeleteItem)
			})
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Get("/", userHandler.ListUsers)
			r.Post("/", userHandler.CreateUser)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", userHandler.GetUser)
				r.Patch("/", userHandler.UpdateUser)
				r.Delete("/", userHandler.DeleteUser)
			})
		})
	})

	return r
}

// newHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// DBが設定されている場合は接続確認も行う。
func newHealthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
