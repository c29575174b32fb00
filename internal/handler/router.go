package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/crmadmin/internal/metrics"
	"github.com/hitoshi/crmadmin/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthProvider   AuthProviderInterface
	SessionService SessionServiceInterface
	AuthConfig     AuthHandlerConfig

	// データ
	DataProvider DataProviderInterface

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
	Metrics       metrics.MetricsCollector
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → SecurityHeaders → CORS → Logging → HTTPStatus → AuthErrorHook → CSRF
//	→ SessionMiddleware → RateLimitMiddleware(General) → [Bulk]
//
// /health と /metrics はCSRF・セッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RequestID)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(metrics.StatusMiddleware(collector))

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	authHandler := NewAuthHandler(deps.AuthProvider, deps.SessionService, deps.AuthConfig)
	resourceHandler := NewResourceHandler(deps.DataProvider)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthErrorHook(deps.AuthConfig.marker()))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// CSRFトークン取得（認証不要）
		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// --- 認証不要のルート ---
		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionResolver, deps.AuthConfig.CookieName))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/check", authHandler.Check)
			r.Get("/auth/identity", authHandler.Identity)
			r.Get("/auth/permissions", authHandler.Permissions)
			r.Get("/auth/sessions", authHandler.Sessions)
			r.Post("/auth/jwt", authHandler.JWT)

			r.Route("/api/{resource}", func(r chi.Router) {
				r.Get("/", resourceHandler.List)
				r.Post("/", resourceHandler.Create)
				r.Put("/", resourceHandler.UpdateMany)
				r.Delete("/", resourceHandler.DeleteMany)

				r.Get("/many", resourceHandler.GetMany)
				r.Get("/reference", resourceHandler.GetManyReference)

				// POST /api/{resource}/duplicate - 一括複製（一括操作用レート制限を追加）
				r.With(deps.RateLimiter.BulkMiddleware()).Post("/duplicate", resourceHandler.DuplicateCollection)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", resourceHandler.GetOne)
					r.Put("/", resourceHandler.Update)
					r.Delete("/", resourceHandler.Delete)
					r.Post("/duplicate", resourceHandler.Duplicate)
				})
			})
		})
	})

	return r
}
