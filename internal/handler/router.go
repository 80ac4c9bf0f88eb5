package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/authpanel/internal/metrics"
	"github.com/hitoshi/authpanel/internal/middleware"
	"github.com/hitoshi/authpanel/internal/token"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Client             middleware.ClientConfig
	CSRF               middleware.CSRFConfig
	StatusObserver     middleware.StatusObserver

	// 画面
	Clients  ClientResolver
	Renderer *Renderer

	// API
	Verifier token.Verifier

	// 運用
	HealthCheck HealthChecker
	Gatherer    prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders
//	  画面:  Client → CSRF → RateLimit(SubmitMiddleware)
//	  API:   CORS → BearerAuth（/api/protectedのみ）
//
// /health と /metrics はミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", NewHealthHandler(deps.HealthCheck, deps.Logger))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.SetupMetricsRoute(deps.Gatherer))
	}

	pages := NewPageHandler(deps.Clients, deps.Renderer, deps.Logger)
	api := NewAPIHandler(deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(chimw.RequestID)
		r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusObserver))
		r.Use(middleware.NewSecurityHeadersMiddleware())

		// --- 画面 ---
		// ミドルウェアスタック: Client → CSRF → RateLimit(Submit)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewClientMiddleware(deps.Client))
			r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
			r.Use(deps.RateLimiter.SubmitMiddleware())

			r.Get("/", pages.Home)

			r.Route("/auth", func(r chi.Router) {
				r.Get("/", pages.Auth)
				r.Post("/", pages.SubmitAuth)
				r.Post("/mode", pages.ToggleAuthMode)
			})

			r.Get("/reset-password", pages.ResetPassword)
			r.Post("/reset-password", pages.SubmitResetPassword)

			r.Get("/update-password", pages.UpdatePassword)
			r.Post("/update-password", pages.SubmitUpdatePassword)

			r.Get("/profile", pages.Profile)
			r.Post("/logout", pages.Logout)
		})

		// --- JSON API ---
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

			r.Get("/public", api.Public)
			r.With(middleware.NewBearerAuthMiddleware(deps.Verifier)).Get("/protected", api.Protected)
		})
	})

	return r
}
