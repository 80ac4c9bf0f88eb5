// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authpanel/internal/config"
	"github.com/hitoshi/authpanel/internal/database"
	"github.com/hitoshi/authpanel/internal/gateway"
	"github.com/hitoshi/authpanel/internal/handler"
	"github.com/hitoshi/authpanel/internal/identity"
	"github.com/hitoshi/authpanel/internal/logger"
	"github.com/hitoshi/authpanel/internal/metrics"
	"github.com/hitoshi/authpanel/internal/middleware"
	"github.com/hitoshi/authpanel/internal/repository"
	"github.com/hitoshi/authpanel/internal/security"
	"github.com/hitoshi/authpanel/internal/session"
	"github.com/hitoshi/authpanel/internal/telemetry"
	"github.com/hitoshi/authpanel/internal/token"
	"github.com/hitoshi/authpanel/internal/view"
	"github.com/hitoshi/authpanel/internal/worker/cleanup"
)

// ErrWorkerNotNeeded はクリーンアップを外部ワーカーで行う必要のない永続化先を表す。
var ErrWorkerNotNeeded = errors.New("worker is only required for SESSION_BACKEND=postgres")

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_backend", cfg.SessionBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// sessionBackend はセッション永続化先の接続をまとめる。
type sessionBackend struct {
	repo   repository.SessionRepository
	health handler.HealthChecker
	close  func()
}

// purger は永続化先が期限切れ削除に対応していればそれを返す。
// redisはキーのTTLで失効するため対象外。
func (b *sessionBackend) purger() repository.ExpiredSessionPurger {
	if p, ok := b.repo.(repository.ExpiredSessionPurger); ok {
		return p
	}
	return nil
}

// openSessionBackend は設定に応じたセッション永続化先を開く。
func openSessionBackend(ctx context.Context, cfg *config.Config) (*sessionBackend, error) {
	switch cfg.SessionBackend {
	case config.SessionBackendPostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established")
		return &sessionBackend{
			repo:   repository.NewPostgresSessionRepo(db),
			health: db.PingContext,
			close:  func() { db.Close() },
		}, nil

	case config.SessionBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		return &sessionBackend{
			repo:   repository.NewRedisSessionRepo(rdb, ""),
			health: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			close:  func() { rdb.Close() },
		}, nil

	default:
		return &sessionBackend{
			repo:  repository.NewMemorySessionRepo(),
			close: func() {},
		}, nil
	}
}

// runServe はHTTPサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxが終了するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 0. トレース
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("トレースのフラッシュに失敗しました", slog.String("error", err.Error()))
		}
	}()

	// 1. セッション永続化先
	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 3. 認証サービスのクライアント
	gotrue := identity.NewGoTrueClient(
		&http.Client{Timeout: cfg.IdentityTimeout},
		log,
		identity.Config{BaseURL: cfg.IdentityURL, APIKey: cfg.IdentityAnonKey},
	)
	sanitizer := security.NewMessageSanitizer()
	gatewayConfig := gateway.Config{
		BaseURL:           cfg.BaseURL,
		RefreshMargin:     cfg.RefreshMargin,
		RevealResetErrors: cfg.RevealResetErrors,
	}

	// 4. クライアントレジストリ
	registry := view.NewRegistry(
		view.RegistryConfig{
			SessionMaxAge: cfg.SessionMaxAgeDuration(),
			IdleTTL:       cfg.ClientIdleTTL,
		},
		backend.repo,
		func(store *session.Store) view.Gateway {
			return gateway.NewClient(gotrue, store, gatewayConfig,
				gateway.WithSanitizer(sanitizer),
				gateway.WithMetrics(collector),
				gateway.WithLogger(log),
			)
		},
		collector,
		log,
	)
	defer registry.Close()

	// 5. 画面とミドルウェア
	renderer, err := handler.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	rateLimiter := middleware.NewRateLimiter(middleware.SubmitRateLimiterConfig(cfg.RateLimitSubmit))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             log,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		Client: middleware.ClientConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		StatusObserver: collector,
		Clients:        registry,
		Renderer:       renderer,
		Verifier:       token.NewVerifier(cfg.JWTSecret, gotrue),
		HealthCheck:    backend.health,
		Gatherer:       reg,
	})

	// 6. クリーンアップジョブ（アイドルクライアントの解放と期限切れセッションの削除）
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	cleanupJob := cleanup.NewCleanupJob(backend.purger(), registry, collector, log)
	go cleanupJob.Start(jobCtx, cleanupInterval(cfg))

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.IdentityTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// cleanupInterval はアイドルクライアントの解放が遅れすぎないようにジョブ間隔を決める。
func cleanupInterval(cfg *config.Config) time.Duration {
	interval := cfg.CleanupInterval
	if cfg.ClientIdleTTL > 0 && cfg.ClientIdleTTL < interval {
		interval = cfg.ClientIdleTTL
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return interval
}

// runWorker はワーカーモードで起動する。
// PostgreSQLに永続化した期限切れセッションを定期的に削除する。
// ctxが終了するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.SessionBackend != config.SessionBackendPostgres {
		return fmt.Errorf("%w (current: %s)", ErrWorkerNotNeeded, cfg.SessionBackend)
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := newWorkerJob(db)

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerJob はワーカー用のクリーンアップジョブを生成する。
// クライアントはAPIサーバーのメモリ上にのみ存在するため解放対象はない。
func newWorkerJob(db *sql.DB) *cleanup.CleanupJob {
	return cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), nil, metrics.Noop{}, slog.Default())
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
