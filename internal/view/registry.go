package view

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/authpanel/internal/metrics"
	"github.com/hitoshi/authpanel/internal/model"
	"github.com/hitoshi/authpanel/internal/repository"
	"github.com/hitoshi/authpanel/internal/session"
)

// GatewayFactory はストアに束縛されたGatewayを生成する。
type GatewayFactory func(store *session.Store) Gateway

// RegistryConfig はRegistryの設定を保持する。
type RegistryConfig struct {
	// SessionMaxAge は永続化したセッションを保持する期間。
	SessionMaxAge time.Duration
	// IdleTTL は最終アクセスからクライアントをメモリ上に保持する期間。
	IdleTTL time.Duration
}

// Registry はクライアントIDごとのClientを管理する。
type Registry struct {
	config     RegistryConfig
	repo       repository.SessionRepository
	newGateway GatewayFactory
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry はRegistryを生成する。
func NewRegistry(config RegistryConfig, repo repository.SessionRepository, newGateway GatewayFactory, collector metrics.MetricsCollector, logger *slog.Logger) *Registry {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:     config,
		repo:       repo,
		newGateway: newGateway,
		metrics:    collector,
		logger:     logger,
		now:        time.Now,
		clients:    make(map[string]*Client),
	}
}

// Resolve はクライアントIDに対応するClientを返す。
// 存在しない場合は永続化済みのセッションから復元して生成する。
// ストアの初回取得が完了するか、ctxが終了するまで待つ。
func (r *Registry) Resolve(ctx context.Context, clientID string) *Client {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	if !ok {
		c = r.newClient(ctx, clientID)
		r.clients[clientID] = c
		r.metrics.SetActiveClients(len(r.clients))
	}
	r.mu.Unlock()

	c.touch(r.now())
	if err := c.WaitLoaded(ctx); err != nil {
		r.logger.Warn("セッションの復元を待たずに応答します",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	}
	return c
}

// newClient はストアを生成し、永続化先からの復元を開始する。r.muを保持して呼び出す。
func (r *Registry) newClient(ctx context.Context, clientID string) *Client {
	store := session.NewStore(
		session.WithPersister(repository.NewClientPersister(r.repo, clientID, r.config.SessionMaxAge)),
		session.WithLogger(r.logger.With(slog.String("client_id", clientID))),
	)
	loaded := store.Load(context.WithoutCancel(ctx), func(ctx context.Context) (*model.Session, error) {
		return r.repo.FindByClientID(ctx, clientID)
	})
	return NewClient(clientID, store, r.newGateway(store), loaded, r.logger)
}

// Len は保持中のクライアント数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// EvictIdle はIdleTTLを超えてアクセスのないクライアントをメモリから取り除く。
// 永続化済みのセッションは残すため、次回アクセス時に復元される。
// 取り除いた件数を返す。
func (r *Registry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	var idle []*Client
	for id, c := range r.clients {
		if now.Sub(c.idleSince()) >= r.config.IdleTTL {
			idle = append(idle, c)
			delete(r.clients, id)
		}
	}
	r.metrics.SetActiveClients(len(r.clients))
	r.mu.Unlock()

	for _, c := range idle {
		c.close()
	}
	return len(idle)
}

// Close は全クライアントのビューをアンマウントして取り除く。
func (r *Registry) Close() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.metrics.SetActiveClients(0)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
