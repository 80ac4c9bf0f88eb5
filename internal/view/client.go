package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hitoshi/authpanel/internal/guard"
	"github.com/hitoshi/authpanel/internal/session"
)

// ErrUnknownRoute は登録されていないルートへの遷移を表す。
var ErrUnknownRoute = errors.New("view: unknown route")

// routes はルートとビューの生成関数の対応。
var routes = map[string]func() View{
	guard.PathHome:           func() View { return NewHomeView() },
	guard.PathAuth:           func() View { return NewAuthView() },
	guard.PathResetPassword:  func() View { return NewResetRequestView() },
	guard.PathUpdatePassword: func() View { return NewChangePasswordView() },
	guard.PathProfile:        func() View { return NewProfileView() },
}

// Client は1つのブラウザに対応する状態。
// セッションストアを1つと、マウント中のビューを最大1つ保持する。
type Client struct {
	id      string
	store   *session.Store
	gateway Gateway
	loaded  <-chan struct{}
	logger  *slog.Logger

	mu       sync.Mutex
	current  View
	lastSeen time.Time
}

// NewClient はClientを生成する。loadedはストアの初回取得完了時にcloseされるチャネル。
func NewClient(id string, store *session.Store, gw Gateway, loaded <-chan struct{}, logger *slog.Logger) *Client {
	if loaded == nil {
		ch := make(chan struct{})
		close(ch)
		loaded = ch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		id:       id,
		store:    store,
		gateway:  gw,
		loaded:   loaded,
		logger:   logger,
		lastSeen: time.Now(),
	}
}

// ID はクライアントIDを返す。
func (c *Client) ID() string {
	return c.id
}

// Store はセッションストアを返す。
func (c *Client) Store() *session.Store {
	return c.store
}

// Gateway は認証ゲートウェイを返す。
func (c *Client) Gateway() Gateway {
	return c.gateway
}

// Loaded はストアの初回取得が完了しているかを返す。
func (c *Client) Loaded() bool {
	select {
	case <-c.loaded:
		return true
	default:
		return false
	}
}

// WaitLoaded はストアの初回取得完了まで待つ。
func (c *Client) WaitLoaded(ctx context.Context) error {
	select {
	case <-c.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current はマウント中のビューを返す。ない場合はnilを返す。
func (c *Client) Current() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Navigate はrouteのビューを返す。
// ルートが変わった場合は現在のビューをアンマウントし、新しいビューをマウントする。
// 同じルートへの再訪はビューのRevisitに従う。
// マウント前に期限間近のトークンをリフレッシュする。
func (c *Client) Navigate(ctx context.Context, route string, query url.Values) (View, error) {
	newView, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, route)
	}

	if c.Loaded() {
		if _, err := c.gateway.GetSession(ctx); err != nil {
			c.logger.Warn("セッションの確認に失敗しました",
				slog.String("client_id", c.id),
				slog.String("error", err.Error()),
			)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.Route() == route && c.current.Revisit(query) {
		return c.current, nil
	}
	if c.current != nil {
		c.current.Unmount()
	}

	v := newView()
	v.Mount(ctx, c, query)
	c.current = v
	return v, nil
}

// SignOut はマウント中のビューのログアウト操作を実行する。
// ログアウト操作を持たないビューではゲートウェイで直接サインアウトする。
func (c *Client) SignOut(ctx context.Context) {
	if lh, ok := c.Current().(LogoutHandler); ok {
		lh.Logout(ctx)
		return
	}
	c.gateway.SignOut(detach(ctx))
}

// touch は最終アクセス時刻を更新する。
func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = now
}

// idleSince は最終アクセス時刻を返す。
func (c *Client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// close はマウント中のビューをアンマウントする。
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Unmount()
		c.current = nil
	}
}
