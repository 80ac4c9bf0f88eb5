// Package gateway は認証サービスへの操作を正規化し、セッションストアへ反映するクライアントを提供する。
//
// 各操作はネットワーク往復が完了するまでブロックし、失敗時は*model.AuthErrorを返す。
// 入力検証はネットワーク呼び出しの前にローカルで行う。
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/authpanel/internal/identity"
	"github.com/hitoshi/authpanel/internal/metrics"
	"github.com/hitoshi/authpanel/internal/model"
	"github.com/hitoshi/authpanel/internal/security"
	"github.com/hitoshi/authpanel/internal/session"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// リダイレクト先のパス。
const (
	SignUpRedirectPath = "/auth"
	ResetRedirectPath  = "/update-password"
)

// メトリクスの操作ラベル。
const (
	opSignUp         = "sign_up"
	opSignIn         = "sign_in"
	opSignOut        = "sign_out"
	opResetPassword  = "reset_password"
	opVerifyRecovery = "verify_recovery"
	opUpdatePassword = "update_password"
	opRefresh        = "refresh"
)

// IdentityProvider は認証サービスへの呼び出しを抽象化するインターフェース。
// identity.GoTrueClientが実装する。
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password, redirectTo string) (*identity.SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error)
	Logout(ctx context.Context, accessToken string) error
	VerifyOTP(ctx context.Context, tokenHash, otpType string) (*model.Session, error)
	UpdatePassword(ctx context.Context, accessToken, password string) (*model.User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}

// Config はゲートウェイの設定を保持する。
type Config struct {
	// BaseURL はメールリンクのリダイレクト先を組み立てる公開URL。
	BaseURL string
	// RefreshMargin は有効期限のこの時間前からトークンをリフレッシュする。
	RefreshMargin time.Duration
	// RevealResetErrors がtrueの場合、パスワードリセット要求の失敗を呼び出し側に返す。
	// falseの場合はアカウントの存在を漏らさないよう常に成功として扱う。
	RevealResetErrors bool
}

// Client は1クライアント分のセッションストアに束縛された認証ゲートウェイ。
type Client struct {
	provider  IdentityProvider
	store     *session.Store
	config    Config
	sanitizer security.MessageSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time

	// refreshMu はリフレッシュトークンの二重使用を防ぐ。
	refreshMu sync.Mutex
}

// Option はClientのオプション設定。
type Option func(*Client)

// WithSanitizer はエラーメッセージのサニタイザーを設定する。
func WithSanitizer(s security.MessageSanitizer) Option {
	return func(c *Client) { c.sanitizer = s }
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock は現在時刻の取得関数を設定する。
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient はClientを生成する。
func NewClient(provider IdentityProvider, store *session.Store, config Config, opts ...Option) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	c := &Client{
		provider:  provider,
		store:     store,
		config:    config,
		sanitizer: security.NewMessageSanitizer(),
		metrics:   metrics.Noop{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store は束縛されたセッションストアを返す。
func (c *Client) Store() *session.Store {
	return c.store
}

// ValidateCredentials はメールアドレスとパスワードの入力有無を検証する。
func ValidateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return model.NewValidationError(model.MsgEmailRequired)
	}
	if password == "" {
		return model.NewValidationError(model.MsgPasswordRequired)
	}
	return nil
}

// ValidatePasswordChange は新しいパスワードと確認入力を検証する。
// 不一致の判定を文字数より先に行う。
func ValidatePasswordChange(password, confirm string) error {
	if password != confirm {
		return model.NewValidationError(model.MsgPasswordMismatch)
	}
	if len([]rune(password)) < MinPasswordLength {
		return model.NewValidationError(model.MsgPasswordTooShort)
	}
	return nil
}

// SignUp はアカウントを作成する。確認メールのリンクは/authへ戻る。
// 認証サービスが確認なしでセッションを返した場合もセッションは作成しない。
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	if err := ValidateCredentials(email, password); err != nil {
		return err
	}

	start := c.now()
	_, err := c.provider.SignUp(ctx, strings.TrimSpace(email), password, c.config.BaseURL+SignUpRedirectPath)
	c.observe(opSignUp, start, err)
	if err != nil {
		return c.normalize(err)
	}
	return nil
}

// SignIn はメールアドレスとパスワードでサインインし、ストアにSIGNED_INを発行する。
func (c *Client) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if err := ValidateCredentials(email, password); err != nil {
		return nil, err
	}

	start := c.now()
	s, err := c.provider.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	c.observe(opSignIn, start, err)
	if err != nil {
		return nil, c.normalize(err)
	}

	c.store.Set(ctx, session.EventSignedIn, s)
	return s.Clone(), nil
}

// SignOut はサインアウトする。サービス側の失効は失敗しても無視し、ストアは必ずクリアする。
func (c *Client) SignOut(ctx context.Context) {
	if cur := c.store.Current(); cur != nil {
		start := c.now()
		err := c.provider.Logout(ctx, cur.AccessToken)
		c.observe(opSignOut, start, err)
		if err != nil {
			c.logger.Warn("セッションの失効に失敗しました",
				slog.String("user_id", cur.UserID()),
				slog.String("error", err.Error()),
			)
		}
	}
	c.store.Clear(ctx)
}

// RequestPasswordReset はパスワードリセットメールを要求する。メールのリンクは/update-passwordへ戻る。
// RevealResetErrorsがfalseの場合、サービスのエラーはログに記録し成功として返す。
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewValidationError(model.MsgEmailRequired)
	}

	start := c.now()
	err := c.provider.ResetPasswordForEmail(ctx, email, c.config.BaseURL+ResetRedirectPath)
	c.observe(opResetPassword, start, err)
	if err == nil {
		return nil
	}

	if c.config.RevealResetErrors {
		return c.normalize(err)
	}
	c.logger.Warn("パスワードリセット要求に失敗しました",
		slog.String("error", err.Error()),
	)
	return nil
}

// VerifyRecoveryToken はリカバリートークンをセッションに交換し、ストアにPASSWORD_RECOVERYを発行する。
func (c *Client) VerifyRecoveryToken(ctx context.Context, tokenHash string) (*model.Session, error) {
	if tokenHash == "" {
		return nil, model.NewUnauthenticatedError()
	}

	start := c.now()
	s, err := c.provider.VerifyOTP(ctx, tokenHash, identity.OTPTypeRecovery)
	c.observe(opVerifyRecovery, start, err)
	if err != nil {
		return nil, c.normalize(err)
	}

	c.store.Set(ctx, session.EventPasswordRecovery, s)
	return s.Clone(), nil
}

// UpdatePassword は現在のセッションのパスワードを更新し、ストアにUSER_UPDATEDを発行する。
// セッションがない場合はネットワーク呼び出しを行わずUnauthenticatedを返す。
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	cur, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if cur == nil {
		return model.NewUnauthenticatedError()
	}

	start := c.now()
	user, err := c.provider.UpdatePassword(ctx, cur.AccessToken, newPassword)
	c.observe(opUpdatePassword, start, err)
	if err != nil {
		return c.normalize(err)
	}

	updated := cur.Clone()
	updated.User = *user
	c.store.Set(ctx, session.EventUserUpdated, updated)
	return nil
}

// GetSession は現在のセッションを返す。
// 有効期限がRefreshMargin以内に迫っている場合はリフレッシュしてTOKEN_REFRESHEDを発行する。
// サービスがリフレッシュを拒否した場合はセッションをクリアしてnilを返す。
// 通信障害でリフレッシュできない場合、期限内であれば現在のセッションを返す。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	cur := c.store.Current()
	if cur == nil || !c.needsRefresh(cur) {
		return cur, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// 待機中に別のリクエストがリフレッシュ済みの場合はそれを使う
	cur = c.store.Current()
	if cur == nil || !c.needsRefresh(cur) {
		return cur, nil
	}

	if cur.RefreshToken == "" {
		c.store.Clear(ctx)
		return nil, nil
	}

	start := c.now()
	refreshed, err := c.provider.RefreshSession(ctx, cur.RefreshToken)
	c.observe(opRefresh, start, err)
	if err != nil {
		if isTransient(err) && !cur.Expired(c.now()) {
			c.logger.Warn("トークンのリフレッシュを延期します",
				slog.String("user_id", cur.UserID()),
				slog.String("error", err.Error()),
			)
			return cur, nil
		}
		c.logger.Info("トークンのリフレッシュが拒否されたためサインアウトします",
			slog.String("user_id", cur.UserID()),
			slog.String("error", err.Error()),
		)
		c.store.Clear(ctx)
		return nil, nil
	}

	c.store.Set(ctx, session.EventTokenRefreshed, refreshed)
	return refreshed.Clone(), nil
}

func (c *Client) needsRefresh(s *model.Session) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(c.config.RefreshMargin).Before(s.ExpiresAt)
}

// normalize はエラーを*model.AuthErrorに正規化し、表示用メッセージをサニタイズする。
func (c *Client) normalize(err error) error {
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		return model.NewProtocolError(err)
	}

	normalized := *authErr
	if normalized.Kind == model.KindGateway {
		normalized.Message = c.sanitizer.Sanitize(normalized.Message)
		if normalized.Message == "" {
			normalized.Message = model.MsgUnexpected
		}
	}
	return &normalized
}

func (c *Client) observe(op string, start time.Time, err error) {
	c.metrics.RecordIdentityLatency(op, c.now().Sub(start))
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	c.metrics.RecordAuthOperation(op, outcome)
}

// isTransient は通信障害によりサービスからの応答が得られなかった失敗かどうかを返す。
// 応答の解釈に失敗した場合やサービスが拒否した場合は含まない。
func isTransient(err error) bool {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return authErr.Transient
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
