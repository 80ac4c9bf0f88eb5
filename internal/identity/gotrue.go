// Package identity はホスト型IDプロバイダー（GoTrue互換のAuth API）のHTTPクライアントを提供する。
// サインアップ、パスワードによるサインイン、トークンのリフレッシュ、ワンタイムトークン検証、
// パスワード更新、パスワードリセットメール送信を行う。認証ロジックそのものは持たない。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/authpanel/internal/model"
)

const (
	// maxResponseSize はレスポンスボディの最大読み取りサイズ。
	maxResponseSize = 1 << 20
	tracerName      = "github.com/hitoshi/authpanel/internal/identity"
)

// OTPTypeRecovery はパスワードリセット用ワンタイムトークンの種別。
const OTPTypeRecovery = "recovery"

// Config はGoTrueクライアントの設定。
type Config struct {
	// BaseURL はAuth APIのベースURL（例: https://xxxx.supabase.co/auth/v1）。
	BaseURL string
	// APIKey はプロジェクトの公開キー（anon key）。
	APIKey string
	// TracerProvider はリクエストごとのスパンの出力先。nilの場合はグローバルのプロバイダーを使う。
	TracerProvider trace.TracerProvider
}

// SignUpResult はサインアップ結果を表す。
// メール確認が有効な場合、Sessionはnilになる。
type SignUpResult struct {
	User    model.User
	Session *model.Session
}

// GoTrueClient はGoTrue互換APIのクライアント。
type GoTrueClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
	tracer     trace.Tracer
	now        func() time.Time
}

// NewGoTrueClient はGoTrueClientを生成する。
func NewGoTrueClient(httpClient *http.Client, logger *slog.Logger, config Config) *GoTrueClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &GoTrueClient{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		tracer:     tp.Tracer(tracerName),
		now:        time.Now,
	}
}

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignInAt *time.Time `json:"last_sign_in_at"`
}

// sessionResponse はGoTrueのトークンエンドポイントのレスポンス。
type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// errorResponse はGoTrueのエラーレスポンス。
// APIバージョンによってフィールド名が異なるため、すべて受け付ける。
type errorResponse struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// SignUp はメールアドレスとパスワードでアカウントを作成する。
// redirectToは確認メール内リンクの遷移先。
func (c *GoTrueClient) SignUp(ctx context.Context, email, password, redirectTo string) (*SignUpResult, error) {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}

	body, err := c.do(ctx, "signup", http.MethodPost, "/signup", query, "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	// メール自動確認が有効な場合はセッションが返り、無効な場合はユーザーのみが返る
	var sess sessionResponse
	if err := json.Unmarshal(body, &sess); err != nil {
		return nil, model.NewProtocolError(fmt.Errorf("failed to parse signup response: %w", err))
	}
	if sess.AccessToken != "" && sess.User != nil {
		s := c.toSession(&sess)
		return &SignUpResult{User: s.User, Session: s}, nil
	}

	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, model.NewProtocolError(fmt.Errorf("failed to parse signup user: %w", err))
	}
	return &SignUpResult{User: toUser(&user)}, nil
}

// SignInWithPassword はメールアドレスとパスワードでセッションを取得する。
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	query := url.Values{"grant_type": {"password"}}
	body, err := c.do(ctx, "sign_in", http.MethodPost, "/token", query, "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return c.parseSession(body)
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
func (c *GoTrueClient) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	query := url.Values{"grant_type": {"refresh_token"}}
	body, err := c.do(ctx, "refresh", http.MethodPost, "/token", query, "", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	return c.parseSession(body)
}

// Logout はアクセストークンに紐づくリフレッシュトークンを失効させる。
func (c *GoTrueClient) Logout(ctx context.Context, accessToken string) error {
	query := url.Values{"scope": {"local"}}
	_, err := c.do(ctx, "logout", http.MethodPost, "/logout", query, accessToken, nil)
	return err
}

// VerifyOTP はメールリンクに埋め込まれたワンタイムトークンをセッションに交換する。
func (c *GoTrueClient) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*model.Session, error) {
	body, err := c.do(ctx, "verify", http.MethodPost, "/verify", nil, "", map[string]string{
		"type":       otpType,
		"token_hash": tokenHash,
	})
	if err != nil {
		return nil, err
	}
	return c.parseSession(body)
}

// UpdatePassword はログイン中ユーザーのパスワードを更新し、更新後のユーザーを返す。
func (c *GoTrueClient) UpdatePassword(ctx context.Context, accessToken, password string) (*model.User, error) {
	body, err := c.do(ctx, "update_user", http.MethodPut, "/user", nil, accessToken, map[string]string{
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return parseUser(body)
}

// GetUser はアクセストークンからユーザーを取得する。トークンの検証にも使用する。
func (c *GoTrueClient) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	body, err := c.do(ctx, "get_user", http.MethodGet, "/user", nil, accessToken, nil)
	if err != nil {
		return nil, err
	}
	return parseUser(body)
}

// ResetPasswordForEmail はパスワードリセットメールの送信を依頼する。
func (c *GoTrueClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	_, err := c.do(ctx, "recover", http.MethodPost, "/recover", query, "", map[string]string{
		"email": email,
	})
	return err
}

// do はAPIリクエストを実行し、2xxの場合はレスポンスボディを返す。
// 非2xxはゲートウェイエラー、通信失敗はトランスポートエラーとして*model.AuthErrorを返す。
func (c *GoTrueClient) do(ctx context.Context, op, method, path string, query url.Values, bearer string, payload any) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "identity."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("identity.path", path))

	reqURL := c.config.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, model.NewProtocolError(fmt.Errorf("failed to encode %s request: %w", op, err))
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, model.NewProtocolError(fmt.Errorf("failed to create %s request: %w", op, err))
	}
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.logger.ErrorContext(ctx, "認証サービスへのリクエストに失敗しました",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return nil, model.NewTransportError(fmt.Errorf("%s request failed: %w", op, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, model.NewTransportError(fmt.Errorf("failed to read %s response: %w", op, err))
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.DebugContext(ctx, "認証サービスへのリクエストが完了しました",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Float64("duration_ms", float64(c.now().Sub(start).Microseconds())/1000),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseError(resp.StatusCode, body)
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}

	return body, nil
}

// parseSession はセッションレスポンスをパースする。
func (c *GoTrueClient) parseSession(body []byte) (*model.Session, error) {
	var sess sessionResponse
	if err := json.Unmarshal(body, &sess); err != nil {
		return nil, model.NewProtocolError(fmt.Errorf("failed to parse session response: %w", err))
	}
	if sess.AccessToken == "" || sess.User == nil {
		return nil, model.NewProtocolError(fmt.Errorf("empty session in response"))
	}
	return c.toSession(&sess), nil
}

// toSession はレスポンスをドメインのSessionに変換する。
// expires_atがない場合はexpires_inから算出する。
func (c *GoTrueClient) toSession(r *sessionResponse) *model.Session {
	var expiresAt time.Time
	switch {
	case r.ExpiresAt > 0:
		expiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return &model.Session{
		User:         toUser(r.User),
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
	}
}

func parseUser(body []byte) (*model.User, error) {
	var u userResponse
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, model.NewProtocolError(fmt.Errorf("failed to parse user response: %w", err))
	}
	if u.ID == "" {
		return nil, model.NewProtocolError(fmt.Errorf("empty id in user response"))
	}
	user := toUser(&u)
	return &user, nil
}

func toUser(r *userResponse) model.User {
	u := model.User{
		ID:        r.ID,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
	}
	if r.LastSignInAt != nil {
		u.LastSignInAt = *r.LastSignInAt
	}
	return u
}

// parseError はエラーレスポンスからユーザー向けメッセージを取り出す。
func parseError(status int, body []byte) *model.AuthError {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return model.NewGatewayError(status, "", strings.TrimSpace(string(body)))
	}

	code := er.ErrorCode
	if code == "" && len(er.Code) > 0 {
		// codeは旧APIでは数値、新APIでは文字列
		var s string
		if json.Unmarshal(er.Code, &s) == nil {
			code = s
		}
	}
	if code == "" {
		code = er.Error
	}

	message := er.Msg
	for _, candidate := range []string{er.Message, er.ErrorDescription, er.Error} {
		if message != "" {
			break
		}
		message = candidate
	}

	return model.NewGatewayError(status, code, message)
}
