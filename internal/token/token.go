// Package token はAPIリクエストのアクセストークンを検証する。
//
// JWT_SECRETが設定されている場合はHS256署名をローカルで検証し、
// 未設定の場合は認証サービスの/userエンドポイントで検証する。
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authpanel/internal/model"
)

// audienceAuthenticated はサインイン済みユーザーのトークンに付与されるaud。
const audienceAuthenticated = "authenticated"

// ErrInvalidToken はトークンが無効または期限切れであることを表す。
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity は検証済みトークンの主体。
type Identity struct {
	UserID string
	Email  string
}

// Verifier はアクセストークンの検証インターフェース。
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (*Identity, error)
}

// Claims は認証サービスが発行するアクセストークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// LocalVerifier は共有シークレットでHS256署名を検証する。
type LocalVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewLocalVerifier はLocalVerifierを生成する。
func NewLocalVerifier(secret string) *LocalVerifier {
	return &LocalVerifier{secret: []byte(secret), leeway: 5 * time.Second}
}

// Verify は署名・有効期限・audを検証し、主体を返す。
func (v *LocalVerifier) Verify(_ context.Context, accessToken string) (*Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audienceAuthenticated),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// UserFetcher はアクセストークンからユーザーを取得するインターフェース。
// identity.GoTrueClientが実装する。
type UserFetcher interface {
	GetUser(ctx context.Context, accessToken string) (*model.User, error)
}

// RemoteVerifier は認証サービスに問い合わせてトークンを検証する。
type RemoteVerifier struct {
	users UserFetcher
}

// NewRemoteVerifier はRemoteVerifierを生成する。
func NewRemoteVerifier(users UserFetcher) *RemoteVerifier {
	return &RemoteVerifier{users: users}
}

// Verify は認証サービスの応答から主体を返す。
// 認証サービスに到達できない場合も無効なトークンとして扱う。
func (v *RemoteVerifier) Verify(ctx context.Context, accessToken string) (*Identity, error) {
	user, err := v.users.GetUser(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Identity{UserID: user.ID, Email: user.Email}, nil
}

// NewVerifier はシークレットの有無に応じたVerifierを返す。
func NewVerifier(secret string, users UserFetcher) Verifier {
	if secret != "" {
		return NewLocalVerifier(secret)
	}
	return NewRemoteVerifier(users)
}

// compile-time interface check
var _ Verifier = (*LocalVerifier)(nil)
var _ Verifier = (*RemoteVerifier)(nil)
