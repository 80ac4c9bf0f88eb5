// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ClientCookieName はブラウザごとのクライアントIDを保持するCookieの名前。
const ClientCookieName = "client_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// clientIDContextKey はリクエストコンテキストにクライアントIDを格納するためのキー。
	clientIDContextKey = contextKey("client_id")
	// csrfTokenContextKey はテンプレートへ渡すCSRFトークンを格納するためのキー。
	csrfTokenContextKey = contextKey("csrf_token")
	// identityContextKey はBearer認証済みのユーザー情報を格納するためのキー。
	identityContextKey = contextKey("identity")
	// clientIDSinkContextKey は外側のミドルウェアがクライアントIDを受け取るためのキー。
	clientIDSinkContextKey = contextKey("client_id_sink")
)

// ClientConfig はクライアントCookieミドルウェアの設定。
type ClientConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int // 秒
}

// NewClientMiddleware はHTTP Only CookieからクライアントIDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieが無い、またはUUIDとして解釈できない場合は新しいIDを発行する。
func NewClientMiddleware(config ClientConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieから既存のクライアントIDを取得
			clientID := ""
			if cookie, err := r.Cookie(ClientCookieName); err == nil {
				if id, err := uuid.Parse(cookie.Value); err == nil {
					clientID = id.String()
				}
			}

			// 2. 無効な場合は新規発行
			if clientID == "" {
				clientID = uuid.NewString()
			}

			// 3. 有効期限を延長してCookieを再設定
			http.SetCookie(w, &http.Cookie{
				Name:     ClientCookieName,
				Value:    clientID,
				Path:     "/",
				Domain:   config.CookieDomain,
				MaxAge:   config.MaxAge,
				HttpOnly: true,
				Secure:   config.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})

			if sink, ok := r.Context().Value(clientIDSinkContextKey).(*string); ok {
				*sink = clientID
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClientID(r.Context(), clientID)))
		})
	}
}

// ClientIDFromContext はリクエストコンテキストからクライアントIDを取得する。
// クライアントミドルウェアを通過したリクエストでのみ有効。
func ClientIDFromContext(ctx context.Context) (string, error) {
	clientID, ok := ctx.Value(clientIDContextKey).(string)
	if !ok || clientID == "" {
		return "", fmt.Errorf("client ID not found in context")
	}
	return clientID, nil
}

// ContextWithClientID はコンテキストにクライアントIDを注入する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}

// withClientIDSink は内側で確定したクライアントIDを書き戻す先を登録する。
func withClientIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, clientIDSinkContextKey, sink)
}
