package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authpanel/internal/token"
)

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 検証済みのユーザー情報をリクエストコンテキストに注入する。
func NewBearerAuthMiddleware(verifier token.Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, "Missing token")
				return
			}

			identity, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				slog.WarnContext(r.Context(), "アクセストークンの検証に失敗しました",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext はBearer認証済みのユーザー情報を返す。
func IdentityFromContext(ctx context.Context) (*token.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*token.Identity)
	return identity, ok && identity != nil
}

// bearerToken は"Bearer <token>"形式のヘッダー値からトークンを取り出す。
func bearerToken(header string) (string, bool) {
	scheme, value, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
