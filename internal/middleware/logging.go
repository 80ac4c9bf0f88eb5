package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// StatusObserver はレスポンスのステータスコードを受け取る。
// metrics.MetricsCollectorの部分集合として定義する。
type StatusObserver interface {
	RecordHTTPStatus(statusCode int)
}

// NewLoggingMiddleware はリクエストごとに "http_request" の構造化ログを出力するミドルウェアを返す。
// 5xxはERROR、4xxはWARN、それ以外はINFOで記録する。
// observerがnilでなければステータスコードを記録する。
func NewLoggingMiddleware(logger *slog.Logger, observer StatusObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			// クライアントIDは内側のミドルウェアで確定するため、ポインタ経由で受け取る
			var clientID string
			next.ServeHTTP(ww, r.WithContext(withClientIDSink(r.Context(), &clientID)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if clientID != "" {
				attrs = append(attrs, slog.String("client_id", clientID))
			}

			if observer != nil {
				observer.RecordHTTPStatus(status)
			}
			logger.LogAttrs(r.Context(), levelForStatus(status), "http_request", attrs...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
