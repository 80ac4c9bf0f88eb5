package middleware

import (
	"encoding/json"
	"net/http"
)

// ErrorResponseBody はJSON APIエラーレスポンスのフォーマット。
type ErrorResponseBody struct {
	Detail string `json:"detail"`
}

// WriteErrorResponse はJSON形式でHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{Detail: detail})
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "Internal server error")
}
