package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authpanel/internal/middleware"
)

// APIHandler はJSON APIのHTTPハンドラー。
type APIHandler struct {
	logger *slog.Logger
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(logger *slog.Logger) *APIHandler {
	return &APIHandler{logger: logger}
}

// Public は認証不要のエンドポイント。
// GET /api/public
func (h *APIHandler) Public(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Public route"})
}

// Protected はBearer認証が必要なエンドポイント。
// GET /api/protected
func (h *APIHandler) Protected(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Missing token")
		return
	}

	h.logger.DebugContext(r.Context(), "保護されたAPIにアクセスしました", slog.String("user_id", identity.UserID))
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Protected route",
		"email":   identity.Email,
	})
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
