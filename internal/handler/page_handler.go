// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/authpanel/internal/guard"
	"github.com/hitoshi/authpanel/internal/middleware"
	"github.com/hitoshi/authpanel/internal/model"
	"github.com/hitoshi/authpanel/internal/view"
)

// ClientResolver はクライアントIDからClientを取得するインターフェース。
// view.Registryが実装する。
type ClientResolver interface {
	Resolve(ctx context.Context, clientID string) *view.Client
}

// submitter はフォーム送信を受け付けるビュー。
type submitter interface {
	Submit(ctx context.Context, form model.FormState) error
}

// PageHandler は画面のHTTPハンドラー。
// GETはビューを描画し、POSTは送信処理の後に同じ画面へ303で戻す。
type PageHandler struct {
	clients  ClientResolver
	renderer *Renderer
	logger   *slog.Logger
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(clients ClientResolver, renderer *Renderer, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		clients:  clients,
		renderer: renderer,
		logger:   logger,
	}
}

// Home はトップ画面を表示する。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, guard.PathHome)
}

// Auth はサインイン・サインアップ画面を表示する。
// GET /auth?mode=signin|signup
func (h *PageHandler) Auth(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, guard.PathAuth)
}

// SubmitAuth はサインインまたはサインアップを行う。
// フォームのmodeを適用してから送信するため、ビューが作り直されていてもモードは保たれる。
// POST /auth
func (h *PageHandler) SubmitAuth(w http.ResponseWriter, r *http.Request) {
	var query url.Values
	if mode := r.PostFormValue("mode"); mode != "" {
		query = url.Values{"mode": {string(model.ParseAuthMode(mode))}}
	}
	h.submit(w, r, guard.PathAuth, query, model.FormState{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	})
}

// ToggleAuthMode はサインイン・サインアップを切り替える。
// POST /auth/mode
func (h *PageHandler) ToggleAuthMode(w http.ResponseWriter, r *http.Request) {
	v, ok := h.navigate(w, r, guard.PathAuth, nil)
	if !ok {
		return
	}
	if av, ok := v.(*view.AuthView); ok {
		av.ToggleMode(model.ParseAuthMode(r.PostFormValue("mode")))
	}
	http.Redirect(w, r, guard.PathAuth, http.StatusSeeOther)
}

// ResetPassword はパスワードリセット要求画面を表示する。
// GET /reset-password
func (h *PageHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, guard.PathResetPassword)
}

// SubmitResetPassword はリセットメールを要求する。
// POST /reset-password
func (h *PageHandler) SubmitResetPassword(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, guard.PathResetPassword, nil, model.FormState{
		Email: r.PostFormValue("email"),
	})
}

// UpdatePassword はパスワード変更画面を表示する。
// GET /update-password?token_hash=xxx&type=recovery
func (h *PageHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, guard.PathUpdatePassword)
}

// SubmitUpdatePassword はパスワードを変更する。
// POST /update-password
func (h *PageHandler) SubmitUpdatePassword(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, guard.PathUpdatePassword, nil, model.FormState{
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	})
}

// Profile はプロフィール画面を表示する。
// GET /profile
func (h *PageHandler) Profile(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, guard.PathProfile)
}

// Logout はサインアウトしてトップ画面へ戻す。
// POST /logout
func (h *PageHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	c.SignOut(r.Context())
	http.Redirect(w, r, guard.PathHome, http.StatusSeeOther)
}

// show はルートのビューをマウントして描画する。
func (h *PageHandler) show(w http.ResponseWriter, r *http.Request, route string) {
	v, ok := h.navigate(w, r, route, r.URL.Query())
	if !ok {
		return
	}
	if err := h.renderer.Render(w, r, v.Render(), middleware.CSRFTokenFromContext(r.Context())); err != nil {
		h.logger.ErrorContext(r.Context(), "画面の描画に失敗しました",
			slog.String("route", route),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// submit はマウント中のビューへフォームを送信し、同じ画面へ戻す。
// queryはビューの取得時に適用する。送信結果はビューの通知に反映されるため、ここではログのみ記録する。
func (h *PageHandler) submit(w http.ResponseWriter, r *http.Request, route string, query url.Values, form model.FormState) {
	v, ok := h.navigate(w, r, route, query)
	if !ok {
		return
	}

	s, ok := v.(submitter)
	if !ok {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.Submit(r.Context(), form); err != nil {
		level := slog.LevelInfo
		if errors.Is(err, view.ErrBusy) {
			level = slog.LevelWarn
		}
		h.logger.Log(r.Context(), level, "送信処理が失敗しました",
			slog.String("route", route),
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
	}

	http.Redirect(w, r, route, http.StatusSeeOther)
}

// navigate はリクエストのクライアントでrouteのビューを取得する。
func (h *PageHandler) navigate(w http.ResponseWriter, r *http.Request, route string, query url.Values) (view.View, bool) {
	c, ok := h.client(w, r)
	if !ok {
		return nil, false
	}

	if query == nil {
		query = url.Values{}
	}
	v, err := c.Navigate(r.Context(), route, query)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "画面の遷移に失敗しました",
			slog.String("route", route),
			slog.String("error", err.Error()),
		)
		http.NotFound(w, r)
		return nil, false
	}
	return v, true
}

// client はリクエストのクライアントを取得する。
func (h *PageHandler) client(w http.ResponseWriter, r *http.Request) (*view.Client, bool) {
	clientID, err := middleware.ClientIDFromContext(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "クライアントIDの取得に失敗しました", slog.String("error", err.Error()))
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	return h.clients.Resolve(r.Context(), clientID), true
}
