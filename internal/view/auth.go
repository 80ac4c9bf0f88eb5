package view

import (
	"context"
	"net/url"
	"strings"

	"github.com/hitoshi/authpanel/internal/guard"
	"github.com/hitoshi/authpanel/internal/model"
)

// AuthView はサインイン・サインアップページ。
type AuthView struct {
	base
	mode model.AuthMode
}

// NewAuthView はAuthViewを生成する。
func NewAuthView() *AuthView {
	return &AuthView{base: base{route: guard.PathAuth}, mode: model.AuthModeSignIn}
}

// Mount はビューをマウントする。?mode=signupでサインアップから始める。
func (v *AuthView) Mount(_ context.Context, c *Client, query url.Values) {
	v.mount(c)
	v.mu.Lock()
	v.mode = model.ParseAuthMode(query.Get("mode"))
	v.mu.Unlock()
}

// Revisit はmode指定があればモードを切り替える。
func (v *AuthView) Revisit(query url.Values) bool {
	if query.Has("mode") {
		v.ToggleMode(model.ParseAuthMode(query.Get("mode")))
	}
	return true
}

// ToggleMode はサインイン・サインアップを切り替え、通知をクリアする。
func (v *AuthView) ToggleMode(mode model.AuthMode) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode = mode
	v.notification = nil
}

// Mode は現在のモードを返す。
func (v *AuthView) Mode() model.AuthMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// Submit はモードに応じてサインインまたはサインアップを行う。
// 失敗は通知に反映し、同じエラーを返す。
// サインイン成功後はストアの更新によりガードがプロフィールへ遷移させる。
func (v *AuthView) Submit(ctx context.Context, form model.FormState) error {
	gen, c, err := v.begin()
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.form.Email = strings.TrimSpace(form.Email)
	mode := v.mode
	v.mu.Unlock()

	ctx = detach(ctx)
	if mode == model.AuthModeSignUp {
		err = c.gateway.SignUp(ctx, form.Email, form.Password)
		v.end(gen, func() {
			if err != nil {
				v.failLocked(err)
				return
			}
			v.notifyLocked(model.NotificationInfo, MsgConfirmSignUp)
		})
		return err
	}

	_, err = c.gateway.SignIn(ctx, form.Email, form.Password)
	v.end(gen, func() {
		if err != nil {
			v.failLocked(err)
		}
	})
	return err
}

// Logout はサインアウトする。
func (v *AuthView) Logout(ctx context.Context) {
	signOut(ctx, &v.base)
}

// Render は表示内容を返す。
func (v *AuthView) Render() Model {
	v.mu.Lock()
	defer v.mu.Unlock()

	title := "Sign In"
	if v.mode == model.AuthModeSignUp {
		title = "Sign Up"
	}
	m := v.modelLocked(title, false)
	m.Mode = v.mode
	return m
}
