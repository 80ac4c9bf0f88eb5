package view

import (
	"context"
	"net/url"

	"github.com/hitoshi/authpanel/internal/guard"
)

// HomeView は公開トップページ。ログイン中ならメールアドレスを表示する。
type HomeView struct {
	base
}

// NewHomeView はHomeViewを生成する。
func NewHomeView() *HomeView {
	return &HomeView{base: base{route: guard.PathHome}}
}

// Mount はビューをマウントする。
func (v *HomeView) Mount(_ context.Context, c *Client, _ url.Values) {
	v.mount(c)
}

// Render は表示内容を返す。
func (v *HomeView) Render() Model {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.modelLocked("Welcome to Home", false)
}

// Logout はサインアウトする。
func (v *HomeView) Logout(ctx context.Context) {
	signOut(ctx, &v.base)
}

// signOut はマウント先クライアントのゲートウェイでサインアウトする。
func signOut(ctx context.Context, b *base) {
	b.mu.Lock()
	c := b.client
	b.mu.Unlock()
	if c == nil {
		return
	}
	c.gateway.SignOut(detach(ctx))
}
