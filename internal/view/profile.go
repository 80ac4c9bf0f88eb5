package view

import (
	"context"
	"net/url"

	"github.com/hitoshi/authpanel/internal/guard"
)

// ProfileView はログインユーザー専用のプロフィールページ。
type ProfileView struct {
	base
}

// NewProfileView はProfileViewを生成する。
func NewProfileView() *ProfileView {
	return &ProfileView{base: base{route: guard.PathProfile}}
}

// Mount はビューをマウントする。
func (v *ProfileView) Mount(_ context.Context, c *Client, _ url.Values) {
	v.mount(c)
}

// Logout はサインアウトする。ストアの更新によりガードがホームへ遷移させる。
func (v *ProfileView) Logout(ctx context.Context) {
	signOut(ctx, &v.base)
}

// Render は表示内容を返す。
func (v *ProfileView) Render() Model {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.modelLocked("Profile", false)
}
