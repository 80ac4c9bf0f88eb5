package view

import (
	"context"
	"net/url"
	"strings"

	"github.com/hitoshi/authpanel/internal/guard"
	"github.com/hitoshi/authpanel/internal/model"
)

// ResetRequestView はパスワードリセットメールの要求ページ。
type ResetRequestView struct {
	base
}

// NewResetRequestView はResetRequestViewを生成する。
func NewResetRequestView() *ResetRequestView {
	return &ResetRequestView{base: base{route: guard.PathResetPassword}}
}

// Mount はビューをマウントする。
func (v *ResetRequestView) Mount(_ context.Context, c *Client, _ url.Values) {
	v.mount(c)
}

// Submit はリセットメールを要求する。
func (v *ResetRequestView) Submit(ctx context.Context, form model.FormState) error {
	gen, c, err := v.begin()
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.form.Email = strings.TrimSpace(form.Email)
	v.mu.Unlock()

	err = c.gateway.RequestPasswordReset(detach(ctx), form.Email)
	v.end(gen, func() {
		if err != nil {
			v.failLocked(err)
			return
		}
		v.notifyLocked(model.NotificationInfo, MsgResetLinkSent)
	})
	return err
}

// Render は表示内容を返す。
func (v *ResetRequestView) Render() Model {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.modelLocked("Reset Password", false)
}
