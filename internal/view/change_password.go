package view

import (
	"context"
	"net/url"

	"github.com/hitoshi/authpanel/internal/gateway"
	"github.com/hitoshi/authpanel/internal/guard"
	"github.com/hitoshi/authpanel/internal/identity"
	"github.com/hitoshi/authpanel/internal/model"
)

// ChangePasswordView はパスワード変更ページ。
// メールのリンクから来た場合はリカバリートークンを検証してから変更フォームを表示する。
type ChangePasswordView struct {
	base

	recovery  bool
	verifying bool
	verified  chan struct{}
	updated   bool
}

// NewChangePasswordView はChangePasswordViewを生成する。
func NewChangePasswordView() *ChangePasswordView {
	return &ChangePasswordView{base: base{route: guard.PathUpdatePassword}}
}

// recoveryToken はクエリからリカバリートークンを取り出す。
func recoveryToken(query url.Values) string {
	if query.Get("type") != identity.OTPTypeRecovery {
		return ""
	}
	return query.Get("token_hash")
}

// Mount はビューをマウントする。
// token_hashとtype=recoveryがあれば検証中状態に入り、非同期に検証する。
func (v *ChangePasswordView) Mount(ctx context.Context, c *Client, query url.Values) {
	gen := v.mount(c)
	token := recoveryToken(query)

	done := make(chan struct{})
	v.mu.Lock()
	v.recovery = token != ""
	v.verifying = token != ""
	v.updated = false
	v.verified = done
	v.mu.Unlock()

	if token == "" {
		close(done)
		return
	}

	go func() {
		defer close(done)
		_, err := c.gateway.VerifyRecoveryToken(detach(ctx), token)
		v.live(gen, func() {
			v.verifying = false
			if err != nil {
				v.failLocked(err)
			}
		})
	}()
}

// Revisit は新しいリカバリートークンがあればマウントし直す。
func (v *ChangePasswordView) Revisit(query url.Values) bool {
	return recoveryToken(query) == ""
}

// Verified はトークン検証の完了時にcloseされるチャネルを返す。
func (v *ChangePasswordView) Verified() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.verified
}

// Submit は新しいパスワードを検証して更新する。
// 検証はネットワーク呼び出しの前に行い、セッションがなければメールのリンクを案内する。
func (v *ChangePasswordView) Submit(ctx context.Context, form model.FormState) error {
	gen, c, err := v.begin()
	if err != nil {
		return err
	}

	// 1. ローカル検証
	if err := gateway.ValidatePasswordChange(form.Password, form.ConfirmPassword); err != nil {
		v.end(gen, func() { v.failLocked(err) })
		return err
	}

	// 2. セッション確認と更新
	err = c.gateway.UpdatePassword(detach(ctx), form.Password)
	v.end(gen, func() {
		if err != nil {
			v.failLocked(err)
			return
		}
		v.updated = true
		v.notifyLocked(model.NotificationInfo, MsgPasswordUpdated)
	})
	return err
}

// Render は表示内容を返す。
func (v *ChangePasswordView) Render() Model {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.verifying {
		m := v.snapshotLocked("Verifying Reset Link")
		m.Verifying = true
		m.Redirect = guard.PathUpdatePassword
		m.RedirectAfter = verifyingRefresh
		return m
	}

	m := v.modelLocked("Change Password", v.recovery)
	if v.updated && m.Redirect == "" {
		m.Redirect = guard.PathProfile
		m.RedirectAfter = RedirectAfterPasswordUpdate
	}
	return m
}
