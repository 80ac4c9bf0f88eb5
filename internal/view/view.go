// Package view はページごとの画面状態とイベントハンドラーを提供する。
//
// 各ビューはクライアントにマウントされている間だけ状態を持ち、
// セッションストアを購読して表示内容を更新する。
// Renderは（フォーム状態、セッション、通知）から決定的にModelを生成する。
package view

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/hitoshi/authpanel/internal/guard"
	"github.com/hitoshi/authpanel/internal/model"
	"github.com/hitoshi/authpanel/internal/session"
)

// 操作成功時の案内メッセージ。
const (
	MsgConfirmSignUp   = "Check your email for the confirmation link!"
	MsgResetLinkSent   = "Check your email for the password reset link!"
	MsgPasswordUpdated = "Password updated successfully! Redirecting..."
)

// RedirectAfterPasswordUpdate はパスワード更新成功からプロフィールへ遷移するまでの時間。
const RedirectAfterPasswordUpdate = 2 * time.Second

// verifyingRefresh は検証中ページの再読み込み間隔。
const verifyingRefresh = time.Second

var (
	// ErrBusy は送信処理中に次の送信を受け付けないことを表す。
	ErrBusy = errors.New("view: submission already in progress")
	// ErrNotMounted はマウントされていないビューへの操作を表す。
	ErrNotMounted = errors.New("view: not mounted")
)

// Gateway はビューが利用する認証操作のインターフェース。
// gateway.Clientが実装する。
type Gateway interface {
	SignUp(ctx context.Context, email, password string) error
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context)
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyRecoveryToken(ctx context.Context, tokenHash string) (*model.Session, error)
	UpdatePassword(ctx context.Context, newPassword string) error
	GetSession(ctx context.Context) (*model.Session, error)
}

// Model はテンプレートに渡す表示内容。
type Model struct {
	Route        string
	Title        string
	Session      *model.Session
	Form         model.FormState
	Notification *model.Notification
	Busy         bool
	Phase        guard.Phase
	// Redirect が空でない場合は遷移する。
	// RedirectAfterが0なら即時、正ならその時間だけ表示してから遷移する。
	Redirect      string
	RedirectAfter time.Duration
	Mode          model.AuthMode
	Verifying     bool
}

// View はマウント可能なページ。
type View interface {
	Route() string
	Mount(ctx context.Context, c *Client, query url.Values)
	// Revisit はマウント中のビューへ同じルートで再訪したときに呼ばれる。
	// falseを返した場合はマウントし直す。
	Revisit(query url.Values) bool
	Unmount()
	Render() Model
}

// LogoutHandler はログアウト操作を持つビュー。
type LogoutHandler interface {
	Logout(ctx context.Context)
}

// base は各ビューに共通のマウント状態と送信制御。
type base struct {
	route string

	mu           sync.Mutex
	client       *Client
	sub          *session.Subscription
	session      *model.Session
	form         model.FormState
	notification *model.Notification
	busy         bool
	generation   uint64
	mounted      bool
	// phase はマウントごとのガードの状態。終端に達したら次のマウントまで変わらない。
	phase  guard.Phase
	target string
}

// Route はビューのルートを返す。
func (b *base) Route() string {
	return b.route
}

// Revisit は既定では現在の状態を維持する。
func (b *base) Revisit(url.Values) bool {
	return true
}

// mount は状態を初期化してストアを購読し、世代番号を返す。
func (b *base) mount(c *Client) uint64 {
	b.mu.Lock()
	b.generation++
	gen := b.generation
	b.client = c
	b.mounted = true
	b.form = model.FormState{}
	b.notification = nil
	b.busy = false
	b.phase = guard.Loading
	b.target = ""
	b.mu.Unlock()

	// 登録時点のセッションはストアの書き込みと排他で受け取る
	sub := c.store.SubscribeWithCurrent(func(_ session.Event, s *model.Session) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.mounted && b.generation == gen {
			b.session = s
		}
	}, func(current *model.Session) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.generation == gen {
			b.session = current
		}
	})

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		sub.Unsubscribe()
		return gen
	}
	b.sub = sub
	b.mu.Unlock()
	return gen
}

// Unmount は購読を解除し、フォーム状態を破棄する。
// 実行中の送信結果は以後反映されない。
func (b *base) Unmount() {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mounted = false
	b.generation++
	b.form = model.FormState{}
	b.notification = nil
	b.busy = false
	b.session = nil
	b.phase = guard.Loading
	b.target = ""
	b.mu.Unlock()

	// 配送中のListenerはb.muを取るため、ロック外で解除する
	sub.Unsubscribe()
}

// begin は送信を開始する。処理中ならErrBusyを返す。
// 直前の通知はここでクリアする。
func (b *base) begin() (uint64, *Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.mounted {
		return 0, nil, ErrNotMounted
	}
	if b.busy {
		return 0, nil, ErrBusy
	}
	b.busy = true
	b.notification = nil
	return b.generation, b.client, nil
}

// end は送信結果を反映してbusyを解放する。
// 送信開始後にアンマウントまたは再マウントされた場合は結果を破棄する。
func (b *base) end(gen uint64, apply func()) bool {
	return b.live(gen, func() {
		b.busy = false
		if apply != nil {
			apply()
		}
	})
}

// live は世代番号が一致する場合のみapplyをロック下で実行する。
func (b *base) live(gen uint64, apply func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.mounted || b.generation != gen {
		return false
	}
	apply()
	return true
}

// notifyLocked は通知を設定する。b.muを保持して呼び出す。
func (b *base) notifyLocked(kind model.NotificationKind, text string) {
	b.notification = &model.Notification{Kind: kind, Text: text}
}

// failLocked はエラーを通知に変換する。b.muを保持して呼び出す。
func (b *base) failLocked(err error) {
	b.notifyLocked(model.NotificationError, model.MessageOf(err))
}

// modelLocked は共通部分のModelを組み立て、ガードを適用する。b.muを保持して呼び出す。
func (b *base) modelLocked(title string, recovery bool) Model {
	m := b.snapshotLocked(title)
	if b.client == nil || !b.client.Loaded() {
		return m
	}

	decision := guard.Decide(guard.Request{
		Path:             b.route,
		HasSession:       b.session != nil,
		HasRecoveryToken: recovery,
	})
	if !b.phase.Terminal() {
		b.phase = b.phase.Resolve(decision)
		b.target = decision.Target
	}
	m.Phase = b.phase
	if b.phase == guard.Redirecting {
		m.Redirect = b.target
	} else {
		// 表示確定後にセッションが変わった場合は遷移だけを行う
		m.Redirect = decision.Target
	}
	return m
}

// snapshotLocked はガードを適用せずにModelを組み立てる。b.muを保持して呼び出す。
func (b *base) snapshotLocked(title string) Model {
	m := Model{
		Route:   b.route,
		Title:   title,
		Session: b.session.Clone(),
		Form:    model.FormState{Email: b.form.Email},
		Busy:    b.busy,
		Phase:   b.phase,
	}
	if b.notification != nil {
		n := *b.notification
		m.Notification = &n
	}
	return m
}

// detach は送信処理用に呼び出し元のキャンセルから切り離したコンテキストを返す。
// 結果の破棄は世代番号で行い、通信自体は完了させる。
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
