// Package session はクライアントごとの認証セッションを保持する観測可能なストアを提供する。
//
// Storeは現在のセッション（または不在）を1つだけ保持し、変更のたびに購読者へ通知する。
// 通知は登録順に直列で配送され、購読解除後の通知は行われない。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/authpanel/internal/model"
)

// Event はセッション変更の種別を表す。
type Event string

const (
	// EventInitialSession は初回のセッション取得完了を表す。
	EventInitialSession Event = "INITIAL_SESSION"
	// EventSignedIn はサインインによるセッション生成を表す。
	EventSignedIn Event = "SIGNED_IN"
	// EventSignedOut はサインアウトまたは失効によるセッション破棄を表す。
	EventSignedOut Event = "SIGNED_OUT"
	// EventTokenRefreshed はトークンのリフレッシュによるセッション置換を表す。
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	// EventUserUpdated はユーザー情報の更新を表す。
	EventUserUpdated Event = "USER_UPDATED"
	// EventPasswordRecovery はリカバリートークン検証によるセッション生成を表す。
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

// Listener はセッション変更の通知を受け取る関数。
// sessionはnil（不在）の場合がある。受け取ったセッションは呼び出し側のコピー。
// Listenerの中から自身のUnsubscribe、およびSet/Clearを同期的に呼び出してはならない。
type Listener func(event Event, session *model.Session)

// Persister はセッションの永続化を担うインターフェース。
// Storeへの書き込みのたびに呼び出される。
type Persister interface {
	Save(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context) error
}

// FetchFunc は初回セッション取得を行う関数。
type FetchFunc func(ctx context.Context) (*model.Session, error)

// Subscription は購読のハンドル。
type Subscription struct {
	store    *Store
	id       uint64
	listener Listener

	mu     sync.Mutex
	active bool
}

// Unsubscribe は購読を解除する。複数回呼び出しても安全。
// 戻った時点以降、このListenerは呼び出されない。
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.mu.Unlock()

	if wasActive {
		s.store.remove(s.id)
	}
}

// deliver はListenerがまだ有効な場合のみ呼び出す。
func (s *Subscription) deliver(event Event, session *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.listener(event, session.Clone())
}

// Store はクライアント1つ分のセッションを保持する。
// 同時に有効なセッションは高々1つ。
type Store struct {
	mu      sync.RWMutex
	current *model.Session
	subs    []*Subscription
	nextID  uint64

	// writeMu は書き込み・永続化・通知の一連を直列化する。
	// 永続化先とListenerが見る順序はcurrentへの書き込み順と一致する。
	writeMu sync.Mutex

	persister Persister
	logger    *slog.Logger
}

// Option はStoreの生成オプション。
type Option func(*Store)

// WithPersister は永続化先を設定する。
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithInitial は初期セッションを設定する。通知は行わない。
func WithInitial(session *model.Session) Option {
	return func(s *Store) { s.current = session.Clone() }
}

// NewStore はStoreを生成する。
func NewStore(opts ...Option) *Store {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current は現在のセッションのコピーを返す。不在の場合はnilを返す。
func (s *Store) Current() *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// HasSession はセッションが存在するかを返す。
func (s *Store) HasSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Subscribe はListenerを登録し、購読ハンドルを返す。
func (s *Store) Subscribe(listener Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &Subscription{
		store:    s,
		id:       s.nextID,
		listener: listener,
		active:   true,
	}
	s.subs = append(s.subs, sub)
	return sub
}

// SubscribeWithCurrent はListenerを登録し、登録時点のセッションでinitを呼び出す。
// 登録と読み取りは書き込みと排他のため、initに渡る値より古い通知は届かない。
func (s *Store) SubscribeWithCurrent(listener Listener, init func(session *model.Session)) *Subscription {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sub := s.Subscribe(listener)
	init(s.Current())
	return sub
}

// ListenerCount は現在の購読数を返す。
func (s *Store) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Set はセッションを書き込み、購読者へ通知する。
// sessionがnilの場合はClearと同じ。後から書き込んだ値が常に優先される。
func (s *Store) Set(ctx context.Context, event Event, session *model.Session) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = session.Clone()
	s.mu.Unlock()

	s.persist(ctx, session)
	s.emit(event, session)
}

// Clear はセッションを破棄し、SIGNED_OUTを通知する。
func (s *Store) Clear(ctx context.Context) {
	s.Set(ctx, EventSignedOut, nil)
}

// Load は初回セッション取得を非同期に行う。
// 取得結果をストアへ書き込み、INITIAL_SESSIONを通知する。
// 取得が完了するまでに購読解除されたListenerは呼び出されない。
// 戻り値のチャネルは取得と通知の完了時にcloseされる。
func (s *Store) Load(ctx context.Context, fetch FetchFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		session, err := fetch(ctx)
		if err != nil {
			s.logger.Warn("初回セッションの取得に失敗しました", slog.String("error", err.Error()))
			session = nil
		}

		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		s.mu.Lock()
		s.current = session.Clone()
		s.mu.Unlock()

		s.emit(EventInitialSession, session)
	}()
	return done
}

// emit は登録順に購読者へ通知する。s.writeMuを保持して呼び出す。
func (s *Store) emit(event Event, session *model.Session) {
	s.mu.RLock()
	subs := make([]*Subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(event, session)
	}
}

// persist は永続化先へセッションを保存または削除する。s.writeMuを保持して呼び出す。
// 永続化の失敗はログに記録し、メモリ上の状態は維持する。
func (s *Store) persist(ctx context.Context, session *model.Session) {
	if s.persister == nil {
		return
	}

	var err error
	if session == nil {
		err = s.persister.Delete(ctx)
	} else {
		err = s.persister.Save(ctx, session)
	}
	if err != nil {
		s.logger.Error("セッションの永続化に失敗しました", slog.String("error", err.Error()))
	}
}

// remove は購読リストからIDを取り除く。登録順は維持する。
func (s *Store) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}
