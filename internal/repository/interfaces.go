// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/authpanel/internal/model"
)

// SessionRepository はクライアントごとの認証セッションの永続化インターフェース。
// ブラウザのローカルストレージに相当し、サーバー再起動後もセッションを復元できるようにする。
type SessionRepository interface {
	// Save はクライアントのセッションを作成または上書きする。
	// expiresAtを過ぎたレコードは検索対象外となる。
	Save(ctx context.Context, clientID string, session *model.Session, expiresAt time.Time) error
	// FindByClientID はクライアントのセッションを取得する。
	// 見つからない場合、または期限切れの場合はnilを返す。
	FindByClientID(ctx context.Context, clientID string) (*model.Session, error)
	// DeleteByClientID はクライアントのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByClientID(ctx context.Context, clientID string) error
}

// ExpiredSessionPurger は期限切れセッションを一括削除できるリポジトリ。
// TTLを自前で管理しないバックエンドが実装する。
type ExpiredSessionPurger interface {
	// DeleteExpired はbefore時点で期限切れのレコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ClientPersister は特定クライアントに束縛されたセッション永続化アダプタ。
// session.Persisterを満たす。
type ClientPersister struct {
	repo     SessionRepository
	clientID string
	maxAge   time.Duration
	now      func() time.Time
}

// NewClientPersister はClientPersisterを生成する。
// maxAgeは最終書き込みからレコードを保持する期間。
func NewClientPersister(repo SessionRepository, clientID string, maxAge time.Duration) *ClientPersister {
	return &ClientPersister{
		repo:     repo,
		clientID: clientID,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Save はセッションを保存する。
func (p *ClientPersister) Save(ctx context.Context, session *model.Session) error {
	return p.repo.Save(ctx, p.clientID, session, p.now().Add(p.maxAge))
}

// Delete はセッションを削除する。
func (p *ClientPersister) Delete(ctx context.Context) error {
	return p.repo.DeleteByClientID(ctx, p.clientID)
}
