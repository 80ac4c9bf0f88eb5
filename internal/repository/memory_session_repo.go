package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/authpanel/internal/model"
)

type memoryRecord struct {
	payload   []byte
	expiresAt time.Time
}

// MemorySessionRepo はプロセス内メモリを使用したセッションリポジトリ。
// 開発環境と単一インスタンス構成向け。再起動でセッションは失われる。
type MemorySessionRepo struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

// Save はセッションを保存する。永続化形式と同じエンコードを通す。
func (r *MemorySessionRepo) Save(_ context.Context, clientID string, session *model.Session, expiresAt time.Time) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[clientID] = memoryRecord{payload: payload, expiresAt: expiresAt}
	return nil
}

// FindByClientID はクライアントのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByClientID(_ context.Context, clientID string) (*model.Session, error) {
	r.mu.RLock()
	rec, ok := r.records[clientID]
	r.mu.RUnlock()

	if !ok || !r.now().Before(rec.expiresAt) {
		return nil, nil
	}
	return decodeSession(rec.payload)
}

// DeleteByClientID はクライアントのセッションを削除する。
func (r *MemorySessionRepo) DeleteByClientID(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, clientID)
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if !before.Before(rec.expiresAt) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*MemorySessionRepo)(nil)
var _ ExpiredSessionPurger = (*MemorySessionRepo)(nil)
