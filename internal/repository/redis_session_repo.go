package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authpanel/internal/model"
)

// defaultRedisKeyPrefix はセッションキーの既定プレフィックス。
const defaultRedisKeyPrefix = "authpanel:session:"

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 期限切れはRedisのTTLで自動削除されるため、ExpiredSessionPurgerは実装しない。
type RedisSessionRepo struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。prefixが空の場合は既定値を使う。
func NewRedisSessionRepo(rdb redis.UniversalClient, prefix string) *RedisSessionRepo {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisSessionRepo{rdb: rdb, prefix: prefix, now: time.Now}
}

func (r *RedisSessionRepo) key(clientID string) string {
	return r.prefix + clientID
}

// Save はセッションをTTL付きで保存する。
func (r *RedisSessionRepo) Save(ctx context.Context, clientID string, session *model.Session, expiresAt time.Time) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}

	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		// 既に期限切れのレコードは保存しない
		return r.DeleteByClientID(ctx, clientID)
	}

	if err := r.rdb.Set(ctx, r.key(clientID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// FindByClientID はクライアントのセッションを取得する。存在しない場合はnilを返す。
func (r *RedisSessionRepo) FindByClientID(ctx context.Context, clientID string) (*model.Session, error) {
	payload, err := r.rdb.Get(ctx, r.key(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return decodeSession(payload)
}

// DeleteByClientID はクライアントのセッションを削除する。
func (r *RedisSessionRepo) DeleteByClientID(ctx context.Context, clientID string) error {
	if err := r.rdb.Del(ctx, r.key(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
