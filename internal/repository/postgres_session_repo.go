package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authpanel/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Save はセッションを作成または上書きする。
func (r *PostgresSessionRepo) Save(ctx context.Context, clientID string, session *model.Session, expiresAt time.Time) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO client_sessions (client_id, user_id, payload, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (client_id) DO UPDATE
		 SET user_id = EXCLUDED.user_id,
		     payload = EXCLUDED.payload,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = now()`,
		clientID, session.User.ID, payload, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// FindByClientID はクライアントのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByClientID(ctx context.Context, clientID string) (*model.Session, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload
		 FROM client_sessions
		 WHERE client_id = $1 AND expires_at > now()`,
		clientID,
	).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return decodeSession(payload)
}

// DeleteByClientID はクライアントのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByClientID(ctx context.Context, clientID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM client_sessions WHERE client_id = $1`,
		clientID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM client_sessions WHERE expires_at <= $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
var _ ExpiredSessionPurger = (*PostgresSessionRepo)(nil)
