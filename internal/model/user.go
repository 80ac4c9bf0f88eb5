// Package model はドメインモデルを定義する。
package model

import "time"

// User はIDプロバイダーが管理するユーザーのスナップショットを表す。
// 認証情報そのものは保持しない。
type User struct {
	ID           string
	Email        string
	CreatedAt    time.Time
	LastSignInAt time.Time
}

// Session はIDプロバイダーが発行した認証セッションを表す。
// Session StoreはこのコピーをreadOnlyキャッシュとして保持する。
type Session struct {
	User         User
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// UserID はセッションのユーザーIDを返す。
func (s *Session) UserID() string {
	return s.User.ID
}

// Email はセッションのメールアドレスを返す。
func (s *Session) Email() string {
	return s.User.Email
}

// Expired は指定時刻の時点でアクセストークンが失効しているかを判定する。
// ExpiresAtがゼロ値の場合は失効していないものとして扱う。
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone はセッションのコピーを返す。nilの場合はnilを返す。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
