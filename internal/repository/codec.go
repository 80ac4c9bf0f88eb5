package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/authpanel/internal/model"
)

// storedSession は永続化用のセッション表現。
// スキーマ変更に備えてバージョンを持つ。
type storedSession struct {
	Version      int       `json:"v"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
	LastSignInAt time.Time `json:"last_sign_in_at"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

const storedSessionVersion = 1

// encodeSession はセッションを永続化用のJSONに変換する。
func encodeSession(s *model.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}
	return json.Marshal(storedSession{
		Version:      storedSessionVersion,
		UserID:       s.User.ID,
		Email:        s.User.Email,
		CreatedAt:    s.User.CreatedAt,
		LastSignInAt: s.User.LastSignInAt,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt,
	})
}

// decodeSession は永続化用のJSONをセッションに復元する。
func decodeSession(data []byte) (*model.Session, error) {
	var st storedSession
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if st.Version != storedSessionVersion {
		return nil, fmt.Errorf("unsupported session version: %d", st.Version)
	}
	return &model.Session{
		User: model.User{
			ID:           st.UserID,
			Email:        st.Email,
			CreatedAt:    st.CreatedAt,
			LastSignInAt: st.LastSignInAt,
		},
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
		ExpiresAt:    st.ExpiresAt,
	}, nil
}
