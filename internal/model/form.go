package model

// AuthMode は認証画面のサブモード（サインイン/サインアップ）を表す。
type AuthMode string

const (
	// AuthModeSignIn はサインインモード。
	AuthModeSignIn AuthMode = "signin"
	// AuthModeSignUp はサインアップモード。
	AuthModeSignUp AuthMode = "signup"
)

// ParseAuthMode は文字列をAuthModeに変換する。未知の値はサインインとして扱う。
func ParseAuthMode(s string) AuthMode {
	if s == string(AuthModeSignUp) {
		return AuthModeSignUp
	}
	return AuthModeSignIn
}

// FormState は画面ごとの一時的な入力状態を表す。
// 画面がマウントされている間だけ存在し、永続化されない。
type FormState struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// NotificationKind は通知の種別を表す。
type NotificationKind string

const (
	// NotificationError はエラー通知。
	NotificationError NotificationKind = "error"
	// NotificationInfo は情報通知。
	NotificationInfo NotificationKind = "info"
)

// Notification は画面ごとに1つだけ保持される通知スロットを表す。
// 送信のたびに上書きされる。
type Notification struct {
	Kind NotificationKind
	Text string
}

// IsError はエラー通知かどうかを返す。
func (n *Notification) IsError() bool {
	return n != nil && n.Kind == NotificationError
}
