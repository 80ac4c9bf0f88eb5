package model

import (
	"errors"
	"fmt"
)

// ErrorKind は認証フローのエラー分類を表す。
type ErrorKind string

const (
	// KindValidation はネットワーク呼び出し前のローカル検証エラー。
	KindValidation ErrorKind = "validation"
	// KindGateway はIDプロバイダーがリクエストを拒否したエラー。
	KindGateway ErrorKind = "gateway"
	// KindUnauthenticated は必要なセッションが存在しないエラー。
	KindUnauthenticated ErrorKind = "unauthenticated"
)

// AuthError は認証フローの統一エラーを表す。
// Messageはそのままユーザーに表示される。
type AuthError struct {
	Kind    ErrorKind
	Message string
	Status  int    // ゲートウェイエラーの場合のHTTPステータス
	Code    string // ゲートウェイエラーの場合のエラーコード
	Err     error  // 元のエラー（ネットワークエラー等）

	// Transient はサービスから応答を得られなかった失敗であることを表す。
	// 再試行で回復し得るのは通信障害のみで、応答の解釈に失敗した場合は含まない。
	Transient bool
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// ローカル検証と未認証時のメッセージ。
const (
	MsgPasswordMismatch = "Passwords do not match"
	MsgPasswordTooShort = "Password must be at least 6 characters"
	MsgEmailRequired    = "Email is required"
	MsgPasswordRequired = "Password is required"
	MsgUnauthenticated  = "Please click the link from your email first"
	MsgUnexpected       = "An error occurred"
)

// NewValidationError はローカル検証エラーを生成する。
func NewValidationError(message string) *AuthError {
	return &AuthError{Kind: KindValidation, Message: message}
}

// NewGatewayError はIDプロバイダーの拒否エラーを生成する。
func NewGatewayError(status int, code, message string) *AuthError {
	if message == "" {
		message = MsgUnexpected
	}
	return &AuthError{Kind: KindGateway, Message: message, Status: status, Code: code}
}

// NewTransportError はIDプロバイダーへの到達失敗（接続・タイムアウト・読み取り中断）を
// ゲートウェイエラーとして生成する。
func NewTransportError(err error) *AuthError {
	return &AuthError{Kind: KindGateway, Message: MsgUnexpected, Err: err, Transient: true}
}

// NewProtocolError はリクエストの組み立てや応答の解釈に失敗したエラーを生成する。
// 通信自体は成立しているため再試行の対象にしない。
func NewProtocolError(err error) *AuthError {
	return &AuthError{Kind: KindGateway, Message: MsgUnexpected, Err: err}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *AuthError {
	return &AuthError{Kind: KindUnauthenticated, Message: MsgUnauthenticated}
}

// KindOf はエラーの分類を返す。AuthErrorでない場合は空文字列を返す。
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// MessageOf はユーザー向けメッセージを返す。AuthErrorでない場合は汎用メッセージを返す。
func MessageOf(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return MsgUnexpected
}
