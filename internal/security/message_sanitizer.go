// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer は認証サービスから返されたエラーメッセージをプレーンテキストに正規化する。
// 外部サービス由来の文字列はそのまま画面に表示されるため、
// bluemondayのStrictPolicyで全てのタグを除去してから表示する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageLength は表示するメッセージの最大文字数（rune単位）。
const maxMessageLength = 300

// MessageSanitizer は外部由来メッセージのサニタイズ機能のインターフェースを定義する。
type MessageSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、空白を正規化したプレーンテキストを返す。
	// HTMLエンティティはデコードされる（テンプレート側で改めてエスケープされる）。
	// maxMessageLengthを超える部分は切り詰める。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(message string) string
}

// messageSanitizer はMessageSanitizerの実装。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
func NewMessageSanitizer() *messageSanitizer {
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はメッセージからタグを除去してプレーンテキストを返す。
func (s *messageSanitizer) Sanitize(message string) string {
	text := html.UnescapeString(s.policy.Sanitize(message))
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > maxMessageLength {
		text = string(runes[:maxMessageLength])
	}
	return text
}
