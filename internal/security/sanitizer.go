// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はユーザー入力のテキストをサニタイズし、
// 保存データ経由のXSS攻撃からユーザーを保護する。
// bluemondayライブラリの許可リストベースのポリシーを使用する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はテキストのサニタイズ機能のインターフェースを定義する。
// アイテムの説明文など、自由入力フィールドの保存前に使用される。
type TextSanitizerService interface {
	// Sanitize は入力からHTMLタグをすべて除去し、前後の空白を取り除いて返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// HTMLタグを一切許可しないStrictPolicyを使用する。
// script, iframe, style等のタグおよびon*イベント属性はすべて除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からHTMLタグをすべて除去する。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

var _ TextSanitizerService = (*textSanitizer)(nil)
