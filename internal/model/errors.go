// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, resource, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeAuthUnavailable = "AUTH_UNAVAILABLE"
	ErrCodeItemNotFound    = "ITEM_NOT_FOUND"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeInvalidPayload  = "INVALID_PAYLOAD"
	ErrCodeInvalidQuery    = "INVALID_QUERY"
)

// NewUnauthorizedError は認証エラーを生成する。
// トークン不正・期限切れ・失効のいずれであっても同一のメッセージを返し、
// どの検証で失敗したかを呼び出し側に漏らさない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証情報が無効か、セッションの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewAuthUnavailableError は認証サービス未設定エラーを生成する。
func NewAuthUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthUnavailable,
		Message:  "認証サービスが構成されていません。",
		Category: "system",
		Action:   "管理者に連絡してください。",
	}
}

// NewItemNotFoundError はアイテム未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定されたアイテムが見つかりません: %s", itemID),
		Category: "resource",
		Action:   "アイテムIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "resource",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewInvalidPayloadError はリクエストボディの構造エラーを生成する。
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("リクエストボディが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidQueryError はクエリパラメータの構造エラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("クエリパラメータが不正です: %s", reason),
		Category: "validation",
		Action:   "skipは0以上、limitは1〜100の範囲で指定してください。",
	}
}
