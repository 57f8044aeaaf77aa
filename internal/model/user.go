// Package model はドメインモデルを定義する。
package model

import "time"

// UserMode はユーザーの利用モードを表す。
type UserMode string

const (
	// UserModeStudent は受講者モード。新規ユーザーのデフォルト。
	UserModeStudent UserMode = "student"
	// UserModeCoach はコーチモード。
	UserModeCoach UserMode = "coach"
)

// IsValid はUserModeが定義済みの値かどうかを判定する。
func (m UserMode) IsValid() bool {
	return m == UserModeStudent || m == UserModeCoach
}

// User はサービス利用ユーザーを表す。
// 外部IdPのアカウントと (AuthProvider, AuthSubject) の組で1対1に紐付く。
type User struct {
	ID           string
	AuthProvider string
	AuthSubject  string
	Email        string
	DisplayName  *string
	Roles        []string
	ActiveMode   UserMode
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserCreate は管理用のユーザー明示作成ペイロードを表す。
type UserCreate struct {
	AuthProvider string
	AuthSubject  string
	Email        string
	DisplayName  *string
	Roles        []string
	ActiveMode   UserMode
}

// UserUpdate はユーザーの部分更新ペイロードを表す。
// nilフィールドは変更しない。
type UserUpdate struct {
	DisplayName *string
	Roles       *[]string
	ActiveMode  *UserMode
}
