// Package model はドメインモデルを定義する。
package model

import "time"

// Item は管理対象のアイテムを表す。
type Item struct {
	ID          string
	Name        string
	Description *string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ItemCreate はアイテムの新規作成ペイロードを表す。
type ItemCreate struct {
	Name        string
	Description *string
	IsActive    bool
}

// ItemUpdate はアイテムの部分更新ペイロードを表す。
// nilフィールドは変更せず、既存の値を維持する。
type ItemUpdate struct {
	Name        *string
	Description *string
	IsActive    *bool
}
