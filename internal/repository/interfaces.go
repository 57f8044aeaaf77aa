// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/veloapp/velo-backend/internal/model"
)

// Repository はエンティティ型と作成・更新ペイロード型でパラメータ化された
// 汎用CRUDインターフェース。上位層はエンティティごとのボイラープレートなしで
// この契約に依存できる。
//
// 見つからない場合の扱いは全実装で共通とする:
// GetByIDとUpdateは(nil, nil)を返し、Deleteはfalseを返す。エラーにはしない。
type Repository[T any, C any, U any] interface {
	// GetByID は指定IDのエンティティを取得する。見つからない場合はnilを返す。
	GetByID(ctx context.Context, id string) (*T, error)

	// GetAll はskip/limitによるページネーションでエンティティ一覧を取得する。
	// 並び順はミューテーションがない限り呼び出し間で安定している。
	GetAll(ctx context.Context, skip, limit int) ([]*T, error)

	// Create はペイロードから新規エンティティを作成する。
	// IDとタイムスタンプはストアが採番し、永続化済みのエンティティを返す。
	Create(ctx context.Context, payload C) (*T, error)

	// Update は部分更新を行う。ペイロードに存在するフィールドのみ適用し、
	// 存在しないフィールドは変更しない。対象が見つからない場合はnilを返す。
	Update(ctx context.Context, id string, payload U) (*T, error)

	// Delete は指定IDのエンティティを削除する。
	// 削除した場合はtrue、対象が存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)
}

// ItemRepository はアイテムデータの永続化インターフェース。
// 汎用CRUD契約にアイテム固有の検索を加える。
type ItemRepository interface {
	Repository[model.Item, model.ItemCreate, model.ItemUpdate]

	// GetActive はis_active = TRUEのアイテムのみを同じページネーション契約で取得する。
	GetActive(ctx context.Context, skip, limit int) ([]*model.Item, error)

	// GetByName は名前の完全一致でアイテムを検索する。見つからない場合はnilを返す。
	// nameには一意制約がないため、複数一致する場合は作成日時が最新のものを返す。
	GetByName(ctx context.Context, name string) (*model.Item, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
// 汎用CRUD契約に認証起点の検索とアップサートを加える。
type UserRepository interface {
	Repository[model.User, model.UserCreate, model.UserUpdate]

	// FindByAuthSubject は(auth_provider, auth_subject)の複合キーでユーザーを検索する。
	// 一意制約により結果は高々1件。見つからない場合はnilを返す。
	FindByAuthSubject(ctx context.Context, provider, subject string) (*model.User, error)

	// UpsertFromClaims はIdPのクレームからユーザーを作成または更新する。
	// 未登録なら空のロールとデフォルトモードで新規作成する。
	// 登録済みならemailを無条件に上書きし、display_nameはdisplayNameが
	// 非nilの場合のみ上書きする（IdPが名前を返さない場合は既存値を維持）。
	// 永続化後の完全なレコードを返す。
	UpsertFromClaims(ctx context.Context, provider, subject, email string, displayName *string) (*model.User, error)
}
