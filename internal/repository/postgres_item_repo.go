package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veloapp/velo-backend/internal/model"
)

// itemColumns はitemsテーブルのSELECT対象カラム。
var itemColumns = []string{"id", "name", "description", "is_active", "created_at", "updated_at"}

// itemTableSpec はItemエンティティとitemsテーブルの対応を宣言する。
var itemTableSpec = TableSpec[model.Item, model.ItemCreate, model.ItemUpdate]{
	Table:   "items",
	Columns: itemColumns,
	ScanRow: scanItem,
	InsertColumns: func(p model.ItemCreate) map[string]any {
		return map[string]any{
			"name":        p.Name,
			"description": nullableString(p.Description),
			"is_active":   p.IsActive,
		}
	},
	UpdateColumns: func(p model.ItemUpdate) map[string]any {
		sets := map[string]any{}
		if p.Name != nil {
			sets["name"] = *p.Name
		}
		if p.Description != nil {
			sets["description"] = *p.Description
		}
		if p.IsActive != nil {
			sets["is_active"] = *p.IsActive
		}
		return sets
	},
}

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
// 汎用CRUDエンジンにアイテム固有の検索を加える。
type PostgresItemRepo struct {
	*PostgresCRUD[model.Item, model.ItemCreate, model.ItemUpdate]
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{
		PostgresCRUD: NewPostgresCRUD(db, itemTableSpec),
		db:           db,
	}
}

// GetActive はis_active = TRUEのアイテムのみをページネーション付きで取得する。
// 並び順はGetAllと同一の安定した複合キーを使用する。
func (r *PostgresItemRepo) GetActive(ctx context.Context, skip, limit int) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, is_active, created_at, updated_at
		 FROM items
		 WHERE is_active = TRUE
		 ORDER BY created_at, id
		 OFFSET $1 LIMIT $2`,
		skip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active items: %w", err)
	}
	defer rows.Close()

	items := []*model.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate item rows: %w", err)
	}

	return items, nil
}

// GetByName は名前の完全一致でアイテムを検索する。見つからない場合はnilを返す。
// nameに一意制約はないため、複数一致する場合は作成日時が最新のものを返す。
func (r *PostgresItemRepo) GetByName(ctx context.Context, name string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_active, created_at, updated_at
		 FROM items
		 WHERE name = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		name,
	))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find item by name: %w", err)
	}

	return item, nil
}

// scanItem は1行をmodel.Itemに変換する。
func scanItem(s RowScanner) (*model.Item, error) {
	item := &model.Item{}
	var description sql.NullString

	err := s.Scan(
		&item.ID, &item.Name, &description, &item.IsActive,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		item.Description = &description.String
	}

	return item, nil
}

// nullableString は*stringをSQLのNULL対応値に変換する。
func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
