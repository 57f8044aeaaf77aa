package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RowScanner は*sql.Rowと*sql.Rowsに共通するScanの抽象。
// TableSpecの行スキャナが両方の取得経路で使えるようにする。
type RowScanner interface {
	Scan(dest ...any) error
}

// TableSpec はエンティティとテーブルの対応を記述するディスクリプタ。
// 汎用CRUDエンジンはこの記述だけを頼りにSQLを組み立てるため、
// エンティティごとの実装はテーブル名・カラム・フィールド対応の宣言で済む。
type TableSpec[T any, C any, U any] struct {
	// Table はテーブル名。
	Table string

	// Columns はSELECTで取得する全カラム。id, created_at, updated_atを含む。
	Columns []string

	// ScanRow は1行をエンティティに変換する。
	ScanRow func(s RowScanner) (*T, error)

	// InsertColumns は作成ペイロードをカラム名→値の対応に変換する。
	// id, created_at, updated_atはエンジンが採番するため含めない。
	InsertColumns func(payload C) map[string]any

	// UpdateColumns は更新ペイロードのうち明示的に指定されたフィールドのみを
	// カラム名→値の対応に変換する。未指定フィールドは含めない（部分更新）。
	UpdateColumns func(payload U) map[string]any
}

// PostgresCRUD はTableSpecに従ってCRUD操作を行う汎用エンジン。
// Repository[T, C, U]インターフェースを実装する。
type PostgresCRUD[T any, C any, U any] struct {
	db   *sql.DB
	spec TableSpec[T, C, U]
}

// NewPostgresCRUD はPostgresCRUDを生成する。
func NewPostgresCRUD[T any, C any, U any](db *sql.DB, spec TableSpec[T, C, U]) *PostgresCRUD[T, C, U] {
	return &PostgresCRUD[T, C, U]{db: db, spec: spec}
}

// GetByID は指定IDのエンティティを取得する。見つからない場合はnilを返す。
func (r *PostgresCRUD[T, C, U]) GetByID(ctx context.Context, id string) (*T, error) {
	row := r.db.QueryRowContext(ctx, buildSelectByID(r.spec.Table, r.spec.Columns), id)

	entity, err := r.spec.ScanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s by ID: %w", r.spec.Table, err)
	}

	return entity, nil
}

// GetAll はskip/limitによるページネーションでエンティティ一覧を取得する。
// created_at, idの複合キーで並べるため、ミューテーションがない限り
// ウィンドウは呼び出し間で安定する。
func (r *PostgresCRUD[T, C, U]) GetAll(ctx context.Context, skip, limit int) ([]*T, error) {
	rows, err := r.db.QueryContext(ctx, buildSelectAll(r.spec.Table, r.spec.Columns), skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.spec.Table, err)
	}
	defer rows.Close()

	entities := []*T{}
	for rows.Next() {
		entity, err := r.spec.ScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.spec.Table, err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", r.spec.Table, err)
	}

	return entities, nil
}

// Create はペイロードから新規エンティティを作成する。
// IDはUUIDで採番し、タイムスタンプは現在時刻を設定する。
// RETURNINGで永続化済みの行を読み戻して返す。
func (r *PostgresCRUD[T, C, U]) Create(ctx context.Context, payload C) (*T, error) {
	now := time.Now().UTC()

	values := r.spec.InsertColumns(payload)
	values["id"] = uuid.New().String()
	values["created_at"] = now
	values["updated_at"] = now

	query, args := buildInsert(r.spec.Table, r.spec.Columns, values)

	entity, err := r.spec.ScanRow(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", r.spec.Table, err)
	}

	return entity, nil
}

// Update は部分更新を行う。ペイロードに存在するフィールドのみ適用し、
// updated_atを更新する。対象が見つからない場合はnilを返す。
// 更新フィールドが空の場合はストアを変更せず現在の行を返す。
func (r *PostgresCRUD[T, C, U]) Update(ctx context.Context, id string, payload U) (*T, error) {
	sets := r.spec.UpdateColumns(payload)
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	query, args := buildUpdate(r.spec.Table, r.spec.Columns, id, sets, time.Now().UTC())

	entity, err := r.spec.ScanRow(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", r.spec.Table, err)
	}

	return entity, nil
}

// Delete は指定IDのエンティティを削除する。
// 削除した場合はtrue、対象が存在しなかった場合はfalseを返す。
func (r *PostgresCRUD[T, C, U]) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.spec.Table),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", r.spec.Table, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// --- SQL組み立て ---
// DBなしでテストできるよう純粋関数として切り出す。
// プレースホルダの順序を決定的にするため、mapのキーはソートして使う。

// buildSelectByID は主キー検索のSELECT文を組み立てる。
func buildSelectByID(table string, columns []string) string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`,
		strings.Join(columns, ", "), table)
}

// buildSelectAll はページネーション付きの全件SELECT文を組み立てる。
// $1=OFFSET, $2=LIMIT。
func buildSelectAll(table string, columns []string) string {
	return fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, id OFFSET $1 LIMIT $2`,
		strings.Join(columns, ", "), table)
}

// buildInsert はINSERT ... RETURNING文と引数リストを組み立てる。
func buildInsert(table string, columns []string, values map[string]any) (string, []any) {
	cols := sortedKeys(values)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[col]
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(columns, ", "),
	)

	return query, args
}

// buildUpdate は部分更新のUPDATE ... RETURNING文と引数リストを組み立てる。
// $1はID。setsのカラムに加えてupdated_atを必ず更新する。
func buildUpdate(table string, columns []string, id string, sets map[string]any, updatedAt time.Time) (string, []any) {
	cols := sortedKeys(sets)

	clauses := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	args = append(args, id)

	for i, col := range cols {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, i+2))
		args = append(args, sets[col])
	}
	clauses = append(clauses, fmt.Sprintf("updated_at = $%d", len(cols)+2))
	args = append(args, updatedAt)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 RETURNING %s`,
		table,
		strings.Join(clauses, ", "),
		strings.Join(columns, ", "),
	)

	return query, args
}

// sortedKeys はmapのキーを昇順で返す。
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
