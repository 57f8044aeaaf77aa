package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veloapp/velo-backend/internal/model"
)

// userColumns はusersテーブルのSELECT対象カラム。
const userColumns = `id, auth_provider, auth_subject, email, display_name, roles, active_mode, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// 認証フローとの結び付きが強いため、汎用エンジンに乗せず個別に実装する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// GetByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// GetAll はskip/limitによるページネーションでユーザー一覧を取得する。
func (r *PostgresUserRepo) GetAll(ctx context.Context, skip, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id OFFSET $1 LIMIT $2`,
		skip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}

	return users, nil
}

// FindByAuthSubject は(auth_provider, auth_subject)の複合キーでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByAuthSubject(ctx context.Context, provider, subject string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE auth_provider = $1 AND auth_subject = $2`,
		provider, subject,
	))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by auth subject: %w", err)
	}

	return user, nil
}

// UpsertFromClaims はIdPのクレームからユーザーを作成または更新する。
// UNIQUE(auth_provider, auth_subject)制約を利用したINSERT ON CONFLICTで
// 冪等に実装する。emailは無条件に上書きし、display_nameはクレームが
// 非nilの場合のみ上書きする（COALESCEで既存値を維持）。
// 新規作成時は空のロールとstudentモードで初期化する。
func (r *PostgresUserRepo) UpsertFromClaims(ctx context.Context, provider, subject, email string, displayName *string) (*model.User, error) {
	now := time.Now().UTC()

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, auth_provider, auth_subject, email, display_name, roles, active_mode, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '[]', $6, $7, $7)
		 ON CONFLICT (auth_provider, auth_subject) DO UPDATE SET
		     email = EXCLUDED.email,
		     display_name = COALESCE(EXCLUDED.display_name, users.display_name),
		     updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		uuid.New().String(), provider, subject, email, nullableString(displayName),
		string(model.UserModeStudent), now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user from claims: %w", err)
	}

	return user, nil
}

// Create は管理用の明示ペイロードからユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, payload model.UserCreate) (*model.User, error) {
	now := time.Now().UTC()

	roles := payload.Roles
	if roles == nil {
		roles = []string{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal roles: %w", err)
	}

	mode := payload.ActiveMode
	if mode == "" {
		mode = model.UserModeStudent
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, auth_provider, auth_subject, email, display_name, roles, active_mode, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 RETURNING `+userColumns,
		uuid.New().String(), payload.AuthProvider, payload.AuthSubject, payload.Email,
		nullableString(payload.DisplayName), rolesJSON, string(mode), now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Update は部分更新を行う。nilフィールドは変更しない。
// 対象が見つからない場合はnilを返す。
func (r *PostgresUserRepo) Update(ctx context.Context, id string, payload model.UserUpdate) (*model.User, error) {
	sets := map[string]any{}
	if payload.DisplayName != nil {
		sets["display_name"] = *payload.DisplayName
	}
	if payload.Roles != nil {
		rolesJSON, err := json.Marshal(*payload.Roles)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal roles: %w", err)
		}
		sets["roles"] = rolesJSON
	}
	if payload.ActiveMode != nil {
		sets["active_mode"] = string(*payload.ActiveMode)
	}

	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	query, args := buildUpdate("users", splitUserColumns(), id, sets, time.Now().UTC())

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user, nil
}

// Delete は指定IDのユーザーを削除する。
// 削除した場合はtrue、対象が存在しなかった場合はfalseを返す。
func (r *PostgresUserRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// scanUser は1行をmodel.Userに変換する。
func scanUser(s RowScanner) (*model.User, error) {
	user := &model.User{}
	var displayName sql.NullString
	var rolesJSON []byte
	var mode string

	err := s.Scan(
		&user.ID, &user.AuthProvider, &user.AuthSubject, &user.Email,
		&displayName, &rolesJSON, &mode,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if displayName.Valid {
		user.DisplayName = &displayName.String
	}
	user.ActiveMode = model.UserMode(mode)

	user.Roles = []string{}
	if len(rolesJSON) > 0 {
		if err := json.Unmarshal(rolesJSON, &user.Roles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
		}
	}

	return user, nil
}

// splitUserColumns はuserColumnsをスライスとして返す。
func splitUserColumns() []string {
	return []string{"id", "auth_provider", "auth_subject", "email", "display_name", "roles", "active_mode", "created_at", "updated_at"}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
