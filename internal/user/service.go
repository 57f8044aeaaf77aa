// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veloapp/velo-backend/internal/model"
	"github.com/veloapp/velo-backend/internal/repository"
)

// Service はユーザー管理のサービス層。
// 通常のログインフローでは触れない管理用のCRUD操作を提供する。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// List はユーザー一覧をskip/limitページネーションで取得する。
func (s *Service) List(ctx context.Context, skip, limit int) ([]*model.User, error) {
	return s.userRepo.GetAll(ctx, skip, limit)
}

// Get は指定IDのユーザーを取得する。
// 見つからない場合はUSER_NOT_FOUNDエラーを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return user, nil
}

// Create はユーザーを明示的に作成する。
// ActiveModeが空の場合はデフォルトモードを補い、不正な値は弾く。
func (s *Service) Create(ctx context.Context, payload model.UserCreate) (*model.User, error) {
	if payload.ActiveMode == "" {
		payload.ActiveMode = model.UserModeStudent
	}
	if !payload.ActiveMode.IsValid() {
		return nil, model.NewInvalidPayloadError(fmt.Sprintf("unknown active_mode: %s", payload.ActiveMode))
	}
	if payload.Roles == nil {
		payload.Roles = []string{}
	}

	user, err := s.userRepo.Create(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("auth_provider", user.AuthProvider),
	)
	return user, nil
}

// Update はユーザーを部分更新する。nilフィールドは変更しない。
// 対象が見つからない場合はUSER_NOT_FOUNDエラーを返す。
func (s *Service) Update(ctx context.Context, userID string, payload model.UserUpdate) (*model.User, error) {
	if payload.ActiveMode != nil && !payload.ActiveMode.IsValid() {
		return nil, model.NewInvalidPayloadError(fmt.Sprintf("unknown active_mode: %s", *payload.ActiveMode))
	}

	user, err := s.userRepo.Update(ctx, userID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return user, nil
}

// Delete は指定IDのユーザーを削除する。
// 対象が存在しない場合はUSER_NOT_FOUNDエラーを返す。
func (s *Service) Delete(ctx context.Context, userID string) error {
	deleted, err := s.userRepo.Delete(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if !deleted {
		return model.NewUserNotFoundError(userID)
	}

	slog.Info("user deleted", slog.String("user_id", userID))
	return nil
}
