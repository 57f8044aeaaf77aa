// Package item はアイテム管理のドメインロジックを提供する。
package item

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veloapp/velo-backend/internal/model"
	"github.com/veloapp/velo-backend/internal/repository"
	"github.com/veloapp/velo-backend/internal/security"
)

// Service はアイテム管理のサービス層。
// 説明文はHTMLタグを一切許可しないポリシーでサニタイズしてから永続化する。
type Service struct {
	itemRepo  repository.ItemRepository
	sanitizer security.TextSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(itemRepo repository.ItemRepository) *Service {
	return &Service{
		itemRepo:  itemRepo,
		sanitizer: security.NewTextSanitizer(),
	}
}

// List はアイテム一覧をskip/limitページネーションで取得する。
// activeOnlyがtrueの場合はis_active = TRUEのアイテムのみ返す。
func (s *Service) List(ctx context.Context, skip, limit int, activeOnly bool) ([]*model.Item, error) {
	if activeOnly {
		return s.itemRepo.GetActive(ctx, skip, limit)
	}
	return s.itemRepo.GetAll(ctx, skip, limit)
}

// Get は指定IDのアイテムを取得する。
// 見つからない場合はITEM_NOT_FOUNDエラーを返す。
func (s *Service) Get(ctx context.Context, itemID string) (*model.Item, error) {
	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return item, nil
}

// GetByName は名前の完全一致でアイテムを検索する。
// 見つからない場合はITEM_NOT_FOUNDエラーを返す。
func (s *Service) GetByName(ctx context.Context, name string) (*model.Item, error) {
	item, err := s.itemRepo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get item by name: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(name)
	}
	return item, nil
}

// Create はアイテムを新規作成する。
func (s *Service) Create(ctx context.Context, payload model.ItemCreate) (*model.Item, error) {
	payload.Description = s.sanitizeDescription(payload.Description)

	item, err := s.itemRepo.Create(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	slog.Info("item created",
		slog.String("item_id", item.ID),
		slog.String("name", item.Name),
	)
	return item, nil
}

// Update はアイテムを部分更新する。nilフィールドは変更しない。
// 対象が見つからない場合はITEM_NOT_FOUNDエラーを返す。
func (s *Service) Update(ctx context.Context, itemID string, payload model.ItemUpdate) (*model.Item, error) {
	payload.Description = s.sanitizeDescription(payload.Description)

	item, err := s.itemRepo.Update(ctx, itemID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return item, nil
}

// Delete は指定IDのアイテムを削除する。冪等ではなく、
// 対象が存在しない場合はITEM_NOT_FOUNDエラーを返す。
func (s *Service) Delete(ctx context.Context, itemID string) error {
	deleted, err := s.itemRepo.Delete(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if !deleted {
		return model.NewItemNotFoundError(itemID)
	}

	slog.Info("item deleted", slog.String("item_id", itemID))
	return nil
}

// sanitizeDescription は説明文からHTMLタグを除去する。nilはそのまま通す。
func (s *Service) sanitizeDescription(description *string) *string {
	if description == nil {
		return nil
	}
	sanitized := s.sanitizer.Sanitize(*description)
	return &sanitized
}
