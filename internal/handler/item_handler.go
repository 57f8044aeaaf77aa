package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/veloapp/velo-backend/internal/model"
)

// maxItemNameLength はitems.nameカラムのVARCHAR(255)に合わせた上限（文字数）。
const maxItemNameLength = 255

// ItemServiceInterface はアイテムハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	List(ctx context.Context, skip, limit int, activeOnly bool) ([]*model.Item, error)
	Get(ctx context.Context, itemID string) (*model.Item, error)
	GetByName(ctx context.Context, name string) (*model.Item, error)
	Create(ctx context.Context, payload model.ItemCreate) (*model.Item, error)
	Update(ctx context.Context, itemID string, payload model.ItemUpdate) (*model.Item, error)
	Delete(ctx context.Context, itemID string) error
}

// ItemHandler はアイテム管理のHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

// --- リクエスト・レスポンス型 ---

// itemCreateRequest はアイテム作成リクエストのボディ。
type itemCreateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// itemUpdateRequest はアイテム部分更新リクエストのボディ。
// 省略されたフィールドは変更しない。
type itemUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// itemResponse はアイテムのJSON表現。
type itemResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toItemResponse(item *model.Item) itemResponse {
	return itemResponse{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		IsActive:    item.IsActive,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func toItemResponses(items []*model.Item) []itemResponse {
	results := make([]itemResponse, len(items))
	for i, item := range items {
		results[i] = toItemResponse(item)
	}
	return results
}

// ListItems はアイテム一覧を取得する。
// GET /api/items?skip=0&limit=100&active_only=false
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := parsePagination(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	activeOnly := false
	if v := r.URL.Query().Get("active_only"); v != "" {
		activeOnly, err = strconv.ParseBool(v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidQueryError("active_only must be a boolean"))
			return
		}
	}

	items, err := h.service.List(r.Context(), skip, limit, activeOnly)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponses(items))
}

// GetItem はアイテム詳細を取得する。
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	item, err := h.service.Get(r.Context(), itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// GetItemByName は名前の完全一致でアイテムを取得する。
// GET /api/items/name/{name}
func (h *ItemHandler) GetItemByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	item, err := h.service.GetByName(r.Context(), name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// CreateItem はアイテムを新規作成する。
// POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("failed to parse request body"))
		return
	}
	if req.Name == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("name is required"))
		return
	}
	if utf8.RuneCountInString(req.Name) > maxItemNameLength {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("name must be 255 characters or fewer"))
		return
	}

	// is_active省略時はtrue
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	item, err := h.service.Create(r.Context(), model.ItemCreate{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    isActive,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

// UpdateItem はアイテムを部分更新する。
// PATCH /api/items/{id}
func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	var req itemUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("failed to parse request body"))
		return
	}
	if req.Name != nil && *req.Name == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("name must not be empty"))
		return
	}
	if req.Name != nil && utf8.RuneCountInString(*req.Name) > maxItemNameLength {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("name must be 255 characters or fewer"))
		return
	}

	item, err := h.service.Update(r.Context(), itemID, model.ItemUpdate{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// DeleteItem はアイテムを削除する。
// DELETE /api/items/{id}
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), itemID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
