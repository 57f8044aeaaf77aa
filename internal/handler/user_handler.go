package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/veloapp/velo-backend/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context, skip, limit int) ([]*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	Create(ctx context.Context, payload model.UserCreate) (*model.User, error)
	Update(ctx context.Context, userID string, payload model.UserUpdate) (*model.User, error)
	Delete(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// --- リクエスト・レスポンス型 ---

// userCreateRequest はユーザー作成リクエストのボディ。
type userCreateRequest struct {
	AuthProvider string   `json:"auth_provider"`
	AuthSubject  string   `json:"auth_subject"`
	Email        string   `json:"email"`
	DisplayName  *string  `json:"display_name,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	ActiveMode   string   `json:"active_mode,omitempty"`
}

// userUpdateRequest はユーザー部分更新リクエストのボディ。
// 省略されたフィールドは変更しない。
type userUpdateRequest struct {
	DisplayName *string   `json:"display_name,omitempty"`
	Roles       *[]string `json:"roles,omitempty"`
	ActiveMode  *string   `json:"active_mode,omitempty"`
}

// userDetailResponse は管理APIで返すユーザーのJSON表現。
type userDetailResponse struct {
	ID           string    `json:"id"`
	AuthProvider string    `json:"auth_provider"`
	AuthSubject  string    `json:"auth_subject"`
	Email        string    `json:"email"`
	DisplayName  *string   `json:"display_name"`
	Roles        []string  `json:"roles"`
	ActiveMode   string    `json:"active_mode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toUserDetailResponse(u *model.User) userDetailResponse {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return userDetailResponse{
		ID:           u.ID,
		AuthProvider: u.AuthProvider,
		AuthSubject:  u.AuthSubject,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Roles:        roles,
		ActiveMode:   string(u.ActiveMode),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// ListUsers はユーザー一覧を取得する。
// GET /api/users?skip=0&limit=100
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := parsePagination(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	users, err := h.service.List(r.Context(), skip, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]userDetailResponse, len(users))
	for i, u := range users {
		results[i] = toUserDetailResponse(u)
	}
	writeJSON(w, http.StatusOK, results)
}

// GetUser はユーザー詳細を取得する。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	user, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserDetailResponse(user))
}

// CreateUser はユーザーを明示的に作成する。
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("failed to parse request body"))
		return
	}
	if req.AuthProvider == "" || req.AuthSubject == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("auth_provider and auth_subject are required"))
		return
	}
	if req.Email == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("email is required"))
		return
	}

	user, err := h.service.Create(r.Context(), model.UserCreate{
		AuthProvider: req.AuthProvider,
		AuthSubject:  req.AuthSubject,
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Roles:        req.Roles,
		ActiveMode:   model.UserMode(req.ActiveMode),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserDetailResponse(user))
}

// UpdateUser はユーザーを部分更新する。
// PATCH /api/users/{id}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req userUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError("failed to parse request body"))
		return
	}

	var mode *model.UserMode
	if req.ActiveMode != nil {
		m := model.UserMode(*req.ActiveMode)
		mode = &m
	}

	user, err := h.service.Update(r.Context(), userID, model.UserUpdate{
		DisplayName: req.DisplayName,
		Roles:       req.Roles,
		ActiveMode:  mode,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserDetailResponse(user))
}

// DeleteUser はユーザーを削除する。
// DELETE /api/users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
