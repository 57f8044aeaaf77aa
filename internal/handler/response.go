// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/veloapp/velo-backend/internal/model"
)

// apiErrorResponse はAPIエラーレスポンスのJSON表現。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeAuthUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeItemNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidPayload, model.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ページネーションのデフォルト値と上限。
const (
	defaultPageLimit = 100
	maxPageLimit     = 100
)

// parsePagination はクエリパラメータからskip/limitを読み取り検証する。
// skipは0以上、limitは1以上maxPageLimit以下でなければならない。
// 未指定の場合はskip=0、limit=defaultPageLimitを使う。
func parsePagination(r *http.Request) (skip, limit int, err error) {
	skip = 0
	limit = defaultPageLimit

	if v := r.URL.Query().Get("skip"); v != "" {
		skip, err = strconv.Atoi(v)
		if err != nil || skip < 0 {
			return 0, 0, model.NewInvalidQueryError("skip must be a non-negative integer")
		}
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageLimit {
			return 0, 0, model.NewInvalidQueryError("limit must be an integer between 1 and 100")
		}
	}

	return skip, limit, nil
}
