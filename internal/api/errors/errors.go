// Пакет errors — ответы с ошибками в едином формате relayd
// и сопоставление ошибок ядра со статусами HTTP.
// Формат тела: {"error": {"code": "...", "message": "..."}}.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bigkaa/relayd/internal/domain/model"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeInvalidHashType      = "INVALID_HASH_TYPE"
	CodeInvalidTTL           = "INVALID_TTL"
	CodeInvalidCondition     = "INVALID_CONDITION"
	CodeMissingTargetNodes   = "MISSING_TARGET_NODES"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeNodeNotFound         = "NODE_NOT_FOUND"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromError сопоставляет ошибку ядра со статусом HTTP и кодом.
// Неизвестные ошибки, ErrKey, ErrVerify и ErrIO — 500.
func FromError(err error) (status int, code string) {
	var fieldErr *model.FieldError
	switch {
	case errors.Is(err, model.ErrAuthentication):
		return http.StatusUnauthorized, CodeAuthenticationFailed
	case errors.Is(err, model.ErrInvalidHashType):
		return http.StatusBadRequest, CodeInvalidHashType
	case errors.Is(err, model.ErrInvalidTTL):
		return http.StatusBadRequest, CodeInvalidTTL
	case errors.Is(err, model.ErrInvalidCondition):
		return http.StatusBadRequest, CodeInvalidCondition
	case errors.Is(err, model.ErrNoTargetNodes):
		return http.StatusBadRequest, CodeMissingTargetNodes
	case errors.Is(err, model.ErrInvalidKey), errors.As(err, &fieldErr):
		// FieldError проверяется до ErrKey: некорректный short_pubkey — ошибка клиента
		return http.StatusBadRequest, CodeValidationError
	case errors.Is(err, model.ErrNodeNotFound):
		return http.StatusNotFound, CodeNodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// WriteFromError записывает ответ для ошибки ядра. Текст внутренних
// ошибок не раскрывается клиенту.
func WriteFromError(w http.ResponseWriter, err error) {
	status, code := FromError(err)
	if status == http.StatusInternalServerError {
		InternalError(w, "Внутренняя ошибка сервера")
		return
	}
	WriteError(w, status, code, err.Error())
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooLarge — 413 тело запроса превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
