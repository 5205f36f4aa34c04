// sharedfiles.go — PUT и HEAD /rudder/relay-api/shared-files/{target_uuid}/{source_uuid}/{file_id}.
package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/relayd/internal/api/errors"
	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/service"
	"github.com/bigkaa/relayd/internal/storage/sharedfiles"
)

// FieldContent — поле формы с содержимым файла в base64.
const FieldContent = "content"

// formOverhead — запас на поля манифеста сверх закодированного содержимого.
const formOverhead = 64 << 10

// SharedFilesHandler — обработчик shared-files endpoints.
type SharedFilesHandler struct {
	svc *service.SharedFilesService
	// maxFileSize — максимальный размер декодированного содержимого
	maxFileSize int64
}

// NewSharedFilesHandler создаёт обработчик shared-files.
func NewSharedFilesHandler(svc *service.SharedFilesService, maxFileSize int64) *SharedFilesHandler {
	return &SharedFilesHandler{svc: svc, maxFileSize: maxFileSize}
}

// PutSharedFile обрабатывает PUT. Тело — форма с полями манифеста и content.
// Успех — 201 без тела.
func (h *SharedFilesHandler) PutSharedFile(w http.ResponseWriter, r *http.Request) {
	key, err := bindKey(r)
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit())
	if err := r.ParseForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", maxErr.Limit))
			return
		}
		apierrors.ValidationError(w, "Некорректное тело формы: "+err.Error())
		return
	}

	fields := formValues(r)
	payload, err := decodeContent(fields[FieldContent], r.PostForm.Has(FieldContent))
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	if int64(len(payload)) > h.maxFileSize {
		apierrors.FileTooLarge(w, fmt.Sprintf("Размер содержимого превышает %d байт", h.maxFileSize))
		return
	}
	delete(fields, FieldContent)

	if err := h.svc.Put(r.Context(), key, fields, payload); err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// HeadSharedFile обрабатывает HEAD ?hash=. 200 — содержимое с этим
// hash_value хранится, 404 — нет. Тела ответа нет.
func (h *SharedFilesHandler) HeadSharedFile(w http.ResponseWriter, r *http.Request) {
	key, err := bindKey(r)
	if err != nil {
		status, _ := apierrors.FromError(err)
		w.WriteHeader(status)
		return
	}

	var hash string
	if err := runtime.BindQueryParameter("form", true, true, "hash", r.URL.Query(), &hash); err != nil || hash == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := h.svc.Head(key, hash)
	if err != nil {
		status, _ := apierrors.FromError(err)
		w.WriteHeader(status)
		return
	}
	if result == sharedfiles.Found {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// bodyLimit — лимит тела формы: base64 увеличивает размер на треть.
func (h *SharedFilesHandler) bodyLimit() int64 {
	return (h.maxFileSize+2)/3*4 + formOverhead
}

func bindKey(r *http.Request) (sharedfiles.Key, error) {
	var targetID, sourceID, fileID string
	for _, p := range []struct {
		name string
		dest *string
	}{
		{"target_uuid", &targetID},
		{"source_uuid", &sourceID},
		{"file_id", &fileID},
	} {
		if err := bindPathParam(r, p.name, p.dest); err != nil {
			return sharedfiles.Key{}, fmt.Errorf("%w: %w", model.ErrInvalidKey, err)
		}
	}
	return sharedfiles.ParseKey(targetID, sourceID, fileID)
}

func decodeContent(raw string, present bool) ([]byte, error) {
	if !present {
		return nil, &model.FieldError{Field: FieldContent}
	}
	// Пустое значение — файл нулевой длины.
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &model.FieldError{Field: FieldContent, Err: err}
	}
	return payload, nil
}
