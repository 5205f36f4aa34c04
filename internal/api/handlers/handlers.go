// Пакет handlers — HTTP-обработчики relayd.
// Параметры пути и запроса связываются через oapi-codegen runtime
// по правилам стилей OpenAPI (simple для пути, form для запроса).
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/relayd/internal/api/errors"
)

// writeJSON записывает тело ответа в JSON.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// bindPathParam связывает обязательный параметр пути name с dest.
func bindPathParam(r *http.Request, name string, dest any) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		return fmt.Errorf("некорректный параметр %s: %w", name, err)
	}
	return nil
}

// formValues возвращает поля формы тела запроса, присутствующие в запросе.
// Повторяющееся поле — первое значение.
func formValues(r *http.Request) map[string]string {
	result := make(map[string]string, len(r.PostForm))
	for name, values := range r.PostForm {
		if len(values) > 0 {
			result[name] = values[0]
		}
	}
	return result
}

// parseForm разбирает тело формы. Ошибка разбора — 400, ответ уже записан.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		apierrors.ValidationError(w, "Некорректное тело формы: "+err.Error())
		return false
	}
	return true
}
