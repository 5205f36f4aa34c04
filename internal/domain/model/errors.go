package model

import (
	"errors"
	"fmt"
)

// Классы ошибок ядра relay. Конкретные ошибки оборачивают их через %w,
// HTTP-слой сопоставляет класс со статусом (см. api/errors.FromError).
var (
	// ErrInvalidHashType — неизвестный алгоритм хэширования.
	ErrInvalidHashType = errors.New("недопустимый тип хэша")
	// ErrInvalidTTL — некорректное выражение срока жизни.
	ErrInvalidTTL = errors.New("недопустимое выражение TTL")
	// ErrKey — некорректный материал публичного ключа.
	ErrKey = errors.New("некорректный публичный ключ")
	// ErrVerify — механизм проверки подписи не смог выполниться.
	ErrVerify = errors.New("ошибка механизма проверки подписи")
	// ErrAuthentication — проверка отпечатка или подписи выполнена и отклонила запрос.
	ErrAuthentication = errors.New("ошибка аутентификации")
	// ErrIO — ошибка файловой системы.
	ErrIO = errors.New("ошибка ввода-вывода")
	// ErrInvalidKey — небезопасный или пустой сегмент ключа хранилища.
	ErrInvalidKey = errors.New("некорректный ключ записи")
	// ErrNodeNotFound — узел отсутствует в реестре.
	ErrNodeNotFound = errors.New("узел не найден")
	// ErrInvalidCondition — недопустимое условие (class) для remote run.
	ErrInvalidCondition = errors.New("недопустимое условие")
	// ErrNoTargetNodes — remote run без целевых узлов.
	ErrNoTargetNodes = errors.New("не указаны целевые узлы")
)

// FieldError — отсутствующее или некорректное поле манифеста.
type FieldError struct {
	// Field — имя поля манифеста
	Field string
	// Err — первопричина (опционально)
	Err error
}

func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("поле %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("поле %q отсутствует", e.Field)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// TTLError — ошибка разбора выражения TTL.
// Всегда совместима с ErrInvalidTTL; при переполнении дополнительно
// оборачивает strconv.ErrRange.
type TTLError struct {
	Expr string
	Err  error
}

func (e *TTLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %q: %v", ErrInvalidTTL, e.Expr, e.Err)
	}
	return fmt.Sprintf("%v %q", ErrInvalidTTL, e.Expr)
}

func (e *TTLError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidTTL, e.Err}
	}
	return []error{ErrInvalidTTL}
}
