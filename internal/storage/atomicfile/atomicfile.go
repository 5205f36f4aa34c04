// Пакет atomicfile — атомарная запись файлов: читатель видит либо
// прежнее содержимое, либо новое целиком, но никогда не частичное.
// Паттерн: temp файл в той же директории → запись → fsync → rename.
package atomicfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// TempSuffix — суффикс временных файлов. Оставшиеся после сбоя
// temp файлы удаляет GC.
const TempSuffix = ".tmp"

// TempName возвращает уникальное имя temp файла рядом с path.
// UUID в имени разводит параллельных писателей одного path.
func TempName(path string) string {
	return path + "." + uuid.New().String() + TempSuffix
}

// IsTemp проверяет, является ли имя временным файлом.
func IsTemp(name string) bool {
	return strings.HasSuffix(name, TempSuffix)
}

// WriteFile атомарно записывает data в path.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	_, err := WriteFrom(path, bytes.NewReader(data), perm)
	return err
}

// WriteFrom атомарно записывает содержимое reader в path и возвращает
// число записанных байт. При ошибке temp файл удаляется, path не меняется.
func WriteFrom(path string, r io.Reader, perm os.FileMode) (int64, error) {
	tmpPath := TempName(path)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}
