package sharedfiles

import (
	"fmt"
	"strings"

	"github.com/bigkaa/relayd/internal/domain/model"
)

// maxSegmentLen — ограничение длины имени в большинстве файловых систем
// за вычетом суффиксов записи.
const maxSegmentLen = 200

// Key — адрес записи {target_id}/{source_id}/{file_id}.
type Key struct {
	TargetID string
	SourceID string
	FileID   string
}

// ParseKey собирает ключ из сегментов пути и проверяет их.
func ParseKey(targetID, sourceID, fileID string) (Key, error) {
	k := Key{TargetID: targetID, SourceID: sourceID, FileID: fileID}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate проверяет, что каждый сегмент безопасен как имя файла:
// непустой, без разделителей пути и управляющих символов, не "." и "..",
// не начинается с точки.
func (k Key) Validate() error {
	for _, seg := range []struct{ name, value string }{
		{"target_id", k.TargetID},
		{"source_id", k.SourceID},
		{"file_id", k.FileID},
	} {
		if err := validateSegment(seg.value); err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrInvalidKey, seg.name, err)
		}
	}
	return nil
}

// String возвращает ключ в виде target/source/file.
func (k Key) String() string {
	return k.TargetID + "/" + k.SourceID + "/" + k.FileID
}

// KeyFromString разбирает строку, полученную из Key.String.
func KeyFromString(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: ожидалось 3 сегмента, получено %d", model.ErrInvalidKey, len(parts))
	}
	return ParseKey(parts[0], parts[1], parts[2])
}

func validateSegment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("пустой сегмент")
	case len(s) > maxSegmentLen:
		return fmt.Errorf("длина %d превышает %d", len(s), maxSegmentLen)
	case strings.HasPrefix(s, "."):
		return fmt.Errorf("сегмент %q начинается с точки", s)
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return fmt.Errorf("недопустимый символ %q", r)
		}
	}
	return nil
}
