// Пакет trust — проверка доверия к загружаемым файлам: отпечаток
// закреплённого публичного ключа узла и RSA-подпись содержимого.
// Все функции чистые и безопасны для параллельного вызова.
package trust

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/bigkaa/relayd/internal/domain/model"
)

// HashAlgorithm — алгоритм хэширования подписи и отпечатка ключа.
type HashAlgorithm int

const (
	Sha256 HashAlgorithm = iota + 1
	Sha512
)

// ParseHashAlgorithm разбирает токен алгоритма в нижнем регистре.
func ParseHashAlgorithm(token string) (HashAlgorithm, error) {
	switch token {
	case "sha256":
		return Sha256, nil
	case "sha512":
		return Sha512, nil
	default:
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidHashType, token)
	}
}

// String возвращает токен алгоритма ("sha256", "sha512").
func (a HashAlgorithm) String() string {
	switch a {
	case Sha256:
		return "sha256"
	case Sha512:
		return "sha512"
	default:
		return fmt.Sprintf("HashAlgorithm(%d)", int(a))
	}
}

// Digest возвращает хэш data в нижнем регистре hex:
// 64 символа для Sha256, 128 для Sha512.
// Неизвестное значение алгоритма даёт пустую строку.
func (a HashAlgorithm) Digest(data []byte) string {
	switch a {
	case Sha256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	case Sha512:
		sum := sha512.Sum512(data)
		return hex.EncodeToString(sum[:])
	default:
		return ""
	}
}

// DigestKind — идентификатор хэш-функции для проверки подписи.
func (a HashAlgorithm) DigestKind() crypto.Hash {
	switch a {
	case Sha256:
		return crypto.SHA256
	case Sha512:
		return crypto.SHA512
	default:
		return 0
	}
}
