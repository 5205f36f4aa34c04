// Пакет nodes — реестр узлов с закреплёнными отпечатками публичных ключей.
//
// Реестр отвечает на вопрос «какому ключу доверять для узла X»:
// загрузка shared-файла принимается только если ключ из манифеста
// совпадает с закреплённым отпечатком узла-источника.
package nodes

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/trust"
)

// Node — запись реестра.
type Node struct {
	ID       string
	Hostname string
	// PolicyServer — идентификатор relay, к которому подключён узел
	PolicyServer string
	// KeyHash — закреплённый отпечаток ключа; нулевое значение — ключ не закреплён
	KeyHash KeyHash
}

// KeyHash — отпечаток ключа в формате <algorithm>:<hex>.
type KeyHash struct {
	Algorithm trust.HashAlgorithm
	Value     string
}

// ParseKeyHash разбирает строку вида "sha256:<hex>". Hex-часть
// приводится к нижнему регистру. Пустая строка — нулевой KeyHash.
func ParseKeyHash(s string) (KeyHash, error) {
	if s == "" {
		return KeyHash{}, nil
	}

	algToken, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return KeyHash{}, fmt.Errorf("%w: отпечаток %q не в формате <algorithm>:<hex>", model.ErrKey, s)
	}

	alg, err := trust.ParseHashAlgorithm(algToken)
	if err != nil {
		return KeyHash{}, err
	}

	value = strings.ToLower(value)
	if _, err := hex.DecodeString(value); err != nil {
		return KeyHash{}, fmt.Errorf("%w: отпечаток %q: %w", model.ErrKey, s, err)
	}
	if len(value) != alg.DigestKind().Size()*2 {
		return KeyHash{}, fmt.Errorf("%w: отпечаток %q: неверная длина для %s", model.ErrKey, s, alg)
	}

	return KeyHash{Algorithm: alg, Value: value}, nil
}

// IsZero сообщает, что ключ не закреплён.
func (h KeyHash) IsZero() bool {
	return h.Value == ""
}

func (h KeyHash) String() string {
	if h.IsZero() {
		return ""
	}
	return h.Algorithm.String() + ":" + h.Value
}

// Registry — источник закреплённых ключей узлов.
type Registry interface {
	// Lookup ищет узел по идентификатору, затем по hostname.
	// Отсутствующий узел — ошибка, оборачивающая model.ErrNodeNotFound.
	Lookup(ctx context.Context, hostnameOrID string) (Node, error)
	// List возвращает все узлы, упорядоченные по ID.
	List(ctx context.Context) ([]Node, error)
	// Reload перечитывает источник. При ошибке прежние данные сохраняются.
	Reload(ctx context.Context) error
	// Count — число узлов после последней успешной загрузки.
	Count() int
}

func notFound(hostnameOrID string) error {
	return fmt.Errorf("%w: %s", model.ErrNodeNotFound, hostnameOrID)
}
