package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
)

// nodesListFile — формат nodeslist.json:
//
//	{"data": {"<node_id>": {"hostname": "...", "policy-server": "...", "key-hash": "sha256:..."}}}
type nodesListFile struct {
	Data map[string]nodesListEntry `json:"data"`
}

type nodesListEntry struct {
	Hostname     string `json:"hostname"`
	PolicyServer string `json:"policy-server"`
	KeyHash      string `json:"key-hash"`
}

// FileRegistry — реестр узлов из nodeslist.json.
// Данные целиком в памяти, замена при Reload атомарна для читателей.
type FileRegistry struct {
	path   string
	logger *slog.Logger

	mu         sync.RWMutex
	byID       map[string]Node
	byHostname map[string]string
}

// NewFileRegistry создаёт реестр и загружает файл. Отсутствующий файл
// не ошибка: реестр пуст, пока файл не появится и не будет выполнен Reload.
// Некорректный файл — ошибка.
func NewFileRegistry(path string, logger *slog.Logger) (*FileRegistry, error) {
	r := &FileRegistry{
		path:       path,
		logger:     logger.With(slog.String("component", "nodes")),
		byID:       map[string]Node{},
		byHostname: map[string]string{},
	}

	err := r.Reload(context.Background())
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("Файл реестра узлов не найден, реестр пуст",
			slog.String("path", path),
		)
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup ищет узел по идентификатору, затем по hostname.
func (r *FileRegistry) Lookup(_ context.Context, hostnameOrID string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if node, ok := r.byID[hostnameOrID]; ok {
		return node, nil
	}
	if id, ok := r.byHostname[hostnameOrID]; ok {
		return r.byID[id], nil
	}
	return Node{}, notFound(hostnameOrID)
}

// List возвращает все узлы, упорядоченные по ID.
func (r *FileRegistry) List(_ context.Context) ([]Node, error) {
	r.mu.RLock()
	result := make([]Node, 0, len(r.byID))
	for _, node := range r.byID {
		result = append(result, node)
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b Node) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

// Reload перечитывает файл. При ошибке прежние данные сохраняются.
func (r *FileRegistry) Reload(_ context.Context) error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("чтение %s: %w", r.path, err)
	}

	byID, byHostname, err := parseNodesList(data)
	if err != nil {
		return fmt.Errorf("разбор %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.byID = byID
	r.byHostname = byHostname
	r.mu.Unlock()

	r.logger.Info("Реестр узлов загружен",
		slog.String("path", r.path),
		slog.Int("nodes", len(byID)),
	)
	return nil
}

// Count — число узлов.
func (r *FileRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func parseNodesList(data []byte) (map[string]Node, map[string]string, error) {
	var file nodesListFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, err
	}
	if file.Data == nil {
		return nil, nil, errors.New("отсутствует объект data")
	}

	byID := make(map[string]Node, len(file.Data))
	byHostname := make(map[string]string, len(file.Data))
	for id, entry := range file.Data {
		keyHash, err := ParseKeyHash(entry.KeyHash)
		if err != nil {
			return nil, nil, fmt.Errorf("узел %s: %w", id, err)
		}
		byID[id] = Node{
			ID:           id,
			Hostname:     entry.Hostname,
			PolicyServer: entry.PolicyServer,
			KeyHash:      keyHash,
		}
		// При совпадении hostname побеждает меньший ID, чтобы результат
		// не зависел от порядка обхода map.
		if prev, dup := byHostname[entry.Hostname]; entry.Hostname != "" && (!dup || id < prev) {
			byHostname[entry.Hostname] = id
		}
	}
	return byID, byHostname, nil
}
