// Пакет sharedfiles — хранилище shared-файлов relay на диске.
//
// Запись с ключом {target_id}/{source_id}/{file_id} — два файла-соседа:
//
//	{root}/{target_id}/{source_id}/{file_id}.metadata — отрисованный манифест
//	{root}/{target_id}/{source_id}/{file_id}.content  — исходное содержимое
//
// Каждый файл пишется атомарно (temp → fsync → rename), пара файлов
// пишется под эксклюзивной блокировкой ключа внутри WAL-транзакции.
// Кэша манифестов нет: каждая проверка читает диск.
package sharedfiles

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/storage/atomicfile"
	"github.com/bigkaa/relayd/internal/storage/wal"
)

// Суффиксы файлов записи.
const (
	MetadataSuffix = ".metadata"
	ContentSuffix  = ".content"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// ErrNotFound — запись отсутствует.
var ErrNotFound = errors.New("запись не найдена")

// ProbeResult — результат проверки наличия содержимого.
type ProbeResult int

const (
	NotFound ProbeResult = iota
	Found
)

func (r ProbeResult) String() string {
	if r == Found {
		return "found"
	}
	return "not_found"
}

// Store — хранилище shared-файлов.
type Store struct {
	// root — корневая директория (RELAY_SHARED_FILES_DIR)
	root   string
	wal    *wal.WAL
	locks  *keyLocks
	logger *slog.Logger
}

// New создаёт хранилище в root. Директория создаётся при необходимости.
func New(root string, w *wal.WAL, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("не задана корневая директория shared-файлов")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", root, err)
	}

	return &Store{
		root:   root,
		wal:    w,
		locks:  newKeyLocks(),
		logger: logger.With(slog.String("component", "sharedfiles")),
	}, nil
}

// Root возвращает корневую директорию хранилища.
func (s *Store) Root() string {
	return s.root
}

// Write сохраняет манифест и содержимое под ключом key, заменяя прежнюю запись.
//
// Содержимое пишется первым, манифест последним: наличие манифеста
// означает, что запись полная. Если содержимое уже заменено, а манифест
// записать не удалось, запись удаляется целиком.
func (s *Store) Write(key Key, manifest string, payload []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}

	unlock := s.locks.lock(key.String())
	defer unlock()

	dir := s.dir(key)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return ioError("создание директории", dir, err)
	}

	tx, err := s.wal.StartTransaction(wal.OpSharedFileWrite, key.String())
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrIO, err)
	}

	if err := s.writePair(key, manifest, payload); err != nil {
		s.rollback(tx.TransactionID, key)
		return err
	}

	if err := s.wal.Commit(tx.TransactionID); err != nil {
		return fmt.Errorf("%w: %w", model.ErrIO, err)
	}

	s.logger.Debug("Запись сохранена",
		slog.String("key", key.String()),
		slog.Int("payload_size", len(payload)),
	)
	return nil
}

func (s *Store) writePair(key Key, manifest string, payload []byte) error {
	contentPath := s.contentPath(key)
	if err := atomicfile.WriteFile(contentPath, payload, filePerm); err != nil {
		return ioError("запись содержимого", contentPath, err)
	}

	metadataPath := s.metadataPath(key)
	if err := atomicfile.WriteFile(metadataPath, []byte(manifest), filePerm); err != nil {
		// Содержимое уже новое, манифест старый: пара рассогласована.
		if rmErr := s.removeRecord(key); rmErr != nil {
			s.logger.Error("Не удалось удалить рассогласованную запись",
				slog.String("key", key.String()),
				slog.String("error", rmErr.Error()),
			)
		}
		return ioError("запись манифеста", metadataPath, err)
	}
	return nil
}

func (s *Store) rollback(txID string, key Key) {
	if err := s.wal.Rollback(txID); err != nil {
		s.logger.Warn("Не удалось откатить WAL-транзакцию",
			slog.String("tx_id", txID),
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Check сообщает, хранится ли под key запись с hash_value == expectedHash.
// Отсутствие записи — NotFound без ошибки.
func (s *Store) Check(key Key, expectedHash string) (ProbeResult, error) {
	text, err := s.ReadManifest(key)
	if errors.Is(err, ErrNotFound) {
		return NotFound, nil
	}
	if err != nil {
		return NotFound, err
	}

	value, ok := model.LookupField(text, model.FieldHashValue)
	if ok && value == expectedHash {
		return Found, nil
	}
	return NotFound, nil
}

// ReadManifest читает текст сохранённого манифеста.
func (s *Store) ReadManifest(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}

	unlock := s.locks.rlock(key.String())
	defer unlock()

	return s.readManifest(key)
}

func (s *Store) readManifest(key Key) (string, error) {
	path := s.metadataPath(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", ioError("чтение манифеста", path, err)
	}
	return string(data), nil
}

// DeleteIf удаляет запись, если pred возвращает true для текста её манифеста.
// Проверка и удаление выполняются под одной блокировкой ключа, поэтому
// запись, заменённая параллельной загрузкой, не удаляется по старому манифесту.
// Отсутствующая запись — (false, nil).
func (s *Store) DeleteIf(key Key, pred func(manifest string) bool) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	unlock := s.locks.lock(key.String())
	defer unlock()

	text, err := s.readManifest(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !pred(text) {
		return false, nil
	}

	tx, err := s.wal.StartTransaction(wal.OpSharedFileDelete, key.String())
	if err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	if err := s.removeRecord(key); err != nil {
		s.rollback(tx.TransactionID, key)
		return false, err
	}
	if err := s.wal.Commit(tx.TransactionID); err != nil {
		return true, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	return true, nil
}

// Walk вызывает fn для ключа каждой записи, у которой есть манифест.
// Ошибка fn прерывает обход.
func (s *Store) Walk(fn func(key Key) error) error {
	return s.walkFiles(func(dir, name string, _ os.DirEntry) error {
		if !strings.HasSuffix(name, MetadataSuffix) {
			return nil
		}
		key, err := s.keyFromDir(dir, strings.TrimSuffix(name, MetadataSuffix))
		if err != nil {
			return nil
		}
		return fn(key)
	})
}

// CleanTemp удаляет временные файлы старше olderThan, оставшиеся
// после прерванных записей. Возвращает число удалённых файлов.
func (s *Store) CleanTemp(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	err := s.walkFiles(func(dir, name string, entry os.DirEntry) error {
		if !atomicfile.IsTemp(name) {
			return nil
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Не удалось удалить временный файл",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		removed++
		return nil
	})
	return removed, err
}

// Recover откатывает незавершённые WAL-транзакции хранилища: запись
// прерванной операции может быть рассогласована и удаляется целиком.
// Вызывается при старте до приёма запросов. Возвращает число
// обработанных транзакций.
func (s *Store) Recover() (int, error) {
	pending, err := s.wal.RecoverPending()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, entry := range pending {
		if entry.Operation != wal.OpSharedFileWrite && entry.Operation != wal.OpSharedFileDelete {
			continue
		}

		key, err := KeyFromString(entry.Key)
		if err != nil {
			s.logger.Warn("Некорректный ключ в WAL-записи",
				slog.String("tx_id", entry.TransactionID),
				slog.String("key", entry.Key),
			)
		} else if err := s.removeRecord(key); err != nil {
			s.logger.Error("Не удалось удалить запись прерванной операции",
				slog.String("key", entry.Key),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.rollback(entry.TransactionID, key)
		recovered++
		s.logger.Info("Прерванная операция откачена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("key", entry.Key),
		)
	}
	return recovered, nil
}

// removeRecord удаляет оба файла записи. Манифест удаляется первым,
// чтобы проверка наличия перестала находить запись раньше, чем исчезнет содержимое.
func (s *Store) removeRecord(key Key) error {
	for _, path := range []string{s.metadataPath(key), s.contentPath(key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return ioError("удаление", path, err)
		}
	}
	return nil
}

// walkFiles обходит файлы на глубине {target}/{source}/*.
func (s *Store) walkFiles(fn func(dir, name string, entry os.DirEntry) error) error {
	targets, err := os.ReadDir(s.root)
	if err != nil {
		return ioError("чтение директории", s.root, err)
	}

	for _, target := range targets {
		if !target.IsDir() {
			continue
		}
		targetDir := filepath.Join(s.root, target.Name())
		sources, err := os.ReadDir(targetDir)
		if err != nil {
			continue
		}

		for _, source := range sources {
			if !source.IsDir() {
				continue
			}
			sourceDir := filepath.Join(targetDir, source.Name())
			files, err := os.ReadDir(sourceDir)
			if err != nil {
				continue
			}

			for _, f := range files {
				if f.IsDir() {
					continue
				}
				if err := fn(sourceDir, f.Name(), f); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Store) keyFromDir(sourceDir, fileID string) (Key, error) {
	targetDir := filepath.Dir(sourceDir)
	return ParseKey(filepath.Base(targetDir), filepath.Base(sourceDir), fileID)
}

func (s *Store) dir(key Key) string {
	return filepath.Join(s.root, key.TargetID, key.SourceID)
}

func (s *Store) metadataPath(key Key) string {
	return filepath.Join(s.dir(key), key.FileID+MetadataSuffix)
}

func (s *Store) contentPath(key Key) string {
	return filepath.Join(s.dir(key), key.FileID+ContentSuffix)
}

func ioError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", model.ErrIO, op, path, err)
}
