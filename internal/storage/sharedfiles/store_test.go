package sharedfiles

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestStore(t *testing.T) (*Store, *wal.WAL) {
	t.Helper()
	w, err := wal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	s, err := New(filepath.Join(t.TempDir(), "shared-files"), w, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}
	return s, w
}

func testKey(fileID string) Key {
	return Key{
		TargetID: "c745a140-40bc-4b86-b6dc-084488fc906b",
		SourceID: "root",
		FileID:   fileID,
	}
}

func manifestWithHash(hash string) string {
	return "header=rudder-signature-v1\nalgorithm=sha256\ndigest=00\n" +
		"hash_value=" + hash + "\nshort_pubkey=k\nhostname=root\n" +
		"keydate=kd\nkeyid=id\nexpires=1700000000\n"
}

func TestNew_RequiresRoot(t *testing.T) {
	w, err := wal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	if _, err := New("", w, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка для пустого root")
	}
}

func TestWrite_PersistsManifestAndPayload(t *testing.T) {
	s, _ := newTestStore(t)
	key := testKey("file")

	if err := s.Write(key, manifestWithHash("H"), []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	manifest, err := os.ReadFile(filepath.Join(s.Root(), key.TargetID, key.SourceID, "file"+MetadataSuffix))
	if err != nil {
		t.Fatalf("манифест не записан: %v", err)
	}
	if string(manifest) != manifestWithHash("H") {
		t.Errorf("манифест отличается: %q", manifest)
	}

	payload, err := os.ReadFile(filepath.Join(s.Root(), key.TargetID, key.SourceID, "file"+ContentSuffix))
	if err != nil {
		t.Fatalf("содержимое не записано: %v", err)
	}
	if string(payload) != "payload" {
		t.Errorf("содержимое отличается: %q", payload)
	}
}

func TestWrite_OverwritesPriorRecord(t *testing.T) {
	s, _ := newTestStore(t)
	key := testKey("file")

	if err := s.Write(key, manifestWithHash("old"), []byte("old")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(key, manifestWithHash("new"), []byte("new")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if r, _ := s.Check(key, "old"); r != NotFound {
		t.Error("старый hash_value не должен находиться после замены")
	}
	if r, _ := s.Check(key, "new"); r != Found {
		t.Error("новый hash_value должен находиться")
	}
	if got := readPayload(t, s, key); got != "new" {
		t.Errorf("содержимое: хотели new, получили %q", got)
	}
}

func TestWrite_CommitsWALTransaction(t *testing.T) {
	s, w := newTestStore(t)

	if err := s.Write(testKey("file"), manifestWithHash("H"), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	pending, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("после записи не должно быть pending транзакций, получено %d", len(pending))
	}
	if n, _ := w.CleanCommitted(); n != 1 {
		t.Errorf("ожидалась 1 завершённая транзакция, получено %d", n)
	}
}

func TestWrite_InvalidKey(t *testing.T) {
	s, _ := newTestStore(t)

	for name, key := range map[string]Key{
		"empty-target":  {TargetID: "", SourceID: "s", FileID: "f"},
		"dotdot-source": {TargetID: "t", SourceID: "..", FileID: "f"},
		"slash-file":    {TargetID: "t", SourceID: "s", FileID: "a/b"},
		"backslash":     {TargetID: "t", SourceID: "s", FileID: `a\b`},
		"hidden":        {TargetID: ".t", SourceID: "s", FileID: "f"},
		"nul":           {TargetID: "t", SourceID: "s", FileID: "f\x00"},
		"too-long":      {TargetID: "t", SourceID: "s", FileID: strings.Repeat("a", maxSegmentLen+1)},
	} {
		t.Run(name, func(t *testing.T) {
			err := s.Write(key, "x", nil)
			if !errors.Is(err, model.ErrInvalidKey) {
				t.Errorf("ожидалась ErrInvalidKey, получили %v", err)
			}
			if _, err := s.Check(key, "x"); !errors.Is(err, model.ErrInvalidKey) {
				t.Errorf("Check: ожидалась ErrInvalidKey, получили %v", err)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	s, _ := newTestStore(t)
	key := testKey("file")

	if err := s.Write(key, manifestWithHash("H"), []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	tests := []struct {
		name string
		key  Key
		hash string
		want ProbeResult
	}{
		{"same-hash", key, "H", Found},
		{"other-hash", key, "H2", NotFound},
		{"empty-hash", key, "", NotFound},
		{"missing-file", testKey("missing"), "H", NotFound},
		{"missing-source", Key{TargetID: key.TargetID, SourceID: "other", FileID: "file"}, "H", NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Check(tt.key, tt.hash)
			if err != nil {
				t.Fatalf("Check: неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("Check = %s, хотели %s", got, tt.want)
			}
		})
	}
}

func TestReadManifest_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.ReadManifest(testKey("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получили %v", err)
	}
}

func TestConcurrentWrites_DistinctKeys(t *testing.T) {
	s, _ := newTestStore(t)

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := testKey(fmt.Sprintf("file-%d", i))
			payload := bytes.Repeat([]byte{byte('a' + i)}, 64*1024)
			if err := s.Write(key, manifestWithHash(fmt.Sprintf("H%d", i)), payload); err != nil {
				t.Errorf("Write %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	for i := range writers {
		key := testKey(fmt.Sprintf("file-%d", i))
		if r, err := s.Check(key, fmt.Sprintf("H%d", i)); err != nil || r != Found {
			t.Errorf("ключ %d: Check = %s, %v", i, r, err)
		}
		want := bytes.Repeat([]byte{byte('a' + i)}, 64*1024)
		if got := readPayload(t, s, key); got != string(want) {
			t.Errorf("ключ %d: содержимое повреждено", i)
		}
	}

	if n := s.locks.size(); n != 0 {
		t.Errorf("блокировки ключей не освобождены: %d", n)
	}
}

func TestConcurrentWrites_SameKey(t *testing.T) {
	s, _ := newTestStore(t)
	key := testKey("contended")

	const writers = 8
	const size = 256 * 1024

	var wg sync.WaitGroup
	stop := make(chan struct{})
	readerDone := make(chan struct{})

	// Читатель проверяет, что манифест и содержимое всегда из одной записи.
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			unlock := s.locks.rlock(key.String())
			manifest, mErr := s.readManifest(key)
			payload, pErr := os.ReadFile(s.contentPath(key))
			unlock()
			if mErr != nil || pErr != nil {
				continue
			}
			hash, _ := model.LookupField(manifest, model.FieldHashValue)
			if len(payload) != size || hash != "H"+string(payload[0]) {
				t.Errorf("рассогласованная запись: hash=%q, size=%d", hash, len(payload))
				return
			}
		}
	}()

	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fill := byte('a' + i)
			payload := bytes.Repeat([]byte{fill}, size)
			if err := s.Write(key, manifestWithHash("H"+string(fill)), payload); err != nil {
				t.Errorf("Write %d: %v", i, err)
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-readerDone

	payload := readPayload(t, s, key)
	if len(payload) != size {
		t.Fatalf("итоговое содержимое усечено: %d байт", len(payload))
	}
	if r, _ := s.Check(key, "H"+payload[:1]); r != Found {
		t.Error("итоговый манифест не соответствует итоговому содержимому")
	}
	assertNoTempFiles(t, s)
}

func TestDeleteIf(t *testing.T) {
	s, _ := newTestStore(t)
	key := testKey("file")

	if err := s.Write(key, manifestWithHash("H"), []byte("p")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deleted, err := s.DeleteIf(key, func(string) bool { return false })
	if err != nil || deleted {
		t.Fatalf("предикат false: deleted=%v, err=%v", deleted, err)
	}
	if r, _ := s.Check(key, "H"); r != Found {
		t.Fatal("запись не должна удаляться при ложном предикате")
	}

	deleted, err = s.DeleteIf(key, func(m string) bool {
		v, _ := model.LookupField(m, model.FieldHashValue)
		return v == "H"
	})
	if err != nil || !deleted {
		t.Fatalf("предикат true: deleted=%v, err=%v", deleted, err)
	}
	if r, _ := s.Check(key, "H"); r != NotFound {
		t.Error("запись должна быть удалена")
	}
	if _, err := os.Stat(s.contentPath(key)); !errors.Is(err, os.ErrNotExist) {
		t.Error("содержимое должно быть удалено вместе с манифестом")
	}

	deleted, err = s.DeleteIf(key, func(string) bool { return true })
	if err != nil || deleted {
		t.Errorf("отсутствующая запись: deleted=%v, err=%v", deleted, err)
	}
}

func TestWalk(t *testing.T) {
	s, _ := newTestStore(t)

	keys := []Key{
		testKey("a"),
		testKey("b"),
		{TargetID: "t2", SourceID: "s2", FileID: "c"},
	}
	for _, k := range keys {
		if err := s.Write(k, manifestWithHash("H"), []byte("x")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	// Посторонние файлы обход пропускает
	os.WriteFile(filepath.Join(s.Root(), "stray"), []byte("x"), 0o640)
	os.WriteFile(filepath.Join(s.dir(keys[0]), "a.metadata.123.tmp"), []byte("x"), 0o640)

	seen := map[string]bool{}
	if err := s.Walk(func(k Key) error {
		seen[k.String()] = true
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	if len(seen) != len(keys) {
		t.Errorf("ожидалось %d ключей, получено %d: %v", len(keys), len(seen), seen)
	}
	for _, k := range keys {
		if !seen[k.String()] {
			t.Errorf("ключ %s не найден обходом", k)
		}
	}

	stop := errors.New("stop")
	if err := s.Walk(func(Key) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("ошибка fn должна прерывать обход, получили %v", err)
	}
}

func TestCleanTemp(t *testing.T) {
	s, _ := newTestStore(t)
	key := testKey("file")
	if err := s.Write(key, manifestWithHash("H"), []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	stale := filepath.Join(s.dir(key), "file.content.stale.tmp")
	fresh := filepath.Join(s.dir(key), "file.content.fresh.tmp")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("partial"), 0o640); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	removed, err := s.CleanTemp(time.Hour)
	if err != nil {
		t.Fatalf("CleanTemp: %v", err)
	}
	if removed != 1 {
		t.Errorf("ожидался 1 удалённый файл, получено %d", removed)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("устаревший temp файл должен быть удалён")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("свежий temp файл должен остаться")
	}
	if r, _ := s.Check(key, "H"); r != Found {
		t.Error("запись не должна пострадать")
	}
}

func TestRecover_RemovesInterruptedRecord(t *testing.T) {
	s, w := newTestStore(t)
	key := testKey("interrupted")
	intact := testKey("intact")

	for _, k := range []Key{key, intact} {
		if err := s.Write(k, manifestWithHash("H"), []byte("x")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	// Имитируем сбой посреди записи: pending транзакция без коммита.
	tx, err := w.StartTransaction(wal.OpSharedFileWrite, key.String())
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if _, err := w.StartTransaction(wal.OpSharedFileWrite, "broken-key"); err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}

	recovered, err := s.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != 2 {
		t.Errorf("ожидалось 2 обработанных транзакции, получено %d", recovered)
	}

	if r, _ := s.Check(key, "H"); r != NotFound {
		t.Error("запись прерванной операции должна быть удалена")
	}
	if r, _ := s.Check(intact, "H"); r != Found {
		t.Error("другие записи не должны пострадать")
	}

	entry, err := w.GetTransaction(tx.TransactionID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if entry.Status != wal.StatusRolledBack {
		t.Errorf("транзакция должна быть откачена, статус %s", entry.Status)
	}
	if pending, _ := w.RecoverPending(); len(pending) != 0 {
		t.Errorf("pending транзакций не должно остаться: %d", len(pending))
	}
}

func TestKeyFromString(t *testing.T) {
	key := testKey("file")

	got, err := KeyFromString(key.String())
	if err != nil {
		t.Fatalf("KeyFromString: %v", err)
	}
	if got != key {
		t.Errorf("KeyFromString(%q) = %+v", key.String(), got)
	}

	for _, s := range []string{"", "a/b", "a/b/c/d", "a//c", "../b/c"} {
		if _, err := KeyFromString(s); !errors.Is(err, model.ErrInvalidKey) {
			t.Errorf("KeyFromString(%q): ожидалась ErrInvalidKey, получили %v", s, err)
		}
	}
}

func readPayload(t *testing.T, s *Store, key Key) string {
	t.Helper()
	data, err := os.ReadFile(s.contentPath(key))
	if err != nil {
		t.Fatalf("чтение содержимого %s: %v", key, err)
	}
	return string(data)
}

func assertNoTempFiles(t *testing.T, s *Store) {
	t.Helper()
	n, err := s.CleanTemp(0)
	if err != nil {
		t.Fatalf("CleanTemp: %v", err)
	}
	if n != 0 {
		t.Errorf("остались временные файлы: %d", n)
	}
}
