package service

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/storage/nodes"
	"github.com/bigkaa/relayd/internal/storage/sharedfiles"
	"github.com/bigkaa/relayd/internal/storage/wal"
	"github.com/bigkaa/relayd/internal/trust"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memRegistry — реестр узлов в памяти для тестов.
type memRegistry struct {
	mu    sync.RWMutex
	nodes map[string]nodes.Node
}

func newMemRegistry(list ...nodes.Node) *memRegistry {
	r := &memRegistry{nodes: map[string]nodes.Node{}}
	for _, n := range list {
		r.nodes[n.ID] = n
	}
	return r
}

func (r *memRegistry) Lookup(_ context.Context, hostnameOrID string) (nodes.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n, ok := r.nodes[hostnameOrID]; ok {
		return n, nil
	}
	for _, n := range r.nodes {
		if n.Hostname == hostnameOrID {
			return n, nil
		}
	}
	return nodes.Node{}, model.ErrNodeNotFound
}

func (r *memRegistry) List(_ context.Context) ([]nodes.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]nodes.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		list = append(list, n)
	}
	slices.SortFunc(list, func(a, b nodes.Node) int { return strings.Compare(a.ID, b.ID) })
	return list, nil
}

func (r *memRegistry) Reload(context.Context) error { return nil }

func (r *memRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// newTestStore создаёт хранилище shared-файлов во временной директории.
func newTestStore(t *testing.T) (*sharedfiles.Store, *wal.WAL) {
	t.Helper()
	w, err := wal.New(filepath.Join(t.TempDir(), "wal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	s, err := sharedfiles.New(filepath.Join(t.TempDir(), "shared-files"), w, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}
	return s, w
}

// testSigner — ключ узла-отправителя.
type testSigner struct {
	key *rsa.PrivateKey
	// shortPubkey — тело PKCS#1 ключа в base64 без armor
	shortPubkey string
	// fingerprint — sha256 от SubjectPublicKeyInfo DER
	fingerprint string
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}

	body := base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	pub, err := trust.LoadPublicKey(body)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	fp, err := trust.Fingerprint(pub, trust.Sha256)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	return &testSigner{
		key:         key,
		shortPubkey: body,
		fingerprint: fp,
	}
}

// node возвращает запись реестра с закреплённым ключом подписанта.
func (s *testSigner) node(id, hostname string) nodes.Node {
	return nodes.Node{
		ID:           id,
		Hostname:     hostname,
		PolicyServer: "root",
		KeyHash:      nodes.KeyHash{Algorithm: trust.Sha256, Value: s.fingerprint},
	}
}

// sign возвращает hex-подпись SHA-512 PKCS#1 v1.5 над payload.
func (s *testSigner) sign(t *testing.T, payload []byte) string {
	t.Helper()
	sum := sha512.Sum512(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA512, sum[:])
	if err != nil {
		t.Fatalf("подпись: %v", err)
	}
	return hex.EncodeToString(sig)
}

// fields возвращает поля формы загрузки, подписанные s.
func (s *testSigner) fields(t *testing.T, hostname string, payload []byte) map[string]string {
	t.Helper()
	return map[string]string{
		model.FieldHeader:      "rudder-signature-v1",
		model.FieldAlgorithm:   "sha512",
		model.FieldDigest:      s.sign(t, payload),
		model.FieldHashValue:   s.fingerprint,
		model.FieldShortPubkey: s.shortPubkey,
		model.FieldHostname:    hostname,
		model.FieldKeydate:     "2024-01-15 10:00:00+00:00",
		model.FieldKeyID:       "B29D02BB",
		model.FieldExpires:     "1d 2h",
	}
}
