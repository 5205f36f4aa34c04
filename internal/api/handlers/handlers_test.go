package handlers

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/domain/ttl"
	"github.com/bigkaa/relayd/internal/service"
	"github.com/bigkaa/relayd/internal/storage/nodes"
	"github.com/bigkaa/relayd/internal/storage/sharedfiles"
	"github.com/bigkaa/relayd/internal/storage/wal"
	"github.com/bigkaa/relayd/internal/trust"
)

const (
	sourceID   = "e745a140-40bc-4b86-b6dc-084488fc906b"
	sourceHost = "node1.rudder.local"
	targetID   = "root"
	otherID    = "0b1c2d3e-0000-4000-8000-000000000002"
	otherHost  = "node2.rudder.local"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRunner записывает аргументы и возвращает заданный результат.
type fakeRunner struct {
	mu   sync.Mutex
	args [][]string
	out  []byte
	err  error
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, args)
	return f.out, f.err
}

func (f *fakeRunner) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.args...)
}

// testEnv — relayd в миниатюре: реальные хранилище, реестр и сервисы.
type testEnv struct {
	router       http.Handler
	key          *rsa.PrivateKey
	shortPubkey  string
	fingerprint  string
	nodesPath    string
	registry     *nodes.FileRegistry
	runner       *fakeRunner
	remoteRunSvc *service.RemoteRunService
}

func newTestEnv(t *testing.T, maxFileSize int64) *testEnv {
	t.Helper()
	dir := t.TempDir()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}
	shortPubkey := base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	pub, err := trust.LoadPublicKey(shortPubkey)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	fingerprint, err := trust.Fingerprint(pub, trust.Sha256)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	nodesPath := filepath.Join(dir, "nodeslist.json")
	writeFile(t, nodesPath, fmt.Sprintf(`{"data": {
		%q: {"hostname": %q, "policy-server": "root", "key-hash": "sha256:%s"},
		%q: {"hostname": %q, "policy-server": "root", "key-hash": ""}
	}}`, sourceID, sourceHost, fingerprint, otherID, otherHost))

	registry, err := nodes.NewFileRegistry(nodesPath, testLogger())
	if err != nil {
		t.Fatalf("NewFileRegistry: %v", err)
	}

	w, err := wal.New(filepath.Join(dir, "wal"), testLogger())
	if err != nil {
		t.Fatalf("wal.New: %v", err)
	}
	store, err := sharedfiles.New(filepath.Join(dir, "shared-files"), w, testLogger())
	if err != nil {
		t.Fatalf("sharedfiles.New: %v", err)
	}

	stats := service.NewStats()
	runner := &fakeRunner{out: []byte("agent output\n")}
	remoteRunSvc := service.NewRemoteRunService(registry, runner, "/opt/rudder/bin/rudder",
		time.Minute, 16, time.Hour, stats, testLogger())
	t.Cleanup(remoteRunSvc.Shutdown)

	statusSvc := service.NewStatusService("root", store.Root(), w.Dir(), registry, nil, nil)

	sharedFiles := NewSharedFilesHandler(
		service.NewSharedFilesService(store, registry, ttl.New(), stats, testLogger()),
		maxFileSize,
	)
	relayCtl := NewRelayCtlHandler(stats, registry, statusSvc, testLogger())
	remoteRun := NewRemoteRunHandler(remoteRunSvc)
	health := NewHealthHandler(statusSvc)

	r := chi.NewRouter()
	r.Get("/health/live", health.HealthLive)
	r.Get("/health/ready", health.HealthReady)
	r.Route("/rudder", func(r chi.Router) {
		r.Get("/relay-ctl/stats", relayCtl.GetStats)
		r.Get("/relay-ctl/status", relayCtl.GetStatus)
		r.Post("/relay-ctl/reload", relayCtl.Reload)
		r.Put("/relay-api/shared-files/{target_uuid}/{source_uuid}/{file_id}", sharedFiles.PutSharedFile)
		r.Head("/relay-api/shared-files/{target_uuid}/{source_uuid}/{file_id}", sharedFiles.HeadSharedFile)
		r.Post("/relay-api/remote-run/nodes/{node_id}", remoteRun.RunNode)
		r.Post("/relay-api/remote-run/nodes", remoteRun.RunNodes)
		r.Post("/relay-api/remote-run/all", remoteRun.RunAll)
		r.Get("/relay-api/remote-run/executions/{execution_id}", remoteRun.GetExecution)
	})

	return &testEnv{
		router:       r,
		key:          key,
		shortPubkey:  shortPubkey,
		fingerprint:  fingerprint,
		nodesPath:    nodesPath,
		registry:     registry,
		runner:       runner,
		remoteRunSvc: remoteRunSvc,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("запись %s: %v", path, err)
	}
}

// uploadForm — форма загрузки, подписанная ключом env.
func (e *testEnv) uploadForm(t *testing.T, payload []byte) url.Values {
	t.Helper()
	sum := sha512.Sum512(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, e.key, crypto.SHA512, sum[:])
	if err != nil {
		t.Fatalf("подпись: %v", err)
	}
	return url.Values{
		model.FieldHeader:      {"rudder-signature-v1"},
		model.FieldAlgorithm:   {"sha512"},
		model.FieldDigest:      {hex.EncodeToString(sig)},
		model.FieldHashValue:   {e.fingerprint},
		model.FieldShortPubkey: {e.shortPubkey},
		model.FieldHostname:    {sourceHost},
		model.FieldKeydate:     {"2024-01-15 10:00:00+00:00"},
		model.FieldKeyID:       {"B29D02BB"},
		model.FieldExpires:     {"1d"},
		FieldContent:           {base64.StdEncoding.EncodeToString(payload)},
	}
}

func (e *testEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sharedFilePath(fileID string) string {
	return "/rudder/relay-api/shared-files/" + targetID + "/" + sourceID + "/" + fileID
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело ошибки не JSON: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Code
}
