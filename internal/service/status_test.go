package service

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeReadiness struct{ status, message string }

func (f fakeReadiness) CheckReady() (string, string) { return f.status, f.message }

type fakeHealth map[string]bool

func (f fakeHealth) Health() map[string]bool { return f }

func TestStatusReport(t *testing.T) {
	shared := t.TempDir()
	walDir := t.TempDir()
	missing := filepath.Join(t.TempDir(), "missing")
	registry := newMemRegistry()

	tests := []struct {
		name       string
		sharedDir  string
		walDir     string
		database   ReadinessChecker
		deps       HealthReporter
		wantStatus string
		wantChecks []string
	}{
		{
			name:       "all-ok",
			sharedDir:  shared,
			walDir:     walDir,
			wantStatus: StatusOK,
			wantChecks: []string{"filesystem", "wal", "nodes"},
		},
		{
			name:       "wal-unwritable",
			sharedDir:  shared,
			walDir:     missing,
			wantStatus: StatusDegraded,
		},
		{
			name:       "storage-unwritable",
			sharedDir:  missing,
			walDir:     walDir,
			wantStatus: StatusFail,
		},
		{
			name:       "database-down",
			sharedDir:  shared,
			walDir:     walDir,
			database:   fakeReadiness{StatusFail, "connection refused"},
			wantStatus: StatusFail,
			wantChecks: []string{"postgresql"},
		},
		{
			name:       "upstream-down",
			sharedDir:  shared,
			walDir:     walDir,
			database:   fakeReadiness{StatusOK, ""},
			deps:       fakeHealth{"upstream:policy:443": false},
			wantStatus: StatusDegraded,
			wantChecks: []string{"postgresql", "dependency:upstream:policy:443"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewStatusService("root", tt.sharedDir, tt.walDir, registry, tt.database, tt.deps)
			report := svc.Report()

			if report.Status != tt.wantStatus {
				t.Errorf("Status = %s, ожидалось %s (%+v)", report.Status, tt.wantStatus, report.Checks)
			}
			if report.NodeID != "root" {
				t.Errorf("NodeID = %s", report.NodeID)
			}
			for _, name := range tt.wantChecks {
				if _, ok := report.Checks[name]; !ok {
					t.Errorf("нет проверки %s: %+v", name, report.Checks)
				}
			}
		})
	}
}

func TestStatusReport_NoProbeLeftBehind(t *testing.T) {
	shared := t.TempDir()
	svc := NewStatusService("root", shared, t.TempDir(), nil, nil, nil)
	_ = svc.Report()

	entries, err := os.ReadDir(shared)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("проверка записи оставила файлы: %v", entries)
	}
}
