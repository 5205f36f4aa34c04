// status.go — сводное состояние relay для /rudder/relay-ctl/status и /health/ready.
package service

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bigkaa/relayd/internal/config"
	"github.com/bigkaa/relayd/internal/storage/atomicfile"
)

// Значения статуса проверки.
const (
	StatusOK       = "ok"
	StatusFail     = "fail"
	StatusDegraded = "degraded"
)

// ReadinessChecker — проверка готовности внешнего ресурса.
// Реализуется database.ReadinessChecker.
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// NodeCounter — источник числа известных узлов (nodes.Registry).
type NodeCounter interface {
	Count() int
}

// HealthReporter — состояние зависимостей (DephealthService).
type HealthReporter interface {
	Health() map[string]bool
}

// CheckResult — результат одной проверки.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusReport — сводное состояние.
type StatusReport struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	NodeID    string                 `json:"node_id"`
	Checks    map[string]CheckResult `json:"checks"`
}

// StatusService собирает проверки состояния.
// Отказ хранилища или базы данных — fail, отказ WAL или
// внешней зависимости — degraded.
type StatusService struct {
	nodeID       string
	sharedDir    string
	walDir       string
	nodes        NodeCounter
	database     ReadinessChecker
	dependencies HealthReporter
}

// NewStatusService создаёт сервис состояния. database и dependencies
// могут быть nil, если соответствующий компонент не настроен.
func NewStatusService(
	nodeID, sharedDir, walDir string,
	nodes NodeCounter,
	database ReadinessChecker,
	dependencies HealthReporter,
) *StatusService {
	return &StatusService{
		nodeID:       nodeID,
		sharedDir:    sharedDir,
		walDir:       walDir,
		nodes:        nodes,
		database:     database,
		dependencies: dependencies,
	}
}

// Report выполняет все проверки.
func (s *StatusService) Report() StatusReport {
	report := StatusReport{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Version:   config.Version,
		NodeID:    s.nodeID,
		Checks:    map[string]CheckResult{},
	}

	report.add("filesystem", checkWritable(s.sharedDir, "Директория shared-файлов"), StatusFail)
	report.add("wal", checkWritable(s.walDir, "Директория WAL"), StatusDegraded)

	if s.nodes != nil {
		report.Checks["nodes"] = CheckResult{
			Status:  StatusOK,
			Message: formatCount(s.nodes.Count()),
		}
	}

	if s.database != nil {
		status, message := s.database.CheckReady()
		report.add("postgresql", CheckResult{Status: status, Message: message}, StatusFail)
	}

	if s.dependencies != nil {
		for name, healthy := range s.dependencies.Health() {
			result := CheckResult{Status: StatusOK}
			if !healthy {
				result = CheckResult{Status: StatusFail, Message: "зависимость недоступна"}
			}
			report.add("dependency:"+name, result, StatusDegraded)
		}
	}

	return report
}

// add записывает проверку; при отказе понижает общий статус до severity.
func (r *StatusReport) add(name string, result CheckResult, severity string) {
	r.Checks[name] = result
	if result.Status == StatusOK {
		return
	}
	if severity == StatusFail || r.Status == StatusOK {
		r.Status = severity
	}
}

// checkWritable проверяет, что в директорию можно записать файл.
func checkWritable(dir, what string) CheckResult {
	probe := atomicfile.TempName(filepath.Join(dir, ".health_check"))
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Status: StatusFail, Message: what + " недоступна для записи: " + err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Status: StatusOK}
}

func formatCount(n int) string {
	if n == 0 {
		return "реестр узлов пуст"
	}
	return "узлов в реестре: " + strconv.Itoa(n)
}
