// stats.go — агрегированная статистика relay для /rudder/relay-ctl/stats.
//
// Счётчики дублируют часть Prometheus-метрик, но живут в памяти процесса
// и отдаются в JSON без внешнего сборщика.
package service

import (
	"sync/atomic"
	"time"
)

// Stats — счётчики работы relay. Безопасны для конкурентного использования.
type Stats struct {
	startedAt time.Time

	uploadsReceived atomic.Uint64
	uploadsRefused  atomic.Uint64
	uploadsStored   atomic.Uint64
	probesFound     atomic.Uint64
	probesNotFound  atomic.Uint64
	runsStarted     atomic.Uint64
	runsFailed      atomic.Uint64
	gcRemoved       atomic.Uint64
}

// NewStats создаёт пустые счётчики.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now().UTC()}
}

// StatsSnapshot — моментальный снимок счётчиков.
type StatsSnapshot struct {
	StartedAt          time.Time `json:"started_at"`
	UptimeSeconds      int64     `json:"uptime_seconds"`
	UploadsReceived    uint64    `json:"shared_files_received"`
	UploadsRefused     uint64    `json:"shared_files_refused"`
	UploadsStored      uint64    `json:"shared_files_stored"`
	ProbesFound        uint64    `json:"shared_files_probes_found"`
	ProbesNotFound     uint64    `json:"shared_files_probes_not_found"`
	RemoteRunsStarted  uint64    `json:"remote_runs_started"`
	RemoteRunsFailed   uint64    `json:"remote_runs_failed"`
	ExpiredRecordsGone uint64    `json:"shared_files_expired_removed"`
	KnownNodes         int       `json:"known_nodes"`
}

// Snapshot возвращает текущие значения. knownNodes подставляется вызывающим.
func (s *Stats) Snapshot(knownNodes int) StatsSnapshot {
	return StatsSnapshot{
		StartedAt:          s.startedAt,
		UptimeSeconds:      int64(time.Since(s.startedAt).Seconds()),
		UploadsReceived:    s.uploadsReceived.Load(),
		UploadsRefused:     s.uploadsRefused.Load(),
		UploadsStored:      s.uploadsStored.Load(),
		ProbesFound:        s.probesFound.Load(),
		ProbesNotFound:     s.probesNotFound.Load(),
		RemoteRunsStarted:  s.runsStarted.Load(),
		RemoteRunsFailed:   s.runsFailed.Load(),
		ExpiredRecordsGone: s.gcRemoved.Load(),
		KnownNodes:         knownNodes,
	}
}
