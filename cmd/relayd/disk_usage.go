// disk_usage.go — ёмкость диска под shared-файлами.
// Платформозависимый код для Unix-подобных систем.
package main

import (
	"fmt"
	"log/slog"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// getDiskUsage возвращает информацию о дисковом пространстве в директории.
// Возвращает total, used, available в байтах.
func getDiskUsage(path string) (total, used, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	used = total - available

	return total, used, available, nil
}

// registerDiskMetrics регистрирует gauge ёмкости диска shared-файлов.
// Значения читаются при каждом scrape.
func registerDiskMetrics(dir string, logger *slog.Logger) {
	read := func(pick func(total, used, available int64) int64) func() float64 {
		return func() float64 {
			total, used, available, err := getDiskUsage(dir)
			if err != nil {
				logger.Warn("Не удалось получить ёмкость диска", slog.String("error", err.Error()))
				return 0
			}
			return float64(pick(total, used, available))
		}
	}

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_shared_files_disk_total_bytes",
		Help: "Ёмкость файловой системы shared-файлов",
	}, read(func(total, _, _ int64) int64 { return total }))
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_shared_files_disk_used_bytes",
		Help: "Занятое место файловой системы shared-файлов",
	}, read(func(_, used, _ int64) int64 { return used }))
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_shared_files_disk_available_bytes",
		Help: "Доступное место файловой системы shared-файлов",
	}, read(func(_, _, available int64) int64 { return available }))
}
