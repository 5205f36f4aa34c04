// gc.go — сервис фоновой очистки (Garbage Collection) shared-файлов.
//
// GC выполняет три задачи:
//  1. Удаляет записи, у которых отрисованный expires в прошлом
//  2. Удаляет брошенные временные файлы прерванных записей
//  3. Удаляет завершённые WAL-записи
//
// Запускается как горутина с периодическим тикером (RELAY_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/storage/sharedfiles"
	"github.com/bigkaa/relayd/internal/storage/wal"
)

// Prometheus метрики GC
var (
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcRecordsExpiredTotal — удалённые записи с истёкшим expires.
	gcRecordsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_gc_records_expired_total",
		Help: "Общее количество shared-файлов, удалённых по истечении срока",
	})

	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// ExpiredCount — удалённые записи с истёкшим сроком
	ExpiredCount int
	// TempCount — удалённые временные файлы
	TempCount int
	// WALCount — удалённые завершённые WAL-записи
	WALCount int
	// Errors — количество ошибок при обработке
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// GCService — сервис фоновой очистки shared-файлов.
type GCService struct {
	store      *sharedfiles.Store
	wal        *wal.WAL
	stats      *Stats
	interval   time.Duration
	tempMaxAge time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGCService создаёт сервис GC.
func NewGCService(
	store *sharedfiles.Store,
	w *wal.WAL,
	stats *Stats,
	interval time.Duration,
	tempMaxAge time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		store:      store,
		wal:        w,
		stats:      stats,
		interval:   interval,
		tempMaxAge: tempMaxAge,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.done = make(chan struct{})

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
	)
}

// Stop останавливает фоновый процесс GC и дожидается его завершения.
func (gc *GCService) Stop() {
	if gc.cancel == nil {
		return
	}
	gc.cancel()
	<-gc.done
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *GCService) run(ctx context.Context) {
	defer close(gc.done)

	// Первый запуск — сразу после старта
	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (gc *GCService) RunOnce() *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	gc.logger.Debug("GC запуск начат")

	// Фаза 1: записи с истёкшим сроком
	result.ExpiredCount, result.Errors = gc.purgeExpired(gc.now().UTC().Unix())

	// Фаза 2: брошенные временные файлы
	temp, err := gc.store.CleanTemp(gc.tempMaxAge)
	if err != nil {
		gc.logger.Error("GC: ошибка очистки временных файлов",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.TempCount = temp

	// Фаза 3: завершённые WAL-записи
	walCount, err := gc.wal.CleanCommitted()
	if err != nil {
		gc.logger.Error("GC: ошибка очистки WAL",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.WALCount = walCount

	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcRecordsExpiredTotal.Add(float64(result.ExpiredCount))
	gcDurationSeconds.Observe(result.Duration.Seconds())
	gc.stats.gcRemoved.Add(uint64(result.ExpiredCount))

	gc.logger.Info("GC завершён",
		slog.Int("expired", result.ExpiredCount),
		slog.Int("temp", result.TempCount),
		slog.Int("wal", result.WALCount),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// purgeExpired удаляет записи, срок которых истёк к моменту now (epoch seconds).
// Проверка срока повторяется под блокировкой ключа в DeleteIf.
func (gc *GCService) purgeExpired(now int64) (removed, errs int) {
	expired := func(manifest string) bool {
		return manifestExpired(manifest, now)
	}

	err := gc.store.Walk(func(key sharedfiles.Key) error {
		deleted, err := gc.store.DeleteIf(key, expired)
		if err != nil {
			gc.logger.Error("GC: ошибка удаления записи",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
			errs++
			return nil
		}
		if deleted {
			gc.logger.Debug("GC: запись удалена по истечении срока",
				slog.String("key", key.String()),
			)
			removed++
		}
		return nil
	})
	if err != nil {
		gc.logger.Error("GC: ошибка обхода хранилища",
			slog.String("error", err.Error()),
		)
		errs++
	}
	return removed, errs
}

// manifestExpired сообщает, что expires манифеста не позже now.
// Манифест без числового expires не считается истёкшим.
func manifestExpired(manifest string, now int64) bool {
	value, ok := model.LookupField(manifest, model.FieldExpires)
	if !ok {
		return false
	}
	expires, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false
	}
	return expires <= now
}
