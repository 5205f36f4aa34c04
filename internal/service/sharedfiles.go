// sharedfiles.go — приём и проверка наличия shared-файлов.
//
// Загрузка проходит обязательную проверку доверия: ключ из манифеста должен
// совпадать с закреплённым отпечатком узла-отправителя, а подпись (digest)
// должна сходиться над содержимым. Только после этого манифест
// отрисовывается (expires → абсолютное время) и сохраняется вместе с содержимым.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/storage/nodes"
	"github.com/bigkaa/relayd/internal/storage/sharedfiles"
	"github.com/bigkaa/relayd/internal/trust"
)

var (
	// sharedFilesUploadsTotal — загрузки по результату
	// (stored, invalid, unauthenticated, error).
	sharedFilesUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_shared_files_uploads_total",
		Help: "Количество загрузок shared-файлов по результату",
	}, []string{"result"})

	// sharedFilesProbesTotal — проверки наличия по результату (found, not_found, error).
	sharedFilesProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_shared_files_probes_total",
		Help: "Количество проверок наличия shared-файлов по результату",
	}, []string{"result"})

	// sharedFilesUploadBytes — размер принятого содержимого.
	sharedFilesUploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_shared_files_upload_bytes",
		Help:    "Размер содержимого сохранённых shared-файлов в байтах",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	})
)

// SharedFilesService — приём и проверка наличия shared-файлов.
type SharedFilesService struct {
	store    *sharedfiles.Store
	registry nodes.Registry
	resolver model.ExpiryResolver
	stats    *Stats
	logger   *slog.Logger
}

// NewSharedFilesService создаёт сервис shared-файлов.
func NewSharedFilesService(
	store *sharedfiles.Store,
	registry nodes.Registry,
	resolver model.ExpiryResolver,
	stats *Stats,
	logger *slog.Logger,
) *SharedFilesService {
	return &SharedFilesService{
		store:    store,
		registry: registry,
		resolver: resolver,
		stats:    stats,
		logger:   logger.With(slog.String("component", "shared_files")),
	}
}

// Put проверяет и сохраняет загруженный файл.
//
// Поток:
//  1. Разбор полей формы в манифест
//  2. Проверка доверия (закреплённый ключ узла + подпись)
//  3. Отрисовка манифеста (expires → epoch seconds)
//  4. Атомарная запись манифеста и содержимого
func (s *SharedFilesService) Put(ctx context.Context, key sharedfiles.Key, fields map[string]string, payload []byte) error {
	s.stats.uploadsReceived.Add(1)

	err := s.put(ctx, key, fields, payload)
	result := uploadResult(err)
	sharedFilesUploadsTotal.WithLabelValues(result).Inc()

	if err != nil {
		s.stats.uploadsRefused.Add(1)
		s.logger.Warn("Загрузка shared-файла отклонена",
			slog.String("key", key.String()),
			slog.String("result", result),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.stats.uploadsStored.Add(1)
	sharedFilesUploadBytes.Observe(float64(len(payload)))
	s.logger.Info("Shared-файл сохранён",
		slog.String("key", key.String()),
		slog.Int("size", len(payload)),
	)
	return nil
}

func (s *SharedFilesService) put(ctx context.Context, key sharedfiles.Key, fields map[string]string, payload []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}

	manifest, err := model.ParseFields(fields)
	if err != nil {
		return err
	}

	if err := s.authenticate(ctx, key, manifest, payload); err != nil {
		return err
	}

	text, err := manifest.Render(s.resolver)
	if err != nil {
		return err
	}

	return s.store.Write(key, text, payload)
}

// authenticate — проверка доверия к загрузке. Ошибки разбора полей —
// *FieldError, отказ проверки — ErrAuthentication.
func (s *SharedFilesService) authenticate(ctx context.Context, key sharedfiles.Key, m *model.Manifest, payload []byte) error {
	alg, err := trust.ParseHashAlgorithm(m.Algorithm)
	if err != nil {
		return &model.FieldError{Field: model.FieldAlgorithm, Err: err}
	}

	pubKey, err := trust.LoadPublicKey(m.ShortPubkey)
	if err != nil {
		return &model.FieldError{Field: model.FieldShortPubkey, Err: err}
	}

	signature, err := hex.DecodeString(m.Digest)
	if err != nil {
		return &model.FieldError{Field: model.FieldDigest, Err: err}
	}

	node, err := s.registry.Lookup(ctx, m.Hostname)
	if errors.Is(err, model.ErrNodeNotFound) {
		return fmt.Errorf("%w: узел %s неизвестен", model.ErrAuthentication, m.Hostname)
	}
	if err != nil {
		return err
	}

	switch {
	case node.ID != key.SourceID:
		return fmt.Errorf("%w: узел %s не является источником %s", model.ErrAuthentication, node.ID, key.SourceID)
	case node.KeyHash.IsZero():
		return fmt.Errorf("%w: ключ узла %s не закреплён", model.ErrAuthentication, node.ID)
	case !trust.FingerprintMatches(pubKey, node.KeyHash.Algorithm, node.KeyHash.Value):
		return fmt.Errorf("%w: ключ не совпадает с закреплённым для узла %s", model.ErrAuthentication, node.ID)
	case m.HashValue != node.KeyHash.Value:
		return fmt.Errorf("%w: hash_value не совпадает с закреплённым для узла %s", model.ErrAuthentication, node.ID)
	}

	ok, err := trust.VerifySignature(payload, pubKey, alg, signature)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: подпись содержимого не сходится", model.ErrAuthentication)
	}
	return nil
}

// Head сообщает, хранится ли под key содержимое с hash_value == hash.
func (s *SharedFilesService) Head(key sharedfiles.Key, hash string) (sharedfiles.ProbeResult, error) {
	result, err := s.store.Check(key, hash)
	if err != nil {
		sharedFilesProbesTotal.WithLabelValues("error").Inc()
		return sharedfiles.NotFound, err
	}

	if result == sharedfiles.Found {
		s.stats.probesFound.Add(1)
	} else {
		s.stats.probesNotFound.Add(1)
	}
	sharedFilesProbesTotal.WithLabelValues(result.String()).Inc()
	return result, nil
}

// uploadResult — метка результата загрузки для метрик и логов.
func uploadResult(err error) string {
	var fieldErr *model.FieldError
	switch {
	case err == nil:
		return "stored"
	case errors.Is(err, model.ErrAuthentication):
		return "unauthenticated"
	case errors.As(err, &fieldErr),
		errors.Is(err, model.ErrInvalidKey),
		errors.Is(err, model.ErrInvalidTTL),
		errors.Is(err, model.ErrInvalidHashType):
		return "invalid"
	default:
		return "error"
	}
}
