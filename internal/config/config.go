// Пакет config — загрузка и валидация конфигурации relayd
// из переменных окружения RELAY_*.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Источники реестра узлов.
const (
	NodesSourceFile     = "file"
	NodesSourcePostgres = "postgres"
)

// Config содержит все параметры конфигурации relayd.
type Config struct {
	// Идентификатор этого relay (например, "root")
	NodeID string
	// Адрес и порт HTTP-сервера
	Host string
	Port int

	// Корневая директория shared-файлов
	SharedFilesDir string
	// Путь к директории WAL
	WALDir string
	// Максимальный размер тела запроса загрузки в байтах
	MaxFileSize int64
	// Интервал очистки просроченных shared-файлов
	GCInterval time.Duration
	// Возраст, после которого временный файл считается брошенным
	TempMaxAge time.Duration

	// Источник закреплённых ключей узлов: file или postgres
	NodesSource string
	// Путь к nodeslist.json (источник file)
	NodesListFile string

	// Параметры PostgreSQL (источник postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Команда запуска агента на узлах (remote run)
	RemoteRunCommand string
	// Таймаут одного запуска
	RemoteRunTimeout time.Duration
	// Размер и срок хранения истории запусков
	RemoteRunHistory   int
	RemoteRunRetention time.Duration

	// URL JWKS endpoint; пустой — аутентификация административных
	// маршрутов отключена
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration

	// TLS сертификат и ключ (оба или ни одного)
	TLSCert string
	TLSKey  string

	// URL вышестоящего сервера (policy server), опционально.
	// Отслеживается topologymetrics как зависимость.
	UpstreamURL string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// RELAY_NODE_ID — обязательный
	cfg.NodeID, err = getEnvRequired("RELAY_NODE_ID")
	if err != nil {
		return nil, err
	}

	cfg.Host = getEnvDefault("RELAY_HOST", "127.0.0.1")

	port, err := getEnvInt("RELAY_PORT", 3030)
	if err != nil {
		return nil, fmt.Errorf("RELAY_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("RELAY_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// RELAY_SHARED_FILES_DIR — обязательный, корень хранилища задаётся явно
	cfg.SharedFilesDir, err = getEnvRequired("RELAY_SHARED_FILES_DIR")
	if err != nil {
		return nil, err
	}

	cfg.WALDir, err = getEnvRequired("RELAY_WAL_DIR")
	if err != nil {
		return nil, err
	}

	// RELAY_MAX_FILE_SIZE — по умолчанию 10 MiB
	cfg.MaxFileSize, err = getEnvInt64("RELAY_MAX_FILE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("RELAY_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("RELAY_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.GCInterval, err = getEnvPositiveDuration("RELAY_GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.TempMaxAge, err = getEnvPositiveDuration("RELAY_TEMP_MAX_AGE", time.Hour)
	if err != nil {
		return nil, err
	}

	// RELAY_NODES_SOURCE — file (по умолчанию) или postgres
	cfg.NodesSource = getEnvDefault("RELAY_NODES_SOURCE", NodesSourceFile)
	switch cfg.NodesSource {
	case NodesSourceFile:
		cfg.NodesListFile = getEnvDefault("RELAY_NODES_LIST_FILE", "/var/rudder/lib/relay/nodeslist.json")
	case NodesSourcePostgres:
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("RELAY_NODES_SOURCE: недопустимое значение %q, допустимые: file, postgres", cfg.NodesSource)
	}

	cfg.RemoteRunCommand = getEnvDefault("RELAY_REMOTE_RUN_COMMAND", "/opt/rudder/bin/rudder")

	cfg.RemoteRunTimeout, err = getEnvPositiveDuration("RELAY_REMOTE_RUN_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.RemoteRunHistory, err = getEnvInt("RELAY_REMOTE_RUN_HISTORY", 256)
	if err != nil {
		return nil, fmt.Errorf("RELAY_REMOTE_RUN_HISTORY: %w", err)
	}
	if cfg.RemoteRunHistory <= 0 {
		return nil, fmt.Errorf("RELAY_REMOTE_RUN_HISTORY: значение должно быть положительным")
	}

	cfg.RemoteRunRetention, err = getEnvPositiveDuration("RELAY_REMOTE_RUN_RETENTION", time.Hour)
	if err != nil {
		return nil, err
	}

	// JWT — опционально
	cfg.JWKSUrl = getEnvDefault("RELAY_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("RELAY_JWKS_CA_CERT", "")

	cfg.JWKSClientTimeout, err = getEnvPositiveDuration("RELAY_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("RELAY_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.JWTLeeway, err = getEnvDuration("RELAY_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RELAY_JWT_LEEWAY: %w", err)
	}

	cfg.TLSCert = getEnvDefault("RELAY_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("RELAY_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("RELAY_TLS_CERT и RELAY_TLS_KEY задаются только вместе")
	}

	cfg.UpstreamURL = getEnvDefault("RELAY_UPSTREAM_URL", "")
	if cfg.UpstreamURL != "" {
		u, err := url.Parse(cfg.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("RELAY_UPSTREAM_URL: некорректный URL %q", cfg.UpstreamURL)
		}
	}

	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("RELAY_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DephealthGroup = getEnvDefault("RELAY_DEPHEALTH_GROUP", "relayd")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RELAY_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RELAY_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("RELAY_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RELAY_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("RELAY_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDatabase читает параметры PostgreSQL (RELAY_DB_*).
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost = getEnvDefault("RELAY_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("RELAY_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("RELAY_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("RELAY_DB_NAME", "rudder")
	cfg.DBUser, err = getEnvRequired("RELAY_DB_USER")
	if err != nil {
		return err
	}
	cfg.DBPassword, err = getEnvRequired("RELAY_DB_PASSWORD")
	if err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("RELAY_DB_SSL_MODE", "disable")
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// PostgresURL возвращает URL PostgreSQL без учётных данных
// для меток мониторинга зависимостей.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	return u.String()
}

// ListenAddr возвращает адрес HTTP-сервера host:port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой d > 0.
// Ошибка уже содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: длительность должна быть положительной, получено %s", key, d)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
