// Пакет config — загрузка и валидация конфигурации Directory Sync
// из переменных окружения.
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

// Провайдеры каталога.
const (
	ProviderGraph  = "graph"
	ProviderGoogle = "google"
)

// Config содержит все параметры конфигурации Directory Sync.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Каталог ---

	// Провайдер каталога: graph или google
	DirectoryProvider string
	// Размер страницы при выборке пользователей
	DirectoryPageSize int
	// Таймаут HTTP-запроса к каталогу
	DirectoryTimeout time.Duration

	// Базовый URL Graph API (например, https://graph.microsoft.com/v1.0)
	GraphBaseURL string
	// Token endpoint OAuth2 (client credentials)
	GraphTokenURL     string
	GraphClientID     string
	GraphClientSecret string
	GraphScopes       []string

	// Путь к JSON-ключу сервисного аккаунта Google
	GoogleCredentialsFile string
	// Содержимое ключа (из файла или из KSM)
	GoogleCredentialsJSON []byte
	// Администратор домена для делегирования
	GoogleAdminSubject string
	// Customer ID (по умолчанию my_customer)
	GoogleCustomer string

	// --- Группы, определяющие роль ---

	AdminGroupID  string
	IssuerGroupID string

	// --- Повторы ---

	// Число повторов после первой попытки
	RetryMax int
	// Задержка перед первым повтором
	RetryBaseDelay time.Duration

	// --- Синхронизация ---

	// Интервал фоновой синхронизации (0 — планировщик выключен)
	SyncInterval time.Duration
	// Запустить полную синхронизацию при старте
	SyncOnStart bool
	// Окно, в течение которого вход разрешается по кэшированным данным
	LoginDegradationWindow time.Duration
	// Минимальный интервал между синхронизациями при входе (0 — без ограничения)
	LoginSyncMinInterval time.Duration

	// --- JWT ---

	JWTIssuer  string
	JWTJWKSURL string
	// Группы JWT, дающие доступ к административным операциям
	JWTAdminGroups []string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Keeper Secrets Manager ---

	// Конфигурация KSM в base64 (пусто — KSM не используется)
	KSMConfig string
	// UID записи с учётными данными каталога
	KSMRecordUID string

	// --- События ---

	// URL Redis (пусто — события не публикуются)
	RedisURL     string
	RedisChannel string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Трассировка ---

	// OTLP HTTP endpoint (пусто — трассировка выключена)
	OTLPEndpoint string
	// Окружение (production, staging, dev)
	Environment string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Отсутствие учётных данных каталога не является ошибкой:
// провайдер будет считаться ненастроенным.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DS_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("DS_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("DS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("DS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DS_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DS_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DS_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DS_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DS_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("DS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Каталог ---

	cfg.DirectoryProvider = strings.ToLower(getEnvDefault("DS_DIRECTORY_PROVIDER", ProviderGraph))
	if cfg.DirectoryProvider != ProviderGraph && cfg.DirectoryProvider != ProviderGoogle {
		return nil, fmt.Errorf("DS_DIRECTORY_PROVIDER: недопустимое значение %q, допустимые: graph, google", cfg.DirectoryProvider)
	}

	cfg.DirectoryPageSize, err = getEnvInt("DS_DIRECTORY_PAGE_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("DS_DIRECTORY_PAGE_SIZE: %w", err)
	}
	if cfg.DirectoryPageSize < 1 || cfg.DirectoryPageSize > 999 {
		return nil, fmt.Errorf("DS_DIRECTORY_PAGE_SIZE: значение %d вне допустимого диапазона 1-999", cfg.DirectoryPageSize)
	}

	cfg.DirectoryTimeout, err = getEnvDuration("DS_DIRECTORY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_DIRECTORY_TIMEOUT: %w", err)
	}

	cfg.GraphBaseURL = strings.TrimRight(getEnvDefault("DS_GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"), "/")
	if _, err := url.ParseRequestURI(cfg.GraphBaseURL); err != nil {
		return nil, fmt.Errorf("DS_GRAPH_BASE_URL: некорректный URL %q", cfg.GraphBaseURL)
	}
	cfg.GraphTokenURL = getEnvDefault("DS_GRAPH_TOKEN_URL", "")
	cfg.GraphClientID = getEnvDefault("DS_GRAPH_CLIENT_ID", "")
	cfg.GraphClientSecret = getEnvDefault("DS_GRAPH_CLIENT_SECRET", "")
	cfg.GraphScopes = parseCSV(getEnvDefault("DS_GRAPH_SCOPES", "https://graph.microsoft.com/.default"))

	cfg.GoogleCredentialsFile = getEnvDefault("DS_GOOGLE_CREDENTIALS_FILE", "")
	if cfg.GoogleCredentialsFile != "" {
		cfg.GoogleCredentialsJSON, err = os.ReadFile(cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("DS_GOOGLE_CREDENTIALS_FILE: %w", err)
		}
	}
	cfg.GoogleAdminSubject = getEnvDefault("DS_GOOGLE_ADMIN_SUBJECT", "")
	cfg.GoogleCustomer = getEnvDefault("DS_GOOGLE_CUSTOMER", "my_customer")

	// --- Группы ---

	cfg.AdminGroupID = getEnvDefault("DS_ADMIN_GROUP_ID", "")
	cfg.IssuerGroupID = getEnvDefault("DS_ISSUER_GROUP_ID", "")

	// --- Повторы ---

	cfg.RetryMax, err = getEnvInt("DS_RETRY_MAX", 3)
	if err != nil {
		return nil, fmt.Errorf("DS_RETRY_MAX: %w", err)
	}
	if cfg.RetryMax < 0 || cfg.RetryMax > 10 {
		return nil, fmt.Errorf("DS_RETRY_MAX: значение %d вне допустимого диапазона 0-10", cfg.RetryMax)
	}

	cfg.RetryBaseDelay, err = getEnvDuration("DS_RETRY_BASE_DELAY", time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_RETRY_BASE_DELAY: %w", err)
	}

	// --- Синхронизация ---

	cfg.SyncInterval, err = getEnvDuration("DS_SYNC_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("DS_SYNC_INTERVAL: %w", err)
	}
	if cfg.SyncInterval < 0 {
		return nil, fmt.Errorf("DS_SYNC_INTERVAL: отрицательное значение %s", cfg.SyncInterval)
	}

	cfg.SyncOnStart, err = getEnvBool("DS_SYNC_ON_START", false)
	if err != nil {
		return nil, fmt.Errorf("DS_SYNC_ON_START: %w", err)
	}

	cfg.LoginDegradationWindow, err = getEnvDuration("DS_LOGIN_DEGRADATION_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DS_LOGIN_DEGRADATION_WINDOW: %w", err)
	}

	cfg.LoginSyncMinInterval, err = getEnvDuration("DS_LOGIN_SYNC_MIN_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("DS_LOGIN_SYNC_MIN_INTERVAL: %w", err)
	}

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("DS_JWT_ISSUER", "")
	cfg.JWTJWKSURL = getEnvDefault("DS_JWT_JWKS_URL", "")
	cfg.JWTAdminGroups = parseCSV(getEnvDefault("DS_JWT_ADMIN_GROUPS", "directory-admins"))

	cfg.JWKSRefreshInterval, err = getEnvDuration("DS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DS_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWTLeeway, err = getEnvDuration("DS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_JWT_LEEWAY: %w", err)
	}

	// --- KSM ---

	cfg.KSMConfig = getEnvDefault("DS_KSM_CONFIG", "")
	cfg.KSMRecordUID = getEnvDefault("DS_KSM_RECORD_UID", "")
	if cfg.KSMConfig != "" && cfg.KSMRecordUID == "" {
		return nil, fmt.Errorf("DS_KSM_RECORD_UID: обязателен при заданном DS_KSM_CONFIG")
	}

	// --- События ---

	cfg.RedisURL = getEnvDefault("DS_REDIS_URL", "")
	cfg.RedisChannel = getEnvDefault("DS_REDIS_CHANNEL", "directory-sync.events")

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DS_DEPHEALTH_GROUP", "directory-sync")
	cfg.DephealthCheckInterval, err = getEnvDuration("DS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Трассировка ---

	cfg.OTLPEndpoint = getEnvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.Environment = getEnvDefault("DS_ENVIRONMENT", "production")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL без пароля
// (для topologymetrics и логов).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// DirectoryHealthURL возвращает URL каталога для проверки зависимостей.
func (c *Config) DirectoryHealthURL() string {
	if c.DirectoryProvider == ProviderGoogle {
		return "https://admin.googleapis.com"
	}
	return c.GraphBaseURL
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

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
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

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
