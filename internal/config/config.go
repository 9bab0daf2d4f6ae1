// Пакет config — загрузка и валидация конфигурации Data Nestling
// из переменных окружения и опционального .env файла.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// URI подключения к MongoDB (обязательный параметр)
	MongoURI string
	// Имя базы данных
	DatabaseName string
	// Путь к директории загрузок
	UploadDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Интервал фоновой очистки orphan-файлов (0 — только триггеры после загрузки)
	CleanupInterval time.Duration
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
// Перед чтением окружения подгружается .env файл из текущей директории,
// если он существует; уже установленные переменные окружения имеют
// приоритет над содержимым .env.
func Load() (*Config, error) {
	// .env опционален, его отсутствие не ошибка
	_ = godotenv.Load()

	cfg := &Config{}

	// DN_PORT — порт HTTP-сервера (по умолчанию 8000).
	// PORT принимается как fallback для совместимости с прежним деплоем.
	port, err := getEnvInt("DN_PORT", 0)
	if err != nil {
		return nil, fmt.Errorf("DN_PORT: %w", err)
	}
	if port == 0 {
		port, err = getEnvInt("PORT", 8000)
		if err != nil {
			return nil, fmt.Errorf("PORT: %w", err)
		}
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("DN_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// DN_MONGODB_URI — обязательный (fallback: MONGODB_URI)
	cfg.MongoURI = getEnvDefault("DN_MONGODB_URI", os.Getenv("MONGODB_URI"))
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("DN_MONGODB_URI: обязательная переменная окружения не задана")
	}

	// DN_DATABASE_NAME — имя базы (по умолчанию data_nestling, fallback: DATABASE_NAME)
	cfg.DatabaseName = getEnvDefault("DN_DATABASE_NAME",
		getEnvDefault("DATABASE_NAME", "data_nestling"))

	// DN_UPLOAD_DIR — директория загрузок (по умолчанию ./uploads)
	cfg.UploadDir = getEnvDefault("DN_UPLOAD_DIR", "uploads")

	// DN_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	maxFileSize, err := getEnvInt64("DN_MAX_FILE_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("DN_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("DN_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// DN_CLEANUP_INTERVAL — интервал фоновой очистки (по умолчанию 1h).
	// Значение 0 отключает периодический запуск, очистка выполняется
	// только по триггеру после загрузки.
	cfg.CleanupInterval, err = getEnvDuration("DN_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DN_CLEANUP_INTERVAL: %w", err)
	}
	if cfg.CleanupInterval < 0 {
		return nil, fmt.Errorf("DN_CLEANUP_INTERVAL: значение не может быть отрицательным")
	}

	// DN_TLS_CERT / DN_TLS_KEY — опциональная пара TLS
	cfg.TLSCert = getEnvDefault("DN_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("DN_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("DN_TLS_CERT и DN_TLS_KEY должны задаваться вместе")
	}

	// DN_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DN_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DN_LOG_LEVEL: %w", err)
	}

	// DN_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DN_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DN_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// DN_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DN_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DN_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
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

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h)", val)
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
