package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/app"
	"github.com/avolkov/ticketchange/internal/version"
)

const (
	envHTTPAddr            = "TCS_HTTP_ADDR"
	envMetricsAddr         = "TCS_METRICS_ADDR"
	envStorageDriver       = "TCS_STORAGE_DRIVER"
	envPostgresDSN         = "TCS_POSTGRES_DSN"
	envPostgresAutoMigrate = "TCS_POSTGRES_AUTO_MIGRATE"
	envRedisAddr           = "TCS_REDIS_ADDR"
	envRedisPassword       = "TCS_REDIS_PASSWORD"
	envRedisDB             = "TCS_REDIS_DB"
	envCacheTTL            = "TCS_CACHE_TTL"
	envKafkaBrokers        = "TCS_KAFKA_BROKERS"
	envOrderEventsTopic    = "TCS_ORDER_EVENTS_TOPIC"
	envNotificationsTopic  = "TCS_NOTIFICATIONS_TOPIC"
	envDLQTopic            = "TCS_DLQ_TOPIC"
	envOutboxPollInterval  = "TCS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "TCS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "TCS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "TCS_OUTBOX_RETRY_DELAY"
	envCleanupInterval     = "TCS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envCleanupBatchSize    = "TCS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

// setupLogger настраивает формат и уровень логирования сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv строит конфигурацию из переменных окружения поверх
// значений по умолчанию. Некорректные значения не валят запуск: они
// пропускаются с предупреждением.
func readConfigFromEnv(lookup func(string) (string, bool)) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	getString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	getInt := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || parsed <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s: invalid value %q, using default", key, v))
			return
		}
		*dst = parsed
	}
	getDuration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || parsed <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s: invalid duration %q, using default", key, v))
			return
		}
		*dst = parsed
	}
	getBool := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: invalid boolean %q, using default", key, v))
			return
		}
		*dst = parsed
	}

	getString(envHTTPAddr, &cfg.HTTPAddr)
	getString(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		driver := app.StorageDriver(strings.ToLower(strings.TrimSpace(v)))
		switch driver {
		case app.StorageDriverMemory, app.StorageDriverPostgres:
			cfg.StorageDriver = driver
		default:
			warnings = append(warnings, fmt.Sprintf("%s: unknown driver %q, using %s", envStorageDriver, v, cfg.StorageDriver))
		}
	}

	getString(envPostgresDSN, &cfg.PostgresDSN)
	getBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	getString(envRedisAddr, &cfg.RedisAddr)
	getString(envRedisPassword, &cfg.RedisPassword)
	getInt(envRedisDB, &cfg.RedisDB)
	getDuration(envCacheTTL, &cfg.CacheTTL)

	getString(envKafkaBrokers, &cfg.KafkaBrokers)
	getString(envOrderEventsTopic, &cfg.OrderEventsTopic)
	getString(envNotificationsTopic, &cfg.NotificationsTopic)
	getString(envDLQTopic, &cfg.DLQTopic)

	getDuration(envOutboxPollInterval, &cfg.OutboxPollInterval)
	getInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	getInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	getDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay)

	getDuration(envCleanupInterval, &cfg.IdempotencyCleanupInterval)
	getInt(envCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	return cfg, warnings
}

func main() {
	// .env опционален: в контейнере конфигурация приходит из окружения.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	setupLogger()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"version":      version.String(),
	}).Info("starting ticket change service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("service exited with error")
	}

	log.Info("ticket change service stopped")
}
