package app

import (
	"testing"
	"time"
)

// Дефолтная конфигурация должна поднимать сервис локально без внешних
// зависимостей: in-memory хранилище, Kafka и Redis выключены.
func TestDefaultConfig_LocalDevPosture(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if cfg.PostgresDSN != "" {
		t.Errorf("expected empty PostgresDSN, got %s", cfg.PostgresDSN)
	}
	if cfg.KafkaBrokers != "" {
		t.Errorf("expected empty KafkaBrokers, got %s", cfg.KafkaBrokers)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("expected empty RedisAddr, got %s", cfg.RedisAddr)
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
}

// Интервалы и размеры батчей фоновых воркеров должны быть положительными,
// иначе outbox и очистка идемпотентности уйдут в busy loop.
func TestDefaultConfig_WorkerTuning(t *testing.T) {
	cfg := DefaultConfig()

	durations := map[string]time.Duration{
		"CacheTTL":                   cfg.CacheTTL,
		"OutboxPollInterval":         cfg.OutboxPollInterval,
		"IdempotencyCleanupInterval": cfg.IdempotencyCleanupInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			t.Errorf("expected %s > 0, got %s", name, d)
		}
	}

	counts := map[string]int{
		"OutboxBatchSize":             cfg.OutboxBatchSize,
		"OutboxMaxAttempts":           cfg.OutboxMaxAttempts,
		"IdempotencyCleanupBatchSize": cfg.IdempotencyCleanupBatchSize,
	}
	for name, n := range counts {
		if n <= 0 {
			t.Errorf("expected %s > 0, got %d", name, n)
		}
	}

	if cfg.OutboxRetryDelay < 0 {
		t.Errorf("expected OutboxRetryDelay >= 0, got %s", cfg.OutboxRetryDelay)
	}
}

// Пустые топики в конфигурации означают использование дефолтных топиков
// пакета kafka, а не публикацию в топик с пустым именем.
func TestDefaultConfig_TopicsLeftToKafkaDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.OrderEventsTopic != "" {
		t.Errorf("expected empty OrderEventsTopic, got %s", cfg.OrderEventsTopic)
	}
	if cfg.NotificationsTopic != "" {
		t.Errorf("expected empty NotificationsTopic, got %s", cfg.NotificationsTopic)
	}
	if cfg.DLQTopic != "" {
		t.Errorf("expected empty DLQTopic, got %s", cfg.DLQTopic)
	}
}

func TestSplitBrokers(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"single", "localhost:9092", 1},
		{"multiple_with_spaces", "kafka-1:9092, kafka-2:9092 ,kafka-3:9092", 3},
		{"trailing_comma", "localhost:9092,", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitBrokers(tc.input)
			if len(got) != tc.want {
				t.Fatalf("expected %d brokers, got %d (%v)", tc.want, len(got), got)
			}
			for _, broker := range got {
				if broker == "" {
					t.Fatal("broker list contains empty entry")
				}
			}
		})
	}
}
