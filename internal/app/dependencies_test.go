package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestBuildDependencies_WithoutKafka(t *testing.T) {
	cfg := DefaultConfig()
	logger := log.New().WithField("component", "test")

	storages, err := initStorage(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initStorage failed: %v", err)
	}

	deps, err := buildDependencies(cfg, storages, nil, logger)
	if err != nil {
		t.Fatalf("buildDependencies failed: %v", err)
	}

	if deps.Changes == nil {
		t.Fatal("expected change service to be initialized")
	}
	if deps.HTTPServer == nil {
		t.Fatal("expected http server to be initialized")
	}
	if deps.CleanupWorker == nil {
		t.Fatal("expected idempotency cleanup worker to be initialized")
	}
	// Без брокера outbox-воркер не запускается: события копятся в хранилище.
	if deps.OutboxWorker != nil {
		t.Fatal("expected no outbox worker without kafka producer")
	}
	if deps.KafkaProducer != nil {
		t.Fatal("expected no kafka producer")
	}
	if deps.NotifyConsumer != nil {
		t.Fatal("expected no notification consumer without kafka producer")
	}
}

func TestNewOrderCache_DisabledWithoutAddr(t *testing.T) {
	cfg := DefaultConfig()
	cache := newOrderCache(cfg, log.New().WithField("component", "test"))
	if cache.Enabled() {
		t.Fatal("cache must stay disabled without redis address")
	}
}

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer("", log.New().WithField("component", "test"))
	if err != nil {
		t.Fatalf("empty brokers must not be an error: %v", err)
	}
	if producer != nil {
		t.Fatal("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_UnreachableBroker(t *testing.T) {
	producer, err := initKafkaProducer("localhost:1", log.New().WithField("component", "test"))
	if err == nil {
		t.Skip("unexpectedly connected to localhost:1")
	}
	if producer != nil {
		t.Fatal("expected nil producer on connection failure")
	}
}
