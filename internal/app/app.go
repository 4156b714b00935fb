package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/avolkov/ticketchange/internal/health"
	"github.com/avolkov/ticketchange/internal/messaging/kafka"
	"github.com/avolkov/ticketchange/internal/service/change"
	"github.com/avolkov/ticketchange/internal/service/idempotency"
	"github.com/avolkov/ticketchange/internal/service/invoice"
	"github.com/avolkov/ticketchange/internal/service/notify"
	"github.com/avolkov/ticketchange/internal/service/outbox"
	transport "github.com/avolkov/ticketchange/internal/transport/http"
	"github.com/avolkov/ticketchange/internal/version"
)

// notifyDispatchGroup — consumer group диспетчера уведомлений.
const notifyDispatchGroup = "tcs-notify-dispatcher"

// Run собирает зависимости и запускает сервис: HTTP API, воркер outbox,
// чистку idempotency-ключей и сервер метрик. Блокируется до отмены ctx
// или фатальной ошибки HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	storages, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storages.Close(); err != nil {
			logger.WithError(err).Warn("close storage failed")
		}
	}()

	deps, err := NewDependencies(cfg, storages, logger)
	if err != nil {
		return err
	}
	defer closeKafka(deps.KafkaProducer, logger)

	// Фоновые воркеры.
	if deps.OutboxWorker != nil {
		go deps.OutboxWorker.Run(ctx)
	}
	go deps.CleanupWorker.Run(ctx)

	if deps.NotifyConsumer != nil {
		if err := deps.NotifyConsumer.Start(ctx); err != nil {
			logger.WithError(err).Warn("notification consumer failed to start")
		} else {
			defer func() {
				if err := deps.NotifyConsumer.Stop(); err != nil {
					logger.WithError(err).Warn("notification consumer stop failed")
				}
			}()
		}
	}

	// Health checks для сервера метрик.
	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterFunc("storage", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return storages.Ping(pingCtx)
	})

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- deps.HTTPServer.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.HTTPServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http shutdown with error")
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Dependencies объединяет собранные компоненты сервиса.
type Dependencies struct {
	Changes        *change.Service
	HTTPServer     *transport.Server
	KafkaProducer  *kafka.Producer
	OutboxWorker   *outbox.Worker
	CleanupWorker  *idempotency.CleanupWorker
	NotifyConsumer *kafka.Consumer
}

// NewDependencies собирает граф сервисов поверх выбранного хранилища.
func NewDependencies(cfg Config, storages *Storages, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	// Сервис работает и без брокера: события копятся в outbox.
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		producer = nil
	}

	return buildDependencies(cfg, storages, producer, logger)
}

func buildDependencies(cfg Config, storages *Storages, producer *kafka.Producer, logger *log.Entry) (*Dependencies, error) {
	cache := newOrderCache(cfg, logger)

	changeSvc := change.NewService(change.Deps{
		Orders:   storages.Orders,
		Items:    storages.Items,
		Payments: storages.Payments,
		Quotas:   storages.Quotas,
		Outbox:   storages.Outbox,
		Timeline: storages.Timeline,
		Notifier: newNotifier(producer, cfg, logger),
		Invoicer: invoice.NewLogInvoicer(logger.WithField("component", "invoicer")),
		Logger:   logger.WithField("component", "change"),
	})

	httpServer := transport.NewServer(transport.Deps{
		Changes:     changeSvc,
		Orders:      storages.Orders,
		Items:       storages.Items,
		Payments:    storages.Payments,
		Quotas:      storages.Quotas,
		Timeline:    storages.Timeline,
		Idempotency: storages.Idempotency,
		Cache:       cache,
		Logger:      logger.WithField("component", "http"),
	})

	var outboxWorker *outbox.Worker
	if producer != nil {
		publisher := kafka.NewOutboxPublisher(producer, cfg.OrderEventsTopic)
		dlq := kafka.NewOutboxPublisher(producer, cfg.DLQTopic)
		outboxWorker = outbox.NewWorker(storages.Outbox, publisher,
			outbox.WithDLQPublisher(dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		)
	}

	cleanupWorker := idempotency.NewCleanupWorker(storages.Idempotency,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
	)

	// Диспетчер уведомлений читает свой же топик: notifier публикует
	// события, consumer передаёт их в доставку.
	var notifyConsumer *kafka.Consumer
	if producer != nil {
		topic := cfg.NotificationsTopic
		if topic == "" {
			topic = kafka.TopicNotifications
		}
		consumer, err := kafka.NewConsumer(
			splitBrokers(cfg.KafkaBrokers),
			notifyDispatchGroup,
			[]string{topic},
			notify.NewDeliveryHandler(logger.WithField("component", "notify-dispatcher")),
			kafka.WithDeadLetter(producer),
			kafka.WithConsumerLogger(logger.WithField("component", "notify-consumer")),
		)
		if err != nil {
			logger.WithError(err).Warn("notification consumer unavailable, emails will not be dispatched")
		} else {
			notifyConsumer = consumer
		}
	}

	return &Dependencies{
		Changes:        changeSvc,
		HTTPServer:     httpServer,
		KafkaProducer:  producer,
		OutboxWorker:   outboxWorker,
		CleanupWorker:  cleanupWorker,
		NotifyConsumer: notifyConsumer,
	}, nil
}

// startMetricsServer запускает HTTP-обработчики /metrics и health probes.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.WithField("addr", addr).Info("metrics and health endpoints listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
