package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
	"github.com/avolkov/ticketchange/internal/service/quota"
	"github.com/avolkov/ticketchange/internal/storage/memory"
	"github.com/avolkov/ticketchange/internal/storage/postgres"
)

// Storages объединяет репозитории одного storage-драйвера.
// Close закрывает подключение к базе; для in-memory варианта это no-op.
type Storages struct {
	Orders      domain.OrderRepository
	Items       domain.ItemRepository
	Payments    domain.PaymentRepository
	Quotas      domain.QuotaService
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository

	store *postgres.Store
}

// Close освобождает ресурсы хранилища.
func (s *Storages) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Ping проверяет доступность хранилища; используется health check'ом.
func (s *Storages) Ping(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}

// initStorage создаёт репозитории по выбранному драйверу.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*Storages, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")

		items := memory.NewItemRepository()
		quotas := quota.NewService(logger.WithField("component", "quota"))
		if err := seedDemoCatalog(items, quotas, logger); err != nil {
			return nil, fmt.Errorf("seed demo catalog: %w", err)
		}

		return &Storages{
			Orders:      memory.NewOrderRepository(),
			Items:       items,
			Payments:    memory.NewPaymentRepository(),
			Quotas:      quotas,
			Outbox:      memory.NewOutboxRepository(),
			Timeline:    memory.NewTimelineRepository(),
			Idempotency: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}

		logger.Info("using postgres storage")
		return &Storages{
			Orders:      postgres.NewOrderRepository(store),
			Items:       postgres.NewItemRepository(store),
			Payments:    postgres.NewPaymentRepository(store),
			Quotas:      postgres.NewQuotaService(store),
			Outbox:      postgres.NewOutboxRepository(store),
			Timeline:    postgres.NewTimelineRepository(store),
			Idempotency: postgres.NewIdempotencyRepository(store),
			store:       store,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// seedDemoCatalog наполняет in-memory хранилище стартовым каталогом.
// Без него свежий инстанс не может разместить ни один заказ: в памяти нет
// ни товаров, ни квот. item-load использует cmd/loadtest.
func seedDemoCatalog(items domain.ItemRepository, quotas *quota.Service, logger *log.Entry) error {
	seed := []struct {
		item domain.Item
		size int64
	}{
		{domain.Item{ID: "item-standard", Name: "Standard ticket", DefaultPrice: decimal.RequireFromString("23.00"), Active: true}, 500},
		{domain.Item{ID: "item-vip", Name: "VIP ticket", DefaultPrice: decimal.RequireFromString("50.00"), Active: true}, 50},
		{domain.Item{ID: "item-load", Name: "Load test ticket", DefaultPrice: decimal.RequireFromString("25.00"), Active: true}, 100000},
	}

	for _, s := range seed {
		if err := items.Create(s.item); err != nil {
			return fmt.Errorf("create item %s: %w", s.item.ID, err)
		}
		quotas.Define(s.item.ID, "", s.size)
	}

	logger.WithField("items", len(seed)).Info("demo catalog seeded")
	return nil
}
