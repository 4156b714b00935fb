package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
)

type QuotaService struct {
	db     *sql.DB
	logger *log.Entry
}

// NewQuotaService создаёт PostgreSQL-реализацию QuotaService.
// Проверка ёмкости и применение дельт идут в одной транзакции с
// SELECT ... FOR UPDATE, поэтому два конкурентных резерва не могут
// одновременно занять один и тот же остаток.
func NewQuotaService(store *Store) *QuotaService {
	return &QuotaService{
		db:     store.DB(),
		logger: log.WithField("component", "quota-postgres"),
	}
}

// Define задаёт ёмкость квоты, сохраняя текущее потребление.
func (s *QuotaService) Define(itemID, variationID string, size int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO quotas (item_id, variation_id, size, used)
		VALUES ($1,$2,$3,0)
		ON CONFLICT (item_id, variation_id) DO UPDATE SET size = EXCLUDED.size
	`, itemID, variationID, size); err != nil {
		return fmt.Errorf("define quota: %w", err)
	}
	return nil
}

func (s *QuotaService) Available(itemID, variationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var size, used int64
	err := s.db.QueryRowContext(ctx, `
		SELECT size, used
		FROM quotas
		WHERE item_id = $1 AND variation_id = $2
	`, itemID, variationID).Scan(&size, &used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("item %s variation %q: %w", itemID, variationID, domain.ErrQuotaNotFound)
		}
		return 0, fmt.Errorf("select quota: %w", err)
	}

	left := size - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

func (s *QuotaService) Reserve(orderID string, deltas []domain.QuotaDelta) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quota tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Сначала блокируем и проверяем все строки, потом применяем.
	for _, d := range deltas {
		if d.Delta <= 0 {
			continue
		}

		var size, used int64
		err = tx.QueryRowContext(ctx, `
			SELECT size, used
			FROM quotas
			WHERE item_id = $1 AND variation_id = $2
			FOR UPDATE
		`, d.ItemID, d.VariationID).Scan(&size, &used)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = fmt.Errorf("item %s variation %q: %w", d.ItemID, d.VariationID, domain.ErrQuotaNotFound)
			} else {
				err = fmt.Errorf("lock quota row: %w", err)
			}
			return err
		}
		if used+d.Delta > size {
			err = fmt.Errorf("item %s variation %q: %w", d.ItemID, d.VariationID, domain.ErrQuotaExceeded)
			return err
		}
	}

	for _, d := range deltas {
		if d.Delta <= 0 {
			continue
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE quotas
			SET used = used + $3
			WHERE item_id = $1 AND variation_id = $2
		`, d.ItemID, d.VariationID, d.Delta); err != nil {
			err = fmt.Errorf("apply quota delta: %w", err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit quota reserve: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"deltas":   len(deltas),
	}).Debug("quota reserved")
	return nil
}

func (s *QuotaService) Release(orderID string, deltas []domain.QuotaDelta) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	for _, d := range deltas {
		res, err := s.db.ExecContext(ctx, `
			UPDATE quotas
			SET used = GREATEST(used - $3, 0)
			WHERE item_id = $1 AND variation_id = $2
		`, d.ItemID, d.VariationID, d.Delta)
		if err != nil {
			return fmt.Errorf("release quota: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("release rows affected: %w", err)
		}
		if affected == 0 {
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"item_id":  d.ItemID,
			}).Warn("release for unknown quota skipped")
		}
	}
	return nil
}

var _ domain.QuotaService = (*QuotaService)(nil)
