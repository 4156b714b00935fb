package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/avolkov/ticketchange/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertOrderTx(ctx, tx, order); err != nil {
		return err
	}
	if err = insertPositionsTx(ctx, tx, order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		order     domain.Order
		status    string
		expiresAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, status, currency, total, version, created_at, expires_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.Email, &status, &order.Currency,
		&order.Total, &order.Version, &order.CreatedAt, &expiresAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	if expiresAt.Valid {
		order.ExpiresAt = expiresAt.Time.UTC()
	}

	positions, err := r.loadPositions(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Positions = positions

	return order, nil
}

func (r *orderRepository) ListByEmail(email string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, email, status, currency, total, version, created_at, expires_at, updated_at
		FROM orders
		WHERE email = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", email, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, email)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order     domain.Order
			status    string
			expiresAt sql.NullTime
		)
		if err := rows.Scan(
			&order.ID, &order.Email, &status, &order.Currency,
			&order.Total, &order.Version, &order.CreatedAt, &expiresAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		if expiresAt.Valid {
			order.ExpiresAt = expiresAt.Time.UTC()
		}

		positions, err := r.loadPositions(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order.Positions = positions
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = saveOrderTx(ctx, tx, order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}

	return nil
}

// SaveAll сохраняет несколько заказов в одной транзакции. Заказы с
// Version == 0, которых нет в базе, создаются; для остальных действует
// optimistic locking. Используется движком изменений для split.
func (r *orderRepository) SaveAll(orders []domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, order := range orders {
		var exists bool
		exists, err = orderExistsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}

		if !exists {
			if order.Version != 0 {
				err = domain.ErrOrderNotFound
				return err
			}
			if err = insertOrderTx(ctx, tx, order); err != nil {
				return err
			}
			if err = insertPositionsTx(ctx, tx, order); err != nil {
				return err
			}
			continue
		}

		if err = saveOrderTx(ctx, tx, order); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save orders: %w", err)
	}

	return nil
}

func insertOrderTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	var expiresAt interface{}
	if !order.ExpiresAt.IsZero() {
		expiresAt = order.ExpiresAt
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, email, status, currency, total, version, created_at, expires_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		order.ID, order.Email, string(order.Status), order.Currency,
		order.Total, order.Version, order.CreatedAt, expiresAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// saveOrderTx обновляет заказ с проверкой версии и перезаписывает позиции.
// Позиции хранятся как принадлежность заказу: split убирает их из списка
// исходного заказа и вставляет под новым.
func saveOrderTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	var expiresAt interface{}
	if !order.ExpiresAt.IsZero() {
		expiresAt = order.ExpiresAt
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET email = $1,
		    status = $2,
		    currency = $3,
		    total = $4,
		    version = version + 1,
		    expires_at = $5,
		    updated_at = $6
		WHERE id = $7
		  AND version = $8
	`,
		order.Email,
		string(order.Status),
		order.Currency,
		order.Total,
		expiresAt,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := orderExistsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_positions WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("delete order positions: %w", err)
	}
	return insertPositionsTx(ctx, tx, order)
}

func insertPositionsTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	for _, p := range order.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_positions (
				id, order_id, item_id, variation_id, price, canceled, attendee_name, created_at, canceled_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			p.ID, order.ID, p.ItemID, p.VariationID, p.Price,
			p.Canceled, p.AttendeeName, p.CreatedAt, p.CanceledAt,
		); err != nil {
			return fmt.Errorf("insert order position: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) loadPositions(ctx context.Context, orderID string) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, item_id, variation_id, price, canceled, attendee_name, created_at, canceled_at
		FROM order_positions
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order positions: %w", err)
	}
	defer rows.Close()

	positions := make([]domain.Position, 0)
	for rows.Next() {
		var (
			p          domain.Position
			canceledAt sql.NullTime
		)
		if err := rows.Scan(
			&p.ID, &p.OrderID, &p.ItemID, &p.VariationID, &p.Price,
			&p.Canceled, &p.AttendeeName, &p.CreatedAt, &canceledAt,
		); err != nil {
			return nil, fmt.Errorf("scan order position: %w", err)
		}
		if canceledAt.Valid {
			t := canceledAt.Time.UTC()
			p.CanceledAt = &t
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order positions: %w", err)
	}

	return positions, nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
