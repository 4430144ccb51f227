package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrReferenceConflict means the gateway reference is already attached to
	// a different order.
	ErrReferenceConflict = errors.New("reference already attached to another order")
)

const uniqueViolation = "23505"

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a pending order and its line-item snapshot in one
// transaction. It assigns the order id.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	order.Status = domain.OrderStatusPending
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	c := order.Customer
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, email, full_name, phone_number, digital_address, delivery_address,
			amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, order.ID, c.Email, c.FullName, c.PhoneNumber, c.DigitalAddress, c.DeliveryAddress,
		order.Amount, order.Currency, order.Status, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), order.ID, i, item.ProductID, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.ProductID, err)
		}
	}

	return tx.Commit()
}

// GetByID returns nil, nil when no order has the id. Ids that are not
// UUIDs never match.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	order := &domain.Order{}
	var reference sql.NullString
	var paidAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, phone_number, digital_address, delivery_address,
			amount, currency, reference, status, created_at, paid_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.Customer.Email, &order.Customer.FullName, &order.Customer.PhoneNumber,
		&order.Customer.DigitalAddress, &order.Customer.DeliveryAddress,
		&order.Amount, &order.Currency, &reference, &order.Status, &order.CreatedAt, &paidAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	order.Reference = reference.String
	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// Status is the cheap lookup behind the public status endpoint.
func (r *OrderRepository) Status(ctx context.Context, id string) (domain.OrderStatus, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrOrderNotFound
	}

	var status domain.OrderStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}

	return status, nil
}

// MarkPaid moves a pending order to paid and records the gateway reference
// in a single conditional statement. It reports true only for the call that
// performed the transition; a second call for the same order returns false
// without error. A missing order returns ErrOrderNotFound.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, reference string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, fmt.Errorf("mark order %q paid: %w", id, ErrOrderNotFound)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, reference = $2, paid_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, reference, domain.OrderStatusPaid, domain.OrderStatusPending)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, fmt.Errorf("mark order %s paid: %w", id, ErrReferenceConflict)
		}
		return false, fmt.Errorf("mark order %s paid: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if rowsAffected == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order %s: %w", id, err)
	}
	if !exists {
		return false, fmt.Errorf("mark order %s paid: %w", id, ErrOrderNotFound)
	}

	return false, nil
}
