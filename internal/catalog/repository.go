package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	ErrProductNotFound = errors.New("product not found")
	// ErrOversold is returned together with the resulting stock level when
	// fewer units were on hand than were sold.
	ErrOversold = errors.New("insufficient inventory")
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, price, image_url, inventory, is_sold_out, updated_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Inventory, &p.IsSoldOut, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

// GetByID returns nil, nil when the product does not exist.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	p := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, price, image_url, inventory, is_sold_out, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Inventory, &p.IsSoldOut, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

// Decrement removes quantity units of a sold product in one statement. The
// row lock taken by the CTE serializes concurrent sales of the same product,
// and inventory is clamped at zero. When stock ran short the level is still
// returned, with the missing units in Shortfall, alongside ErrOversold.
func (r *ProductRepository) Decrement(ctx context.Context, productID string, quantity int) (*domain.StockLevel, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("decrement %s: invalid quantity %d", productID, quantity)
	}

	level := &domain.StockLevel{}
	var before int

	err := r.db.QueryRowContext(ctx, `
		WITH locked AS (
			SELECT id, inventory FROM products WHERE id = $1 FOR UPDATE
		)
		UPDATE products p
		SET inventory = GREATEST(locked.inventory - $2, 0),
			is_sold_out = locked.inventory - $2 <= 0,
			updated_at = NOW()
		FROM locked
		WHERE p.id = locked.id
		RETURNING p.id, p.inventory, p.is_sold_out, locked.inventory
	`, productID, quantity).Scan(&level.ProductID, &level.Inventory, &level.IsSoldOut, &before)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("decrement %s: %w", productID, ErrProductNotFound)
		}
		return nil, fmt.Errorf("decrement %s: %w", productID, err)
	}

	if quantity > before {
		level.Shortfall = quantity - before
		return level, fmt.Errorf("decrement %s by %d with %d on hand: %w", productID, quantity, before, ErrOversold)
	}

	return level, nil
}
