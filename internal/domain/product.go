package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	Inventory   int             `json:"inventory"`
	IsSoldOut   bool            `json:"is_sold_out"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StockLevel is the result of a stock decrement. Shortfall is the part of
// the requested quantity that was not available.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Inventory int    `json:"inventory"`
	IsSoldOut bool   `json:"is_sold_out"`
	Shortfall int    `json:"shortfall"`
}
