// Package checkout validates a cart, records the pending order and starts a
// gateway transaction for it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/money"
	"github.com/joao-fontenele/storefront/internal/paystack"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidItem        = errors.New("invalid cart item")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrAmountMismatch     = errors.New("amount does not match cart total")
	ErrAmountBelowMinimum = errors.New("amount is below the gateway minimum")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotPending    = errors.New("order is no longer pending")

	ErrOrderCreation         = errors.New("order creation failed")
	ErrPaymentInitialization = errors.New("payment initialization failed")
)

type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

type PaymentInitializer interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.Authorization, error)
}

type Options struct {
	Currency         string
	MinAmountMinor   int64
	CallbackURL      string
	PlaceholderEmail string
}

type Service struct {
	orders  OrderStore
	gateway PaymentInitializer
	opts    Options
	logger  *slog.Logger
}

func NewService(orders OrderStore, gateway PaymentInitializer, opts Options, logger *slog.Logger) *Service {
	return &Service{
		orders:  orders,
		gateway: gateway,
		opts:    opts,
		logger:  logger,
	}
}

// Result is what the browser needs to continue to the hosted payment page.
type Result struct {
	OrderID          string `json:"order_uuid"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// CreateOrder validates the cart and records a pending order.
func (s *Service) CreateOrder(ctx context.Context, req Request) (*domain.Order, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	return s.create(ctx, req)
}

// Initialize records or reuses the pending order, then asks the gateway for
// a payment page. Validation runs before any storage or gateway call, and
// the order is always stored before the gateway is contacted.
func (s *Service) Initialize(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	order, err := s.pendingOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	auth, err := s.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:       order.Customer.Email,
		Amount:      money.ToMinor(order.Amount),
		Currency:    s.opts.Currency,
		CallbackURL: s.opts.CallbackURL,
		Metadata:    paystack.Metadata{OrderID: order.ID},
	})
	if err != nil {
		var apiErr *paystack.APIError
		if errors.As(err, &apiErr) {
			s.logger.Error("gateway rejected initialize", "error", err, "order_id", order.ID, "status", apiErr.StatusCode, "gateway_message", apiErr.Message)
		} else {
			s.logger.Error("gateway initialize failed", "error", err, "order_id", order.ID)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitialization, err)
	}

	s.logger.Info("payment initialized", "order_id", order.ID, "reference", auth.Reference)

	return &Result{
		OrderID:          order.ID,
		AuthorizationURL: auth.AuthorizationURL,
		AccessCode:       auth.AccessCode,
		Reference:        auth.Reference,
	}, nil
}

func (s *Service) pendingOrder(ctx context.Context, req Request) (*domain.Order, error) {
	id := strings.TrimSpace(req.Metadata.OrderID)
	if id == "" {
		return s.create(ctx, req)
	}

	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to load pre-created order", "error", err, "order_id", id)
		return nil, fmt.Errorf("%w: load order %s: %v", ErrOrderCreation, id, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, id, order.Status)
	}
	if money.ToMinor(order.Amount) != money.ToMinor(req.Amount) {
		return nil, fmt.Errorf("%w: order %s is %s, request is %s", ErrAmountMismatch, id, order.Amount, req.Amount)
	}
	if !strings.Contains(order.Customer.Email, "@") {
		order.Customer.Email = s.sanitizeEmail(req.Email)
	}

	return order, nil
}

func (s *Service) create(ctx context.Context, req Request) (*domain.Order, error) {
	order := s.newOrder(req)
	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("failed to create pending order", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOrderCreation, err)
	}

	s.logger.Info("pending order created", "order_id", order.ID, "amount", order.Amount.String(), "items", len(order.Items))
	return order, nil
}

func (s *Service) validate(req Request) error {
	items := req.Metadata.CartItems
	if len(items) == 0 {
		return ErrEmptyCart
	}

	for i, item := range items {
		if strings.TrimSpace(string(item.ID)) == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidItem, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %s quantity %d", ErrInvalidItem, item.ID, item.Quantity)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("%w: item %s price %s", ErrInvalidItem, item.ID, item.Price)
		}
	}

	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	// Carts total in floating point, so compare whole minor units.
	total := cartTotal(items)
	if money.ToMinor(req.Amount) != money.ToMinor(total) {
		return fmt.Errorf("%w: amount %s, cart total %s", ErrAmountMismatch, req.Amount, total)
	}
	if minor := money.ToMinor(total); minor < s.opts.MinAmountMinor {
		return fmt.Errorf("%w: %d < %d minor units", ErrAmountBelowMinimum, minor, s.opts.MinAmountMinor)
	}

	return nil
}

func (s *Service) newOrder(req Request) *domain.Order {
	items := make([]domain.OrderItem, 0, len(req.Metadata.CartItems))
	for _, item := range req.Metadata.CartItems {
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(string(item.ID)),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.Price.Round(2),
		})
	}

	m := req.Metadata
	return &domain.Order{
		Customer: domain.CustomerDetails{
			Email:           s.sanitizeEmail(req.Email),
			FullName:        strings.TrimSpace(m.FullName),
			PhoneNumber:     strings.TrimSpace(m.PhoneNumber),
			DigitalAddress:  strings.TrimSpace(m.DigitalAddress),
			DeliveryAddress: strings.TrimSpace(m.DeliveryAddress),
		},
		Items:     items,
		Amount:    cartTotal(req.Metadata.CartItems),
		Currency:  s.opts.Currency,
		Status:    domain.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// cartTotal sums the line items at whole minor-unit prices.
func cartTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Round(2).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func (s *Service) sanitizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return s.opts.PlaceholderEmail
	}
	return email
}
