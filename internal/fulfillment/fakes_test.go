package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/notify"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/paystack"
)

const (
	testOrderID  = "7f1f6f4e-7d7c-4c1e-9d0b-2f5a3b7f9e11"
	testRef      = "ref-123"
	operatorAddr = "owner@example.com"
)

type fakeVerifier struct {
	txns  map[string]*paystack.Transaction
	err   error
	calls atomic.Int32
}

func (f *fakeVerifier) Verify(_ context.Context, reference string) (*paystack.Transaction, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	txn, ok := f.txns[reference]
	if !ok {
		return nil, &paystack.APIError{StatusCode: 400, Message: "Transaction reference not found"}
	}
	copied := *txn
	return &copied, nil
}

type fakeOrders struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	markErr error
	getErr  error
	marks   int
}

func (f *fakeOrders) MarkPaid(_ context.Context, id, reference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks++
	if f.markErr != nil {
		return false, f.markErr
	}
	order, ok := f.orders[id]
	if !ok {
		return false, fmt.Errorf("mark order %s paid: %w", id, orders.ErrOrderNotFound)
	}
	if order.Status != domain.OrderStatusPending {
		return false, nil
	}
	order.Status = domain.OrderStatusPaid
	order.Reference = reference
	return true, nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	order, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrders) status(id string) domain.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id].Status
}

type fakeStock struct {
	mu        sync.Mutex
	inventory map[string]int
	errs      map[string]error
	calls     int
}

func (f *fakeStock) Decrement(_ context.Context, productID string, quantity int) (*domain.StockLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[productID]; err != nil {
		return nil, err
	}
	before, ok := f.inventory[productID]
	if !ok {
		return nil, fmt.Errorf("decrement %s: %w", productID, catalog.ErrProductNotFound)
	}
	after := max(before-quantity, 0)
	f.inventory[productID] = after
	level := &domain.StockLevel{ProductID: productID, Inventory: after, IsSoldOut: before-quantity <= 0}
	if quantity > before {
		level.Shortfall = quantity - before
		return level, fmt.Errorf("decrement %s: %w", productID, catalog.ErrOversold)
	}
	return level, nil
}

func (f *fakeStock) level(productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inventory[productID]
}

type recordingSender struct {
	mu     sync.Mutex
	sent   []notify.Message
	failTo map[string]error
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failTo[msg.To]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.sent...)
}

func (s *recordingSender) to(addr string) []notify.Message {
	var out []notify.Message
	for _, m := range s.messages() {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	verifier *fakeVerifier
	orders   *fakeOrders
	stock    *fakeStock
	sender   *recordingSender
	pipeline *Pipeline
}

func newFixture() *fixture {
	paidAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		verifier: &fakeVerifier{txns: map[string]*paystack.Transaction{
			testRef: {
				Reference:     testRef,
				Status:        paystack.StatusSuccess,
				Amount:        20000,
				Currency:      "GHS",
				CustomerEmail: "ama@example.com",
				OrderID:       testOrderID,
				PaidAt:        &paidAt,
			},
		}},
		orders: &fakeOrders{orders: map[string]*domain.Order{
			testOrderID: {
				ID: testOrderID,
				Customer: domain.CustomerDetails{
					Email:           "ama@example.com",
					FullName:        "Ama Mensah",
					DeliveryAddress: "12 Oxford St, Osu",
				},
				Items: []domain.OrderItem{
					{ProductID: "kente-scarf", Name: "Kente Scarf", Quantity: 1, UnitPrice: decimal.RequireFromString("120")},
					{ProductID: "black-soap-500", Name: "African Black Soap", Quantity: 2, UnitPrice: decimal.RequireFromString("40")},
				},
				Amount:   decimal.RequireFromString("200"),
				Currency: "GHS",
				Status:   domain.OrderStatusPending,
			},
		}},
		stock:  &fakeStock{inventory: map[string]int{"kente-scarf": 10, "black-soap-500": 25}},
		sender: &recordingSender{},
	}

	pipeline, err := NewPipeline(f.verifier, f.orders, f.stock, notify.NewComposer(operatorAddr), f.sender, Options{
		VerifyTimeout:    time.Second,
		NotifyTimeout:    time.Second,
		InventoryWorkers: 4,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		panic(err)
	}
	f.pipeline = pipeline
	return f
}

var errBoom = errors.New("boom")
