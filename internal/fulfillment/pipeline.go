// Package fulfillment turns a gateway payment reference into a paid order:
// it verifies the transaction, performs the one-time pending to paid
// transition, adjusts stock and sends the confirmation emails.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/money"
	"github.com/joao-fontenele/storefront/internal/notify"
	"github.com/joao-fontenele/storefront/internal/paystack"
)

var tracer = otel.Tracer("fulfillment")

var (
	ErrMissingReference    = errors.New("missing payment reference")
	ErrVerificationFailed  = errors.New("payment verification failed")
	ErrMissingOrderLinkage = errors.New("verified payment carries no order id")
)

type Verifier interface {
	Verify(ctx context.Context, reference string) (*paystack.Transaction, error)
}

type OrderStore interface {
	MarkPaid(ctx context.Context, id, reference string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

type StockAdjuster interface {
	Decrement(ctx context.Context, productID string, quantity int) (*domain.StockLevel, error)
}

const (
	defaultVerifyTimeout = 15 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

type Options struct {
	VerifyTimeout    time.Duration
	NotifyTimeout    time.Duration
	InventoryWorkers int
}

type Pipeline struct {
	verifier Verifier
	orders   OrderStore
	stock    StockAdjuster
	composer *notify.Composer
	sender   notify.Sender
	opts     Options
	logger   *slog.Logger
	metrics  *metrics
}

func NewPipeline(verifier Verifier, orders OrderStore, stock StockAdjuster, composer *notify.Composer, sender notify.Sender, opts Options, logger *slog.Logger) (*Pipeline, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("create fulfillment metrics: %w", err)
	}

	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = defaultVerifyTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if opts.InventoryWorkers < 1 {
		opts.InventoryWorkers = 1
	}

	return &Pipeline{
		verifier: verifier,
		orders:   orders,
		stock:    stock,
		composer: composer,
		sender:   sender,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Outcome describes what one reconciliation did. Confirmed means the gateway
// verified the payment; Transitioned is true only for the invocation that
// moved the order to paid. Alerts lists bookkeeping problems that were
// reported to the operator instead of being returned as errors, and
// StorageFailure is set when one of them came from the order or stock store.
type Outcome struct {
	Reference        string
	OrderID          string
	Confirmed        bool
	Transitioned     bool
	AlreadyProcessed bool
	Alerts           []string
	StorageFailure   bool
}

// Reconcile is safe to call any number of times for the same reference,
// concurrently or not; only one call performs the transition, the stock
// adjustment and the notifications. The returned error is one of
// ErrMissingReference, ErrVerificationFailed or ErrMissingOrderLinkage.
func (p *Pipeline) Reconcile(ctx context.Context, reference string) (*Outcome, error) {
	reference = strings.TrimSpace(reference)

	ctx, span := tracer.Start(ctx, "fulfillment.reconcile",
		trace.WithAttributes(attribute.String("payment.reference", reference)),
	)
	defer span.End()

	if reference == "" {
		p.metrics.record(ctx, outcomeMissingReference)
		span.SetStatus(codes.Error, ErrMissingReference.Error())
		return nil, ErrMissingReference
	}

	txn, err := p.verify(ctx, reference)
	if err != nil {
		p.logger.Warn("payment not verified", "error", err, "reference", reference)
		p.metrics.record(ctx, outcomeVerificationFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		return nil, err
	}

	// The payment is real from here on. Finish the bookkeeping even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	outcome := &Outcome{Reference: reference, OrderID: txn.OrderID, Confirmed: true}
	span.SetAttributes(attribute.String("order.id", txn.OrderID))

	if txn.OrderID == "" {
		outcome.alert("payment %s of %s succeeded but carries no order id; match it to an order manually",
			reference, money.Format(txn.Currency, money.FromMinor(txn.Amount)))
		if txn.UnreadableMetadata != "" {
			outcome.alert("gateway metadata for %s could not be read: %s", reference, txn.UnreadableMetadata)
		}
		p.logger.Error("verified payment without order id", "reference", reference, "amount_minor", txn.Amount,
			"unreadable_metadata", txn.UnreadableMetadata)
		p.notifyOperator(ctx, transactionReceipt(txn), outcome)
		p.metrics.record(ctx, outcomeUnlinked)
		span.SetStatus(codes.Error, ErrMissingOrderLinkage.Error())
		return nil, ErrMissingOrderLinkage
	}

	transitioned, err := p.orders.MarkPaid(ctx, txn.OrderID, reference)
	if err != nil {
		outcome.storageAlert("marking order %s paid failed: %v", txn.OrderID, err)
		p.logger.Error("failed to mark order paid", "error", err, "order_id", txn.OrderID, "reference", reference)
		span.RecordError(err)
	} else if !transitioned {
		outcome.AlreadyProcessed = true
		p.logger.Info("payment already reconciled", "order_id", txn.OrderID, "reference", reference)
		p.metrics.record(ctx, outcomeDuplicate)
		return outcome, nil
	}
	outcome.Transitioned = transitioned

	receipt := transactionReceipt(txn)
	if transitioned {
		p.logger.Info("order marked paid", "order_id", txn.OrderID, "reference", reference)
		receipt = p.settle(ctx, txn, outcome)
	}

	p.notifyCustomer(ctx, receipt)
	p.notifyOperator(ctx, receipt, outcome)

	if len(outcome.Alerts) > 0 {
		p.metrics.record(ctx, outcomeBookkeepingFailed)
		span.SetStatus(codes.Error, "bookkeeping incomplete")
	} else {
		p.metrics.record(ctx, outcomePaid)
	}

	return outcome, nil
}

func (p *Pipeline) verify(ctx context.Context, reference string) (*paystack.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.VerifyTimeout)
	defer cancel()

	txn, err := p.verifier.Verify(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	if !txn.Succeeded() {
		return nil, fmt.Errorf("%w: transaction %s has status %q", ErrVerificationFailed, reference, txn.Status)
	}

	return txn, nil
}

// settle runs the steps that follow a fresh transition and returns the
// receipt to send. Failures become alerts.
func (p *Pipeline) settle(ctx context.Context, txn *paystack.Transaction, outcome *Outcome) notify.Receipt {
	order, err := p.orders.GetByID(ctx, txn.OrderID)
	if err == nil && order == nil {
		err = errors.New("order vanished after update")
	}
	if err != nil {
		outcome.storageAlert("reading order %s after payment failed, stock was not adjusted: %v", txn.OrderID, err)
		p.logger.Error("failed to read back paid order", "error", err, "order_id", txn.OrderID)
		return transactionReceipt(txn)
	}

	alerts, storageFailure := p.adjustInventory(ctx, order)
	outcome.Alerts = append(outcome.Alerts, alerts...)
	outcome.StorageFailure = outcome.StorageFailure || storageFailure

	if paid := money.ToMinor(order.Amount); paid != txn.Amount {
		outcome.alert("AMOUNT MISMATCH: order %s expects %s but gateway captured %s",
			order.ID, money.Format(order.Currency, order.Amount), money.Format(txn.Currency, money.FromMinor(txn.Amount)))
		p.logger.Error("paid amount differs from order amount", "order_id", order.ID, "expected_minor", paid, "captured_minor", txn.Amount)
	}

	receipt := notify.ReceiptFromOrder(order, txn.Reference)
	if !strings.Contains(receipt.Customer.Email, "@") {
		receipt.Customer.Email = txn.CustomerEmail
	}
	return receipt
}

// transactionReceipt is the fallback receipt built from gateway data alone.
func transactionReceipt(txn *paystack.Transaction) notify.Receipt {
	return notify.Receipt{
		Reference: txn.Reference,
		OrderID:   txn.OrderID,
		Customer:  domain.CustomerDetails{Email: txn.CustomerEmail},
		Total:     money.FromMinor(txn.Amount),
		Currency:  txn.Currency,
	}
}

func (p *Pipeline) notifyCustomer(ctx context.Context, receipt notify.Receipt) {
	if !strings.Contains(receipt.Customer.Email, "@") {
		p.logger.Warn("no customer address for confirmation", "reference", receipt.Reference, "order_id", receipt.OrderID)
		return
	}

	msg, err := p.composer.Customer(receipt)
	if err != nil {
		p.logger.Error("failed to compose customer email", "error", err, "reference", receipt.Reference)
		return
	}
	p.send(ctx, msg, "customer", receipt.Reference)
}

func (p *Pipeline) notifyOperator(ctx context.Context, receipt notify.Receipt, outcome *Outcome) {
	msg, err := p.composer.Operator(receipt, outcome.Alerts, outcome.StorageFailure)
	if err != nil {
		p.logger.Error("failed to compose operator email", "error", err, "reference", receipt.Reference)
		return
	}
	p.send(ctx, msg, "operator", receipt.Reference)
}

func (p *Pipeline) send(ctx context.Context, msg notify.Message, audience, reference string) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.NotifyTimeout)
	defer cancel()

	if err := p.sender.Send(ctx, msg); err != nil {
		p.logger.Error("failed to send email", "error", err, "audience", audience, "reference", reference)
		return
	}
	p.logger.Info("email sent", "audience", audience, "reference", reference)
}

func (o *Outcome) alert(format string, args ...any) {
	o.Alerts = append(o.Alerts, fmt.Sprintf(format, args...))
}

func (o *Outcome) storageAlert(format string, args ...any) {
	o.StorageFailure = true
	o.alert(format, args...)
}
