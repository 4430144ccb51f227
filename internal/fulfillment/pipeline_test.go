package fulfillment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/notify"
	"github.com/joao-fontenele/storefront/internal/paystack"
)

func TestPipeline_Reconcile_HappyPath(t *testing.T) {
	f := newFixture()

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !outcome.Confirmed || !outcome.Transitioned || outcome.AlreadyProcessed {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if len(outcome.Alerts) != 0 {
		t.Errorf("expected no alerts, got %v", outcome.Alerts)
	}
	if got := f.orders.status(testOrderID); got != domain.OrderStatusPaid {
		t.Errorf("expected order paid, got %s", got)
	}
	if got := f.stock.level("kente-scarf"); got != 9 {
		t.Errorf("expected kente-scarf inventory 9, got %d", got)
	}
	if got := f.stock.level("black-soap-500"); got != 23 {
		t.Errorf("expected black-soap-500 inventory 23, got %d", got)
	}

	customer := f.sender.to("ama@example.com")
	operator := f.sender.to(operatorAddr)
	if len(customer) != 1 || len(operator) != 1 {
		t.Fatalf("expected one customer and one operator email, got %d and %d", len(customer), len(operator))
	}
	if customer[0].Subject != "Your Order Confirmation #"+testRef {
		t.Errorf("unexpected customer subject: %s", customer[0].Subject)
	}
	if !strings.Contains(customer[0].HTML, "Kente Scarf") {
		t.Error("expected customer email to list items")
	}
	if strings.Contains(operator[0].Subject, notify.FailureMarker) {
		t.Errorf("unexpected marker in clean operator email: %s", operator[0].Subject)
	}
}

func TestPipeline_Reconcile_Duplicate(t *testing.T) {
	f := newFixture()

	if _, err := f.pipeline.Reconcile(context.Background(), testRef); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if !outcome.AlreadyProcessed || outcome.Transitioned || !outcome.Confirmed {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if f.stock.calls != 2 {
		t.Errorf("expected stock to be decremented once per item, got %d calls", f.stock.calls)
	}
	if got := len(f.sender.messages()); got != 2 {
		t.Errorf("expected 2 emails in total, got %d", got)
	}
}

func TestPipeline_Reconcile_Concurrent(t *testing.T) {
	f := newFixture()

	const callers = 16
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
		duplicates  int
		unexpected  []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				unexpected = append(unexpected, err)
			case outcome.Transitioned:
				transitions++
			case outcome.AlreadyProcessed:
				duplicates++
			}
		}()
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if transitions != 1 || duplicates != callers-1 {
		t.Errorf("expected 1 transition and %d duplicates, got %d and %d", callers-1, transitions, duplicates)
	}
	if got := f.stock.level("kente-scarf"); got != 9 {
		t.Errorf("expected a single decrement, inventory is %d", got)
	}
	if got := len(f.sender.messages()); got != 2 {
		t.Errorf("expected 2 emails, got %d", got)
	}
}

func TestPipeline_Reconcile_MissingReference(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline.Reconcile(context.Background(), "  ")
	if !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
	if f.verifier.calls.Load() != 0 {
		t.Errorf("expected no gateway call, got %d", f.verifier.calls.Load())
	}
	if f.orders.marks != 0 || len(f.sender.messages()) != 0 {
		t.Error("expected no side effects")
	}
}

func TestPipeline_Reconcile_VerificationFailure(t *testing.T) {
	t.Run("gateway error", func(t *testing.T) {
		f := newFixture()
		f.verifier.err = errBoom

		_, err := f.pipeline.Reconcile(context.Background(), testRef)
		if !errors.Is(err, ErrVerificationFailed) || !errors.Is(err, errBoom) {
			t.Fatalf("expected wrapped ErrVerificationFailed, got %v", err)
		}
		assertUntouched(t, f)
	})

	t.Run("unsuccessful transaction", func(t *testing.T) {
		f := newFixture()
		f.verifier.txns[testRef].Status = "abandoned"

		_, err := f.pipeline.Reconcile(context.Background(), testRef)
		if !errors.Is(err, ErrVerificationFailed) {
			t.Fatalf("expected ErrVerificationFailed, got %v", err)
		}
		assertUntouched(t, f)
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := newFixture()

		_, err := f.pipeline.Reconcile(context.Background(), "forged-ref")
		var apiErr *paystack.APIError
		if !errors.Is(err, ErrVerificationFailed) || !errors.As(err, &apiErr) {
			t.Fatalf("expected ErrVerificationFailed wrapping APIError, got %v", err)
		}
		assertUntouched(t, f)
	})
}

func assertUntouched(t *testing.T, f *fixture) {
	t.Helper()
	if f.orders.marks != 0 {
		t.Errorf("expected no order update, got %d", f.orders.marks)
	}
	if f.orders.status(testOrderID) != domain.OrderStatusPending {
		t.Error("expected order to stay pending")
	}
	if f.stock.calls != 0 {
		t.Errorf("expected no stock change, got %d calls", f.stock.calls)
	}
	if n := len(f.sender.messages()); n != 0 {
		t.Errorf("expected no emails, got %d", n)
	}
}

func TestPipeline_Reconcile_MissingOrderLinkage(t *testing.T) {
	f := newFixture()
	f.verifier.txns[testRef].OrderID = ""

	_, err := f.pipeline.Reconcile(context.Background(), testRef)
	if !errors.Is(err, ErrMissingOrderLinkage) {
		t.Fatalf("expected ErrMissingOrderLinkage, got %v", err)
	}
	if f.orders.marks != 0 {
		t.Error("expected no order update")
	}

	operator := f.sender.to(operatorAddr)
	if len(operator) != 1 {
		t.Fatalf("expected an operator alert, got %d", len(operator))
	}
	if !strings.Contains(operator[0].HTML, testRef) {
		t.Error("expected alert to carry the reference")
	}
	if n := len(f.sender.to("ama@example.com")); n != 0 {
		t.Errorf("expected no customer email, got %d", n)
	}
}

func TestPipeline_Reconcile_UnreadableMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":true,"message":"Verification successful","data":{
			"reference":"ref-num","status":"success","amount":20000,"currency":"GHS","metadata":0}}`)
	}))
	defer server.Close()

	f := newFixture()
	pipeline, err := NewPipeline(paystack.NewClient(server.URL, "sk_test", server.Client()), f.orders, f.stock,
		notify.NewComposer(operatorAddr), f.sender, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	_, err = pipeline.Reconcile(context.Background(), "ref-num")
	if !errors.Is(err, ErrMissingOrderLinkage) {
		t.Fatalf("expected ErrMissingOrderLinkage, got %v", err)
	}
	if errors.Is(err, ErrVerificationFailed) {
		t.Error("a successful payment must not be reported as a verification failure")
	}

	operator := f.sender.to(operatorAddr)
	if len(operator) != 1 {
		t.Fatalf("expected one operator alert, got %d", len(operator))
	}
	if !strings.Contains(operator[0].HTML, "ref-num") || !strings.Contains(operator[0].HTML, "could not be read") {
		t.Error("expected operator alert to carry the reference and the unreadable metadata")
	}
	if f.orders.marks != 0 {
		t.Errorf("expected no order mutation, got %d", f.orders.marks)
	}
}

func TestPipeline_Reconcile_StorageFailure(t *testing.T) {
	f := newFixture()
	f.orders.markErr = errors.New("connection reset by peer")

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("bookkeeping failures must not be returned, got %v", err)
	}
	if !outcome.Confirmed || outcome.Transitioned {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if len(outcome.Alerts) == 0 {
		t.Fatal("expected an alert")
	}
	if f.stock.calls != 0 {
		t.Error("expected stock untouched when the transition is unknown")
	}

	customer := f.sender.to("ama@example.com")
	operator := f.sender.to(operatorAddr)
	if len(customer) != 1 || len(operator) != 1 {
		t.Fatalf("expected both emails, got %d customer and %d operator", len(customer), len(operator))
	}
	if strings.Contains(customer[0].Subject, notify.FailureMarker) || strings.Contains(customer[0].HTML, notify.FailureMarker) {
		t.Error("customer copy must not carry the marker")
	}
	if !strings.Contains(operator[0].Subject, notify.FailureMarker) || !strings.Contains(operator[0].HTML, notify.FailureMarker) {
		t.Error("operator copy must carry the marker")
	}
}

func TestPipeline_Reconcile_OrderMissingFromStore(t *testing.T) {
	f := newFixture()
	f.verifier.txns[testRef].OrderID = "00000000-0000-0000-0000-000000000000"

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.Alerts) != 1 || outcome.AlreadyProcessed {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	operator := f.sender.to(operatorAddr)
	if len(operator) != 1 || !strings.Contains(operator[0].Subject, notify.FailureMarker) {
		t.Error("expected flagged operator email")
	}
}

func TestPipeline_Reconcile_ReadBackFailure(t *testing.T) {
	f := newFixture()
	f.orders.getErr = errBoom

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Transitioned || len(outcome.Alerts) != 1 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}

	customer := f.sender.to("ama@example.com")
	if len(customer) != 1 {
		t.Fatalf("expected customer email from gateway data, got %d", len(customer))
	}
	if !strings.Contains(customer[0].HTML, "200.00") {
		t.Error("expected gateway amount in fallback receipt")
	}
}

func TestPipeline_Reconcile_NotificationFailure(t *testing.T) {
	f := newFixture()
	f.sender.failTo = map[string]error{"ama@example.com": errors.New("mailbox unavailable")}

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("notification errors must not fail reconciliation, got %v", err)
	}
	if !outcome.Transitioned {
		t.Error("expected transition")
	}
	if n := len(f.sender.to(operatorAddr)); n != 1 {
		t.Errorf("expected operator email despite customer failure, got %d", n)
	}
}

func TestPipeline_Reconcile_InventoryFailureIsolated(t *testing.T) {
	f := newFixture()
	f.stock.errs = map[string]error{"kente-scarf": errBoom}

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.stock.level("black-soap-500"); got != 23 {
		t.Errorf("expected other item to be decremented, got %d", got)
	}
	if len(outcome.Alerts) != 1 || !strings.Contains(outcome.Alerts[0], "kente-scarf") {
		t.Errorf("unexpected alerts: %v", outcome.Alerts)
	}
	if !outcome.StorageFailure {
		t.Error("expected a failed decrement to count as a storage failure")
	}
	if subject := operatorSubject(t, f); !strings.Contains(subject, notify.FailureMarker) {
		t.Errorf("expected storage marker, got %s", subject)
	}
	if f.orders.status(testOrderID) != domain.OrderStatusPaid {
		t.Error("order must stay paid")
	}
	if n := len(f.sender.to("ama@example.com")); n != 1 {
		t.Errorf("expected customer email, got %d", n)
	}
}

func TestPipeline_Reconcile_Oversold(t *testing.T) {
	f := newFixture()
	f.stock.inventory["black-soap-500"] = 1

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.stock.level("black-soap-500"); got != 0 {
		t.Errorf("expected inventory clamped at 0, got %d", got)
	}
	if len(outcome.Alerts) != 1 || !strings.HasPrefix(outcome.Alerts[0], "OVERSOLD") {
		t.Errorf("unexpected alerts: %v", outcome.Alerts)
	}
	assertReviewOnly(t, f, outcome)
}

func TestPipeline_Reconcile_AmountMismatch(t *testing.T) {
	f := newFixture()
	f.verifier.txns[testRef].Amount = 100

	outcome, err := f.pipeline.Reconcile(context.Background(), testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Transitioned {
		t.Error("order must still be marked paid")
	}
	if len(outcome.Alerts) != 1 || !strings.Contains(outcome.Alerts[0], "AMOUNT MISMATCH") {
		t.Errorf("unexpected alerts: %v", outcome.Alerts)
	}
	assertReviewOnly(t, f, outcome)
}

func operatorSubject(t *testing.T, f *fixture) string {
	t.Helper()
	operator := f.sender.to(operatorAddr)
	if len(operator) != 1 {
		t.Fatalf("expected one operator email, got %d", len(operator))
	}
	return operator[0].Subject
}

// assertReviewOnly checks that an alert with a healthy store asks for a
// manual check without claiming a database failure.
func assertReviewOnly(t *testing.T, f *fixture, outcome *Outcome) {
	t.Helper()
	if outcome.StorageFailure {
		t.Error("expected no storage failure")
	}
	subject := operatorSubject(t, f)
	if !strings.HasPrefix(subject, "["+notify.ReviewMarker+"]") {
		t.Errorf("expected review marker, got %s", subject)
	}
	if strings.Contains(subject, notify.FailureMarker) {
		t.Errorf("expected no storage marker, got %s", subject)
	}
}

func TestPipeline_Reconcile_SurvivesCallerCancellation(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.pipeline.verifier = cancellingVerifier{inner: f.verifier, cancel: cancel}

	outcome, err := f.pipeline.Reconcile(ctx, testRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Transitioned {
		t.Error("expected transition after caller cancelled")
	}
	if n := len(f.sender.messages()); n != 2 {
		t.Errorf("expected both emails, got %d", n)
	}
}

// cancellingVerifier cancels the caller's context right after a successful
// verification, like a browser closing during the callback.
type cancellingVerifier struct {
	inner  Verifier
	cancel context.CancelFunc
}

func (v cancellingVerifier) Verify(ctx context.Context, reference string) (*paystack.Transaction, error) {
	txn, err := v.inner.Verify(ctx, reference)
	v.cancel()
	return txn, err
}
