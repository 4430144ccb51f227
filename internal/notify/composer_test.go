package notify

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

func testReceipt() Receipt {
	order := &domain.Order{
		ID: "7f1f6f4e-7d7c-4c1e-9d0b-2f5a3b7f9e11",
		Customer: domain.CustomerDetails{
			Email:           "ama@example.com",
			FullName:        "Ama Mensah",
			PhoneNumber:     "0241234567",
			DigitalAddress:  "GA-123-4567",
			DeliveryAddress: "12 Oxford St, Osu",
		},
		Items: []domain.OrderItem{
			{ProductID: "kente-scarf", Name: "Kente Scarf", Quantity: 1, UnitPrice: decimal.RequireFromString("120")},
			{ProductID: "black-soap-500", Name: "African Black Soap", Quantity: 2, UnitPrice: decimal.RequireFromString("40")},
		},
		Amount:   decimal.RequireFromString("200"),
		Currency: "GHS",
	}
	return ReceiptFromOrder(order, "ref-123")
}

func TestComposer_Customer(t *testing.T) {
	c := NewComposer("owner@example.com")

	msg, err := c.Customer(testReceipt())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.To != "ama@example.com" {
		t.Errorf("expected customer recipient, got %s", msg.To)
	}
	if msg.Subject != "Your Order Confirmation #ref-123" {
		t.Errorf("unexpected subject: %s", msg.Subject)
	}
	for _, want := range []string{"Kente Scarf", "120.00", "40.00", "GHS 200.00", "ref-123", "12 Oxford St, Osu", "GA-123-4567"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("expected body to contain %q", want)
		}
	}
	if strings.Contains(msg.HTML, FailureMarker) {
		t.Error("customer copy must not carry the failure marker")
	}
}

func TestComposer_CustomerWithoutRecipient(t *testing.T) {
	r := testReceipt()
	r.Customer.Email = ""

	if _, err := NewComposer("owner@example.com").Customer(r); err == nil {
		t.Error("expected error without recipient")
	}
}

func TestComposer_Operator(t *testing.T) {
	c := NewComposer("owner@example.com")

	t.Run("clean order", func(t *testing.T) {
		msg, err := c.Operator(testReceipt(), nil, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.To != "owner@example.com" {
			t.Errorf("expected operator recipient, got %s", msg.To)
		}
		if msg.Subject != "NEW ORDER RECEIVED: #ref-123 - GHS 200.00" {
			t.Errorf("unexpected subject: %s", msg.Subject)
		}
		if strings.Contains(msg.HTML, FailureMarker) {
			t.Error("expected no marker without alerts")
		}
	})

	t.Run("storage alerts add the failure marker and banner", func(t *testing.T) {
		alerts := []string{"mark order paid: connection reset"}
		msg, err := c.Operator(testReceipt(), alerts, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(msg.Subject, "["+FailureMarker+"]") {
			t.Errorf("expected marker in subject, got %s", msg.Subject)
		}
		if !strings.Contains(msg.HTML, FailureMarker) {
			t.Error("expected marker in body")
		}
		if !strings.Contains(msg.HTML, "connection reset") {
			t.Error("expected alert text in body")
		}
	})

	t.Run("other alerts ask for review without blaming storage", func(t *testing.T) {
		alerts := []string{"OVERSOLD: Kente Scarf (kente-scarf) short by 1 for order order-1"}
		msg, err := c.Operator(testReceipt(), alerts, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(msg.Subject, "["+ReviewMarker+"]") {
			t.Errorf("expected review marker in subject, got %s", msg.Subject)
		}
		if strings.Contains(msg.Subject, FailureMarker) || strings.Contains(msg.HTML, FailureMarker) {
			t.Error("expected no storage failure marker")
		}
		if !strings.Contains(msg.HTML, "OVERSOLD") {
			t.Error("expected alert text in body")
		}
	})

	t.Run("receipt without items", func(t *testing.T) {
		r := Receipt{Reference: "ref-9", Total: decimal.RequireFromString("12.5"), Currency: "GHS"}
		msg, err := c.Operator(r, []string{"order read-back failed"}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(msg.HTML, "Item details unavailable") {
			t.Error("expected placeholder row")
		}
		if !strings.Contains(msg.Subject, "GHS 12.50") {
			t.Errorf("unexpected subject: %s", msg.Subject)
		}
	})

	t.Run("customer input is escaped", func(t *testing.T) {
		r := testReceipt()
		r.Customer.DeliveryAddress = "<script>alert(1)</script>"
		msg, err := c.Operator(r, nil, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(msg.HTML, "<script>") {
			t.Error("expected delivery address to be escaped")
		}
	})
}

func TestFormatPrice(t *testing.T) {
	d := decimal.RequireFromString("7.5")

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"decimal", d, "7.50"},
		{"pointer", &d, "7.50"},
		{"nil pointer", (*decimal.Decimal)(nil), "0.00"},
		{"null decimal", decimal.NullDecimal{}, "0.00"},
		{"numeric string", " 19.999 ", "20.00"},
		{"malformed string", "abc", "0.00"},
		{"int", 3, "3.00"},
		{"nil", nil, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatPrice(tt.in); got != tt.want {
				t.Errorf("formatPrice(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestComposer_MissingPriceRendersZero(t *testing.T) {
	r := testReceipt()
	r.Items = []Line{{Name: "Mystery Item", Quantity: 1}}

	msg, err := NewComposer("owner@example.com").Customer(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(msg.HTML, "Mystery Item") || !strings.Contains(msg.HTML, "0.00") {
		t.Error("expected item with 0.00 price")
	}
}
