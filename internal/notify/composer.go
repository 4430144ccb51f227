// Package notify renders order confirmation emails and delivers them.
package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/money"
)

// Operator copies that need attention carry one of these markers.
// FailureMarker is reserved for failed order-store reads or writes.
const (
	FailureMarker = "DB FAILURE - MANUAL CHECK REQUIRED"
	ReviewMarker  = "MANUAL CHECK REQUIRED"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(
	template.New("notify").Funcs(template.FuncMap{"money": formatPrice}).ParseFS(templateFS, "templates/*.html"),
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Line struct {
	Name      string
	Quantity  int
	UnitPrice decimal.NullDecimal
}

// Receipt is everything a confirmation email shows. Items may be empty when
// the order could not be read back.
type Receipt struct {
	Reference string
	OrderID   string
	Customer  domain.CustomerDetails
	Items     []Line
	Total     decimal.Decimal
	Currency  string
}

func ReceiptFromOrder(order *domain.Order, reference string) Receipt {
	lines := make([]Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, Line{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: decimal.NewNullDecimal(item.UnitPrice),
		})
	}

	return Receipt{
		Reference: reference,
		OrderID:   order.ID,
		Customer:  order.Customer,
		Items:     lines,
		Total:     order.Amount,
		Currency:  order.Currency,
	}
}

type Composer struct {
	operatorEmail string
}

func NewComposer(operatorEmail string) *Composer {
	return &Composer{operatorEmail: operatorEmail}
}

// Customer renders the buyer's confirmation. Operator alerts never appear
// in it.
func (c *Composer) Customer(r Receipt) (Message, error) {
	if r.Customer.Email == "" {
		return Message{}, fmt.Errorf("compose customer email for %s: no recipient", r.Reference)
	}

	body, err := render("customer", r)
	if err != nil {
		return Message{}, err
	}

	return Message{
		To:      r.Customer.Email,
		Subject: "Your Order Confirmation #" + r.Reference,
		HTML:    body,
	}, nil
}

type operatorView struct {
	Receipt
	Alerts []string
	Marker string
}

// Operator renders the store owner's copy. When alerts are present the
// subject carries a marker and the body opens with an alert banner; the
// marker is FailureMarker when the order store failed and ReviewMarker
// otherwise.
func (c *Composer) Operator(r Receipt, alerts []string, storageFailure bool) (Message, error) {
	marker := ReviewMarker
	if storageFailure {
		marker = FailureMarker
	}

	body, err := render("operator", operatorView{Receipt: r, Alerts: alerts, Marker: marker})
	if err != nil {
		return Message{}, err
	}

	subject := fmt.Sprintf("NEW ORDER RECEIVED: #%s - %s", r.Reference, money.Format(r.Currency, r.Total))
	if len(alerts) > 0 {
		subject = "[" + marker + "] " + subject
	}

	return Message{
		To:      c.operatorEmail,
		Subject: subject,
		HTML:    body,
	}, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", name, err)
	}
	return buf.String(), nil
}

const zeroPrice = "0.00"

// formatPrice renders any price-like value with two decimals. Missing or
// unparsable values render as 0.00 instead of failing the whole email.
func formatPrice(v any) string {
	switch p := v.(type) {
	case decimal.Decimal:
		return p.StringFixed(2)
	case *decimal.Decimal:
		if p == nil {
			return zeroPrice
		}
		return p.StringFixed(2)
	case decimal.NullDecimal:
		if !p.Valid {
			return zeroPrice
		}
		return p.Decimal.StringFixed(2)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return zeroPrice
		}
		return d.StringFixed(2)
	case int:
		return decimal.NewFromInt(int64(p)).StringFixed(2)
	case int64:
		return decimal.NewFromInt(p).StringFixed(2)
	case float64:
		return decimal.NewFromFloat(p).StringFixed(2)
	default:
		return zeroPrice
	}
}
