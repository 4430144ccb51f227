package paystack

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

const StatusSuccess = "success"

type InitializeRequest struct {
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	CallbackURL string   `json:"callback_url"`
	Metadata    Metadata `json:"metadata"`
}

// Metadata is echoed back by the gateway on verify. Only the order id is
// sent, never the customer payload.
type Metadata struct {
	OrderID string `json:"order_uuid"`
}

type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is the canonical, normalized view of a verified transaction.
type Transaction struct {
	Reference     string
	Status        string
	Amount        int64
	Currency      string
	CustomerEmail string
	OrderID       string
	PaidAt        *time.Time
	// UnreadableMetadata holds metadata that could not be parsed, so an
	// unlinked payment can still be traced by hand.
	UnreadableMetadata string
}

func (t *Transaction) Succeeded() bool {
	return t != nil && t.Status == StatusSuccess
}

type rawTransaction struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    string          `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

func (r *rawTransaction) normalize() *Transaction {
	orderID, ok := orderIDFromMetadata(r.Metadata)

	txn := &Transaction{
		Reference:     r.Reference,
		Status:        r.Status,
		Amount:        r.Amount,
		Currency:      r.Currency,
		CustomerEmail: r.Customer.Email,
		OrderID:       orderID,
	}
	if !ok {
		txn.UnreadableMetadata = string(r.Metadata)
	}
	if paidAt, err := time.Parse(time.RFC3339, r.PaidAt); err == nil {
		txn.PaidAt = &paidAt
	}

	return txn
}

var orderIDKeys = []string{"order_uuid", "orderUuid", "order_id", "orderId"}

// orderIDFromMetadata accepts metadata as an object or as a JSON-encoded
// string and tolerates the key spellings older checkouts used. An absent id
// is not an error here; the caller decides what a missing link means. ok is
// false when the metadata is present but not an object.
func orderIDFromMetadata(raw json.RawMessage) (id string, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", true
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return "", false
		}
		encoded = strings.TrimSpace(encoded)
		if encoded == "" {
			return "", true
		}
		raw = json.RawMessage(encoded)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", false
	}

	for _, key := range orderIDKeys {
		if v, ok := fields[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}

	return "", true
}
