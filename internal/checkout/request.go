package checkout

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Request is the checkout payload sent by the storefront cart.
type Request struct {
	Email    string          `json:"email"`
	Amount   decimal.Decimal `json:"amount"`
	Metadata Metadata        `json:"metadata"`
}

type Metadata struct {
	CartItems       []CartItem `json:"cartItems"`
	FullName        string     `json:"fullName"`
	PhoneNumber     string     `json:"phoneNumber"`
	DigitalAddress  string     `json:"digitalAddress"`
	DeliveryAddress string     `json:"deliveryAddress"`
	// OrderID is set when the order was created ahead of payment.
	OrderID string `json:"order_uuid,omitempty"`
}

type CartItem struct {
	ID       ProductID       `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// ProductID accepts both numeric and string ids from the cart.
type ProductID string

func (p *ProductID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ProductID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("product id must be a string or number: %w", err)
	}
	*p = ProductID(n.String())
	return nil
}
