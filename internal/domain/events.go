package domain

import "time"

const EventChargeSuccess = "charge.success"

// ChargeEvent is an accepted gateway webhook, queued for reconciliation.
type ChargeEvent struct {
	Event      string    `json:"event"`
	Reference  string    `json:"reference"`
	ReceivedAt time.Time `json:"received_at"`
}
