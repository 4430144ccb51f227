package fulfillment

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomePaid               = "paid"
	outcomeDuplicate          = "duplicate"
	outcomeMissingReference   = "missing_reference"
	outcomeVerificationFailed = "verification_failed"
	outcomeUnlinked           = "unlinked"
	outcomeBookkeepingFailed  = "bookkeeping_failed"
)

type metrics struct {
	reconciliations metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("fulfillment")

	reconciliations, err := meter.Int64Counter("fulfillment.reconciliations",
		metric.WithDescription("Payment reconciliations by outcome"),
		metric.WithUnit("{reconciliation}"),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{reconciliations: reconciliations}, nil
}

func (m *metrics) record(ctx context.Context, outcome string) {
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
