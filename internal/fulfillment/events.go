package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// EventHandler reconciles charge events drained from the queue.
type EventHandler struct {
	reconciler Reconciler
	logger     *slog.Logger
}

func NewEventHandler(reconciler Reconciler, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// Handle returns an error only when a retry could succeed, which is the
// case for verification failures. Malformed or unlinked events are logged
// and dropped.
func (h *EventHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.ChargeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping malformed charge event", "error", err)
		return nil
	}

	h.logger.Info("processing charge event", "reference", event.Reference, "received_at", event.ReceivedAt)

	outcome, err := h.reconciler.Reconcile(ctx, event.Reference)
	switch {
	case errors.Is(err, ErrVerificationFailed):
		return err
	case err != nil:
		h.logger.Error("dropping charge event", "error", err, "reference", event.Reference)
		return nil
	}

	h.logger.Info("charge event reconciled", "reference", event.Reference, "order_id", outcome.OrderID,
		"transitioned", outcome.Transitioned, "already_processed", outcome.AlreadyProcessed)
	return nil
}
