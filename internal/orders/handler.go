package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
)

type StatusReader interface {
	Status(ctx context.Context, id string) (domain.OrderStatus, error)
}

type Handler struct {
	repo   StatusReader
	logger *slog.Logger
}

func NewHandler(repo StatusReader, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

type statusResponse struct {
	OrderID string             `json:"order_uuid"`
	Status  domain.OrderStatus `json:"status"`
}

// HandleStatus lets the thank-you page poll for the paid transition. It
// exposes only the status, never customer details.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	status, err := h.repo.Status(r.Context(), id)
	if errors.Is(err, ErrOrderNotFound) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get order status", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, statusResponse{OrderID: id, Status: status})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
