package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
)

const maxRequestBody = 64 << 10

type Initiator interface {
	CreateOrder(ctx context.Context, req Request) (*domain.Order, error)
	Initialize(ctx context.Context, req Request) (*Result, error)
}

type Handler struct {
	service Initiator
	logger  *slog.Logger
}

func NewHandler(service Initiator, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type createOrderResponse struct {
	OrderID string `json:"order_uuid"`
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createOrderResponse{OrderID: order.ID})
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.service.Initialize(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_body")
		return req, false
	}
	return req, true
}

var validationCodes = []struct {
	err  error
	code string
}{
	{ErrEmptyCart, "empty_cart"},
	{ErrInvalidItem, "invalid_item"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrAmountMismatch, "amount_mismatch"},
	{ErrAmountBelowMinimum, "amount_below_minimum"},
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	for _, v := range validationCodes {
		if errors.Is(err, v.err) {
			h.writeError(w, http.StatusBadRequest, err.Error(), v.code)
			return
		}
	}

	switch {
	case errors.Is(err, ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found", "order_not_found")
	case errors.Is(err, ErrOrderNotPending):
		h.writeError(w, http.StatusConflict, "order is no longer pending", "order_not_pending")
	case errors.Is(err, ErrPaymentInitialization):
		h.writeError(w, http.StatusBadGateway, "payment initialization failed", "payment_initialization_failed")
	case errors.Is(err, ErrOrderCreation):
		h.writeError(w, http.StatusInternalServerError, "could not create order", "order_creation_failed")
	default:
		h.logger.Error("checkout failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, errorResponse{Error: message, Code: code})
}
