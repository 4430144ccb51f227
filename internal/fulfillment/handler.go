package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/paystack"
)

const maxWebhookBody = 1 << 20

// Failure codes carried to the payment-failed page.
const (
	codeNoReference        = "no_ref"
	codeVerificationFailed = "verification_failed"
	codeServerError        = "server_error"
)

type Reconciler interface {
	Reconcile(ctx context.Context, reference string) (*Outcome, error)
}

type Publisher interface {
	PublishCharge(ctx context.Context, event domain.ChargeEvent) error
}

type HandlerOptions struct {
	SecretKey   string
	ThankYouURL string
	FailureURL  string
}

type Handler struct {
	reconciler Reconciler
	// publisher is nil when no broker is configured; webhooks are then
	// reconciled inline.
	publisher Publisher
	opts      HandlerOptions
	logger    *slog.Logger
}

func NewHandler(reconciler Reconciler, publisher Publisher, opts HandlerOptions, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		publisher:  publisher,
		opts:       opts,
		logger:     logger,
	}
}

// HandleCallback is where the gateway sends the customer's browser. The
// browser always ends on the thank-you page or the failure page.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	reference := strings.TrimSpace(query.Get("reference"))
	if reference == "" {
		reference = strings.TrimSpace(query.Get("trxref"))
	}

	_, err := h.reconciler.Reconcile(r.Context(), reference)
	switch {
	case err == nil:
		http.Redirect(w, r, withQuery(h.opts.ThankYouURL, "reference", reference), http.StatusFound)
	case errors.Is(err, ErrMissingReference):
		h.logger.Warn("callback without reference")
		http.Redirect(w, r, withQuery(h.opts.FailureURL, "error", codeNoReference), http.StatusFound)
	case errors.Is(err, ErrVerificationFailed):
		http.Redirect(w, r, withQuery(h.opts.FailureURL, "error", codeVerificationFailed), http.StatusFound)
	default:
		h.logger.Error("callback reconciliation failed", "error", err, "reference", reference)
		http.Redirect(w, r, withQuery(h.opts.FailureURL, "error", codeServerError), http.StatusFound)
	}
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

type webhookResponse struct {
	Status string `json:"status"`
}

// HandleWebhook accepts signed gateway events. Once the signature checks
// out the answer is 200 whatever happens next, so the gateway does not
// keep retrying an event that was already taken care of.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !paystack.ValidSignature(h.opts.SecretKey, body, r.Header.Get(paystack.SignatureHeader)) {
		h.logger.Warn("rejected webhook with invalid signature", "remote_addr", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("ignoring malformed webhook payload", "error", err, "bytes", len(body))
		h.writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	if event.Event != domain.EventChargeSuccess {
		h.logger.Debug("ignoring webhook event", "event", event.Event)
		h.writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	reference := strings.TrimSpace(event.Data.Reference)
	if reference == "" {
		h.logger.Warn("charge webhook without reference")
		h.writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	if h.publisher != nil {
		charge := domain.ChargeEvent{Event: event.Event, Reference: reference, ReceivedAt: time.Now().UTC()}
		err := h.publisher.PublishCharge(r.Context(), charge)
		if err == nil {
			h.logger.Info("charge event queued", "reference", reference)
			h.writeJSON(w, http.StatusOK, webhookResponse{Status: "queued"})
			return
		}
		h.logger.Error("failed to queue charge event, reconciling inline", "error", err, "reference", reference)
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), reference)
	if err != nil {
		h.logger.Error("webhook reconciliation failed", "error", err, "reference", reference)
	} else {
		h.logger.Info("webhook reconciled", "reference", reference, "order_id", outcome.OrderID,
			"transitioned", outcome.Transitioned, "alerts", len(outcome.Alerts))
	}

	h.writeJSON(w, http.StatusOK, webhookResponse{Status: "processed"})
}

func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
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
