// Package email is a development mail relay. It accepts messages over HTTP,
// logs them and keeps the most recent ones for inspection.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const maxMessageBody = 1 << 20

type Message struct {
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

type Handler struct {
	logger *slog.Logger

	mu       sync.Mutex
	outbox   []Message
	capacity int
}

func NewHandler(capacity int, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		capacity: max(capacity, 1),
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !strings.Contains(req.To, "@") {
		h.writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.writeError(w, http.StatusBadRequest, "missing subject")
		return
	}

	h.store(Message{To: req.To, Subject: req.Subject, Body: req.Body, ReceivedAt: time.Now().UTC()})
	h.logger.Info("email relayed", "to", req.To, "subject", req.Subject, "bytes", len(req.Body))

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

// HandleList returns the retained messages, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	messages := make([]Message, 0, len(h.outbox))
	for i := len(h.outbox) - 1; i >= 0; i-- {
		messages = append(messages, h.outbox[i])
	}
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) store(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outbox = append(h.outbox, msg)
	if len(h.outbox) > h.capacity {
		h.outbox = h.outbox[len(h.outbox)-h.capacity:]
	}
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
