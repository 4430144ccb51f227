package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RelaySender hands messages to the mail relay service over HTTP.
type RelaySender struct {
	relayURL   string
	httpClient *http.Client
}

func NewRelaySender(relayURL string, client *http.Client) *RelaySender {
	return &RelaySender{
		relayURL:   strings.TrimRight(relayURL, "/"),
		httpClient: client,
	}
}

type relayRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (s *RelaySender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(relayRequest{To: msg.To, Subject: msg.Subject, Body: msg.HTML})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}

	return nil
}
