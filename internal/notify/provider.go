package notify

import (
	"fmt"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/config"
)

// NewSender picks the delivery backend named by cfg.Provider.
func NewSender(cfg config.Notify, client *http.Client) (Sender, error) {
	switch cfg.Provider {
	case "relay", "":
		return NewRelaySender(cfg.RelayURL, client), nil
	case "resend":
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("resend provider needs an api key")
		}
		return NewResendSender(cfg.ResendAPIKey, cfg.From), nil
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
	}
}
