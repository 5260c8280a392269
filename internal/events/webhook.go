package events

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloudguardian/policyguard/internal/logging"
)

// WebhookSink POSTs each event as JSON to a configured URL, for operators
// who want a real sink without standing up a message bus.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink builds a sink that posts to url with a 5s timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *WebhookSink) Emit(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logging.WithComponent("events.webhook").Error().Err(err).Msg("failed to marshal event")
		return
	}

	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(data))
	if err != nil {
		logging.WithComponent("events.webhook").Warn().Err(err).Str("url", s.url).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logging.WithComponent("events.webhook").Warn().
			Int("status", resp.StatusCode).Str("url", s.url).Msg("webhook returned non-2xx")
	}
}
