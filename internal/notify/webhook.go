package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier posts messages to a chat incoming-webhook URL.
type WebhookNotifier struct {
	// HTTPClient overrides the client used for delivery. Defaults to a
	// client with a short timeout; notifications must never stall the
	// automation they report on.
	HTTPClient *http.Client

	url string
}

// NewWebhookNotifier returns a notifier posting to the given webhook URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url}
}

var _ Notifier = (*WebhookNotifier)(nil)

type webhookMessage struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (n *WebhookNotifier) Send(ctx context.Context, recipient, text string, attachments []Attachment) error {
	payload, err := json.Marshal(webhookMessage{
		Channel:     recipient,
		Text:        text,
		Attachments: attachments,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("post notification: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (n *WebhookNotifier) httpClient() *http.Client {
	if n.HTTPClient != nil {
		return n.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// NewNoopNotifier returns a Notifier that silently discards messages. Used
// when no webhook is configured.
func NewNoopNotifier() Notifier {
	return noopNotifier{}
}

type noopNotifier struct{}

func (noopNotifier) Send(ctx context.Context, recipient, text string, attachments []Attachment) error {
	return nil
}
