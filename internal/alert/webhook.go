package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// WebhookSink POSTs a JSON body to a generic HTTP endpoint, matching
// the shape a Slack incoming-webhook or generic collector expects.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink builds a webhook sink bound to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *WebhookSink) Name() string { return "webhook" }

type webhookPayload struct {
	Strategy  string `json:"strategy"`
	Severity  string `json:"severity"`
	Key       string `json:"key"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	body, err := sonic.Marshal(webhookPayload{
		Strategy: a.Strategy, Severity: string(a.Severity), Key: a.Key,
		Message: a.Message, CreatedAt: a.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook responded %d", resp.StatusCode)
	}
	return nil
}
