package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender posts messages to an HTTP mail relay that answers with
// {"success": bool, "id": string, "error": string}
type WebhookSender struct {
	client *http.Client
	url    string
	config *Config
}

type webhookRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

type webhookResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewWebhookSender(config *Config) (*WebhookSender, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("email webhook URL is required")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
		url:    config.WebhookURL,
		config: config,
	}, nil
}

func (s *WebhookSender) Send(ctx context.Context, msg *Message) (string, error) {
	payload, err := json.Marshal(webhookRequest{
		From:    s.config.From(),
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send email request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var out webhookResponse
	if resp.StatusCode != http.StatusOK {
		if err := json.Unmarshal(body, &out); err != nil || out.Error == "" {
			return "", fmt.Errorf("email webhook returned status %d: %s", resp.StatusCode, string(body))
		}
		return "", fmt.Errorf("email webhook error: %s", out.Error)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("email webhook returned success=false: %s", out.Error)
	}
	return out.ID, nil
}
