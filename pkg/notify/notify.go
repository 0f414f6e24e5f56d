// Package notify sends short text notifications to a Poke-style inbound webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ticketsmith/pkg/logx"
)

// maxLogged bounds how much of a message is written to the log.
const maxLogged = 50

// Client posts {"message": ...} with a bearer token.
type Client struct {
	url    string
	apiKey string
	logger *logx.Logger
	client *http.Client
}

// NewClient creates a notifier for url. A zero timeout uses 10 seconds.
func NewClient(url, apiKey string, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("notify URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("notify API key is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    url,
		apiKey: apiKey,
		logger: logx.NewLogger("notify"),
		client: &http.Client{Timeout: timeout},
	}, nil
}

type payload struct {
	Message string `json:"message"`
}

// Send delivers one message. Any non-2xx status is an error.
func (c *Client) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(payload{Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	c.logger.Info("Notification sent: %s", preview(message))
	return nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= maxLogged {
		return s
	}
	return string(r[:maxLogged]) + "..."
}
