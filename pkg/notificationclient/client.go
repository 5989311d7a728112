/**
 * @description
 * Client for handing fully formed reminder messages to the notification service,
 * which owns email and SMS transport.
 */
package notificationclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/solarpay/compliance-service/internal/domain"
)

// Client posts notifications to the notification service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new notification service client.
func NewClient(baseURL, apiKey string) *Client {
	normalizedURL := strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL:    normalizedURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Send delivers one notification. Any non-2xx response is an error.
func (c *Client) Send(ctx context.Context, n domain.Notification) error {
	if c.baseURL == "" {
		return fmt.Errorf("notification service base URL is not configured")
	}
	if strings.TrimSpace(n.Recipient) == "" {
		return fmt.Errorf("notification recipient is empty")
	}

	payload, err := json.Marshal(sendRequest{
		Channel:   n.Channel,
		Recipient: n.Recipient,
		Subject:   n.Subject,
		Body:      n.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	url := fmt.Sprintf("%s/internal/notifications", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// LogNotifier is used when no notification service is configured. It logs
// the message and reports success.
type LogNotifier struct {
	Logger *slog.Logger
}

// Send logs the notification.
func (n LogNotifier) Send(ctx context.Context, msg domain.Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("[NOTIFY-FALLBACK] notification service not configured",
		"channel", msg.Channel,
		"recipient", msg.Recipient,
		"subject", msg.Subject,
	)
	return nil
}
