// Package whatsapp adapts the external WhatsApp-style messaging provider:
// a webhook handler for inbound messages and an HTTP client for outbound
// sends.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

const defaultSendTimeout = 15 * time.Second

// Client sends messages through the provider's HTTP API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
	logger     *logging.Logger
}

// NewClient creates a provider client. apiURL is the full send endpoint.
func NewClient(apiURL, token string, logger *logging.Logger) *Client {
	if strings.TrimSpace(apiURL) == "" {
		panic("whatsapp: api url cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultSendTimeout},
		apiURL:     apiURL,
		token:      token,
		logger:     logger,
	}
}

type sendRequest struct {
	To   string   `json:"to"`
	Type string   `json:"type"`
	Text sendText `json:"text"`
}

type sendText struct {
	Body string `json:"body"`
}

// Send delivers one text message. Non-2xx responses are errors so the
// outbound queue retries delivery.
func (c *Client) Send(ctx context.Context, to, text string) error {
	payload, err := json.Marshal(sendRequest{To: to, Type: "text", Text: sendText{Body: text}})
	if err != nil {
		return fmt.Errorf("whatsapp: encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("whatsapp: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Debug("whatsapp message sent", "to", to, "status", resp.StatusCode)
	return nil
}
