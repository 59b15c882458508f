// Package messenger is the thin client for the messaging platform's send
// API. The delivery core depends only on the interfaces its consumers
// declare; this concrete client is wired in at startup.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultSendTimeout = 15 * time.Second

// Client posts outbound messages to the platform REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client for the platform API at baseURL authenticated with
// token. timeout bounds every send; <= 0 picks the default.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
	// Action, when set, renders an interactive quick-reply button.
	Action string `json:"action,omitempty"`
}

// Send delivers a plain text message to the address.
func (c *Client) Send(ctx context.Context, address, content string) error {
	return c.post(ctx, sendRequest{To: address, Body: content})
}

// SendWithReminderAction delivers a message carrying an interactive
// "stay active" affordance the user can tap to reply instantly.
func (c *Client) SendWithReminderAction(ctx context.Context, address, content, actionLabel string) error {
	return c.post(ctx, sendRequest{To: address, Body: content, Action: actionLabel})
}

func (c *Client) post(ctx context.Context, body sendRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending message to %s: %w", body.To, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("platform returned %d for %s: %s", resp.StatusCode, body.To, string(detail))
	}
	return nil
}
