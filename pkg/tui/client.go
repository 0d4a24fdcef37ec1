// Package tui implements the terminal chat client for the aftercare service.
// It talks to the /chat endpoint of a running server and renders the
// conversation in a Bubble Tea app.
package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin HTTP client for the chat endpoint.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
}

// NewClient builds a chat client for one session.
func NewClient(baseURL, sessionID string) *Client {
	return &Client{
		baseURL:   baseURL,
		sessionID: sessionID,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// TurnResult is the server's answer to one chat turn.
type TurnResult struct {
	Response     string `json:"response"`
	CurrentStep  int    `json:"current_step"`
	InfoComplete bool   `json:"info_complete"`
}

// Send posts one user message, optionally with out-of-band customer info.
func (c *Client) Send(ctx context.Context, message string, info map[string]any) (*TurnResult, error) {
	body, err := json.Marshal(map[string]any{
		"message":       message,
		"session_id":    c.sessionID,
		"customer_info": info,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post /chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result TurnResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &result, nil
}
