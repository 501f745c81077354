// Package aiclient talks to the conversational-AI provider's REST API
// to obtain a signed WebSocket URL for a given agent, following the
// same basic HTTP-client shape as the pack's telephony REST clients
// (see internal/telephony.Client).
package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: "https://api.ai-provider.example/v1",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// GetSignedStreamURL returns a short-lived, authenticated WebSocket URL
// for agentID (spec §4.5). The orchestrator never exposes its own API
// key to the telephony-side Media Bridge client; it resolves a signed
// URL per call instead.
func (c *Client) GetSignedStreamURL(ctx context.Context, agentID string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("aiclient: API key not configured")
	}

	reqURL := fmt.Sprintf("%s/convai/conversation/get-signed-url?%s",
		c.baseURL, url.Values{"agent_id": {agentID}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("aiclient: building signed-url request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("aiclient: signed-url request for agent %s: %w", agentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("aiclient: provider returned %d for agent %s", resp.StatusCode, agentID)
	}

	var out signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("aiclient: decoding signed-url response: %w", err)
	}
	return out.SignedURL, nil
}
