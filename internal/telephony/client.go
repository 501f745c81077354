// Package telephony implements the outbound-calling side of the
// telephony provider's REST API, grounded on the pack's SignalWire
// client: basic-auth form-encoded requests against a LaML-compatible
// Calls resource.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client places and terminates calls through the provider's REST API.
// It satisfies engine.TelephonyClient.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(accountSID, authToken string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    "https://api.telephony-provider.example/2010-04-01",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type callResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// providerErrorBody is the error shape the provider returns on a
// non-2xx response.
type providerErrorBody struct {
	Code int `json:"code"`
}

// errCodeCallNotInProgress is the provider's error code for "cannot
// update a call that isn't in progress" — the response HangUp sees
// when asked to terminate a call that already ended.
const errCodeCallNotInProgress = 20008

// PlaceCall initiates an outbound call whose controlDocumentURL the
// provider fetches to learn how to handle the call (spec §4.7.3).
// region is accepted to satisfy engine.TelephonyClient's signature but
// this provider routes purely by from/to; callers needing region-aware
// routing select it via the from number itself (SmartCallerID).
func (c *Client) PlaceCall(ctx context.Context, to, from, region, controlDocumentURL string) (string, error) {
	if c.accountSID == "" || c.authToken == "" {
		return "", fmt.Errorf("telephony: credentials not configured")
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Url", controlDocumentURL)
	form.Set("Method", "POST")
	form.Set("MachineDetection", "DetectMessageEnd")

	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("telephony: building place-call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: place-call request to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("telephony: provider returned %d: %s", resp.StatusCode, string(body))
	}

	var call callResource
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return "", fmt.Errorf("telephony: decoding place-call response: %w", err)
	}
	return call.SID, nil
}

// HangUp terminates an in-progress call. Idempotent: a call the
// provider already considers terminal is not an error (spec §4.4).
func (c *Client) HangUp(ctx context.Context, callID string) error {
	if c.accountSID == "" || c.authToken == "" {
		return fmt.Errorf("telephony: credentials not configured")
	}

	form := url.Values{}
	form.Set("Status", "completed")

	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: building hangup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: hangup request for %s: %w", callID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		var providerErr providerErrorBody
		if json.Unmarshal(body, &providerErr) == nil && providerErr.Code == errCodeCallNotInProgress {
			return nil // already terminal: idempotent no-op
		}
		return fmt.Errorf("telephony: provider returned %d on hangup: %s", resp.StatusCode, string(body))
	}
	return nil
}
