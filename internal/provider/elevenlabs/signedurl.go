package elevenlabs

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

const DefaultBaseURL = "https://api.elevenlabs.io"

const signedURLPath = "/v1/convai/conversation/get-signed-url"

// APIError is a non-2xx answer from the ElevenLabs REST API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("elevenlabs api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("elevenlabs api: status %d: %s", e.StatusCode, e.Detail)
}

// SignedURLClient exchanges the account API key for short-lived conversation
// URLs, so the key never reaches the browser.
type SignedURLClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewSignedURLClient creates a client. An empty baseURL selects DefaultBaseURL.
func NewSignedURLClient(baseURL, apiKey string, timeout time.Duration) *SignedURLClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &SignedURLClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// SignedURL returns a signed conversation URL for agentID.
func (c *SignedURLClient) SignedURL(ctx context.Context, agentID string) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", fmt.Errorf("elevenlabs api key is required")
	}
	if strings.TrimSpace(agentID) == "" {
		return "", fmt.Errorf("agent id is required")
	}

	endpoint := c.BaseURL + signedURLPath + "?agent_id=" + url.QueryEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("elevenlabs signed url: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("elevenlabs signed url: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(body)}
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("elevenlabs signed url: decode: %w", err)
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("elevenlabs signed url: empty signed_url")
	}
	return out.SignedURL, nil
}

// errorDetail extracts a message from the API's error payloads, which carry
// either a string detail or {"detail": {"message": ...}}.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload.Detail, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	return string(payload.Detail)
}
