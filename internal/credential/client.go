// Package credential fetches short-lived signed conversation URLs from the
// trusted backend endpoint.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher returns a signed URL scoped to one agent.
type Fetcher interface {
	Fetch(ctx context.Context, agentID string) (string, error)
}

// Response is the endpoint's success payload.
type Response struct {
	SignedURL string `json:"signedUrl"`
}

// ErrorResponse is the endpoint's failure payload.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusError reports a non-2xx answer from the endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("credential endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("credential endpoint returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the credential endpoint with a bearer token.
type Client struct {
	EndpointURL string
	Token       string
	HTTP        *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(endpointURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		EndpointURL: endpointURL,
		Token:       token,
		HTTP:        &http.Client{Timeout: timeout},
	}
}

// Fetch requests a signed URL for agentID. Any non-2xx status is an error.
func (c *Client) Fetch(ctx context.Context, agentID string) (string, error) {
	if c.EndpointURL == "" {
		return "", errors.New("missing credential endpoint url")
	}
	if agentID == "" {
		return "", errors.New("missing agent id")
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 10 * time.Second}
	}

	u, err := url.Parse(c.EndpointURL)
	if err != nil {
		return "", fmt.Errorf("parse credential endpoint: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e ErrorResponse
		_ = json.Unmarshal(body, &e)
		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		return "", &StatusError{StatusCode: res.StatusCode, Message: msg}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode credential response: %w", err)
	}
	if strings.TrimSpace(out.SignedURL) == "" {
		return "", errors.New("credential response missing signedUrl")
	}
	return out.SignedURL, nil
}
