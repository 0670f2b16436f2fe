package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// StatusError is a non-2xx answer from a downstream endpoint.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// FormsClient submits leads to the HubSpot forms API
// (POST {base}/{portalId}/{formGuid}).
type FormsClient struct {
	BaseURL  string
	PortalID string
	FormGUID string
	HTTP     *http.Client
}

// NewFormsClient returns nil when the portal or form is not configured.
func NewFormsClient(baseURL, portalID, formGUID string, timeout time.Duration) *FormsClient {
	if portalID == "" || formGUID == "" {
		return nil
	}
	return &FormsClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		PortalID: portalID,
		FormGUID: formGUID,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

type formField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type formSubmission struct {
	Fields  []formField  `json:"fields"`
	Context *formContext `json:"context,omitempty"`
}

type formContext struct {
	PageURI  string `json:"pageUri,omitempty"`
	PageName string `json:"pageName,omitempty"`
}

// SubmitLead implements LeadForwarder.
func (c *FormsClient) SubmitLead(ctx context.Context, id string, lead Lead) error {
	names := make([]string, 0, len(lead.Fields))
	for name := range lead.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	body := formSubmission{Fields: make([]formField, 0, len(names))}
	for _, name := range names {
		body.Fields = append(body.Fields, formField{Name: name, Value: lead.Fields[name]})
	}
	if lead.PageURI != "" || lead.PageName != "" {
		body.Context = &formContext{PageURI: lead.PageURI, PageName: lead.PageName}
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.BaseURL, c.PortalID, c.FormGUID)
	return postJSON(ctx, c.HTTP, endpoint, "", body)
}

// QuoteClient posts quote requests to the submit-quote backend function.
type QuoteClient struct {
	URL   string
	Token string
	HTTP  *http.Client
}

// NewQuoteClient returns nil when no URL is configured.
func NewQuoteClient(url, token string, timeout time.Duration) *QuoteClient {
	if url == "" {
		return nil
	}
	return &QuoteClient{URL: url, Token: token, HTTP: &http.Client{Timeout: timeout}}
}

// SubmitQuote implements QuoteForwarder.
func (c *QuoteClient) SubmitQuote(ctx context.Context, id string, quote Quote) error {
	payload := quote.Payload()
	payload["requestId"] = id
	return postJSON(ctx, c.HTTP, c.URL, c.Token, payload)
}

func postJSON(ctx context.Context, client *http.Client, endpoint, token string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
