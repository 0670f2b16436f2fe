package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voice-hud-service/internal/agent"
	"voice-hud-service/internal/leads"
)

// testSigner implements Signer for testing
type testSigner struct {
	err   error
	calls []string
}

func (s *testSigner) SignedURL(ctx context.Context, agentID string) (string, error) {
	s.calls = append(s.calls, agentID)
	if s.err != nil {
		return "", s.err
	}
	return "wss://provider.test/convai?agent_id=" + agentID + "&conversation_signature=sig", nil
}

func testDirectory() *agent.Directory {
	return agent.NewDirectory(
		agent.Identity{AgentID: "agent_hub", DisplayName: "Ava"},
		agent.Identity{Route: "/sushi", AgentID: "agent_sushi", DisplayName: "Yuki"},
		agent.Identity{Route: "/taqueria", DisplayName: "Diego"},
	)
}

func newTestRouter(signer Signer, keys ...string) http.Handler {
	h := &Handlers{
		Directory: testDirectory(),
		Signer:    signer,
		SiteKeys:  keys,
		Relay:     leads.NewRelay(leads.Config{}),
	}
	return NewRouter(nil, h, nil)
}

func do(t *testing.T, handler http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, body
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(nil)
	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		rec, _ := do(t, router, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestResolveAgent(t *testing.T) {
	router := newTestRouter(nil)

	tests := []struct {
		path       string
		agentID    string
		configured bool
	}{
		{"/sushi/menu", "agent_sushi", true},
		{"/catering", "agent_hub", true},
		{"/taqueria", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/agents/resolve?path="+tt.path, nil)
			rec, body := do(t, router, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			identity, _ := body["identity"].(map[string]any)
			if identity["agentId"] != tt.agentID {
				t.Errorf("expected agent %q, got %v", tt.agentID, identity["agentId"])
			}
			if body["configured"] != tt.configured {
				t.Errorf("expected configured=%v, got %v", tt.configured, body["configured"])
			}
		})
	}
}

func TestListAgents(t *testing.T) {
	rec, body := do(t, newTestRouter(nil), httptest.NewRequest(http.MethodGet, "/v1/agents", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	agents, _ := body["agents"].([]any)
	if len(agents) != 2 {
		t.Errorf("expected 2 route agents, got %d", len(agents))
	}
}

func TestConversationToken(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		auth      string
		signerErr error
		status    int
		wantError string
	}{
		{"issued", "?agent_id=agent_sushi", "Bearer site-key", nil, http.StatusOK, ""},
		{"missing token", "?agent_id=agent_sushi", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"wrong token", "?agent_id=agent_sushi", "Bearer nope", nil, http.StatusUnauthorized, "unauthorized"},
		{"missing agent", "", "Bearer site-key", nil, http.StatusBadRequest, "agent_id is required"},
		{"unknown agent", "?agent_id=agent_other", "Bearer site-key", nil, http.StatusForbidden, "unknown agent"},
		{"upstream failure", "?agent_id=agent_hub", "Bearer site-key", errors.New("boom"), http.StatusBadGateway, "failed to obtain signed url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := &testSigner{err: tt.signerErr}
			router := newTestRouter(signer, "other-key", "site-key")

			req := httptest.NewRequest(http.MethodGet, "/v1/conversation-token"+tt.query, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec, body := do(t, router, req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if tt.wantError != "" {
				if body["error"] != tt.wantError {
					t.Errorf("expected error %q, got %v", tt.wantError, body["error"])
				}
				return
			}
			if url, _ := body["signedUrl"].(string); !strings.Contains(url, "agent_id=agent_sushi") {
				t.Errorf("unexpected signedUrl %v", body["signedUrl"])
			}
		})
	}
}

func TestConversationToken_NoSiteKeys(t *testing.T) {
	signer := &testSigner{}
	req := httptest.NewRequest(http.MethodGet, "/v1/conversation-token?agent_id=agent_hub", nil)
	rec, _ := do(t, newTestRouter(signer), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without configured site keys, got %d", rec.Code)
	}
	if len(signer.calls) != 1 || signer.calls[0] != "agent_hub" {
		t.Errorf("unexpected signer calls %v", signer.calls)
	}
}

func TestConversationToken_NoSigner(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/conversation-token?agent_id=agent_hub", nil)
	rec, _ := do(t, newTestRouter(nil), req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestSubmitLead(t *testing.T) {
	router := newTestRouter(nil)

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"accepted", "application/json", `{"fields":[{"name":"email","value":"ana@example.com"}],"context":{"pageUri":"https://example.com/"}}`, http.StatusAccepted},
		{"invalid email", "application/json", `{"fields":[{"name":"email","value":"nope"}]}`, http.StatusUnprocessableEntity},
		{"not an object", "application/json", `[1,2]`, http.StatusBadRequest},
		{"wrong content type", "text/plain", `{}`, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/leads", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec, body := do(t, router, req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status == http.StatusAccepted && body["id"] == "" {
				t.Error("expected lead id")
			}
			if tt.status == http.StatusUnprocessableEntity {
				fields, _ := body["fields"].(map[string]any)
				if _, ok := fields["email"]; !ok {
					t.Errorf("expected email field error, got %v", body)
				}
			}
		})
	}
}

func TestSubmitQuote(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/quotes", strings.NewReader(`{"name":"Ana","email":"ana@example.com","guests":40}`))
	req.Header.Set("Content-Type", "application/json")
	if rec, _ := do(t, router, req); rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/quotes", strings.NewReader(`{"name":["Ana"]}`))
	req.Header.Set("Content-Type", "application/json")
	if rec, _ := do(t, router, req); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed quote, got %d", rec.Code)
	}
}
