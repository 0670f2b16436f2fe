package elevenlabs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignedURL_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != signedURLPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("agent_id"); got != "agent_sushi" {
			t.Errorf("unexpected agent_id %q", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "xi-secret" {
			t.Errorf("unexpected api key %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"signed_url":"wss://api.elevenlabs.io/v1/convai/conversation?agent_id=agent_sushi&conversation_signature=abc"}`))
	}))
	defer srv.Close()

	c := NewSignedURLClient(srv.URL+"/", "xi-secret", time.Second)
	got, err := c.SignedURL(context.Background(), "agent_sushi")
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if got != "wss://api.elevenlabs.io/v1/convai/conversation?agent_id=agent_sushi&conversation_signature=abc" {
		t.Errorf("unexpected signed url %q", got)
	}
}

func TestSignedURL_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantDetail string
	}{
		{"string detail", http.StatusUnauthorized, `{"detail":"Invalid API key"}`, 401, "Invalid API key"},
		{"nested detail", http.StatusNotFound, `{"detail":{"status":"agent_not_found","message":"Agent not found"}}`, 404, "Agent not found"},
		{"plain body", http.StatusBadGateway, `upstream down`, 502, "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewSignedURLClient(srv.URL, "key", time.Second).SignedURL(context.Background(), "agent")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.wantStatus || apiErr.Detail != tt.wantDetail {
				t.Errorf("got %d %q, want %d %q", apiErr.StatusCode, apiErr.Detail, tt.wantStatus, tt.wantDetail)
			}
		})
	}
}

func TestSignedURL_Validation(t *testing.T) {
	if _, err := NewSignedURLClient("", "", time.Second).SignedURL(context.Background(), "agent"); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := NewSignedURLClient("", "key", time.Second).SignedURL(context.Background(), " "); err == nil {
		t.Error("expected error without agent id")
	}
}

func TestSignedURL_EmptyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := NewSignedURLClient(srv.URL, "key", time.Second).SignedURL(context.Background(), "agent"); err == nil {
		t.Error("expected error for empty signed_url")
	}
}
