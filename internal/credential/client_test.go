package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer site-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.URL.Query().Get("agent_id"); got != "agent_sushi" {
			t.Errorf("unexpected agent_id %q", got)
		}
		if got := r.URL.Query().Get("v"); got != "2" {
			t.Errorf("expected existing query to be kept, got %q", got)
		}
		w.Write([]byte(`{"signedUrl":"wss://example/convai?token=abc"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/token?v=2", "site-key", time.Second)
	got, err := c.Fetch(context.Background(), "agent_sushi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "wss://example/convai?token=abc" {
		t.Errorf("unexpected signed url %q", got)
	}
}

func TestFetch_Non2xx(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"error field", http.StatusForbidden, `{"error":"agent not allowed"}`, "agent not allowed"},
		{"message field", http.StatusBadGateway, `{"message":"upstream down"}`, "upstream down"},
		{"no body", http.StatusInternalServerError, ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", time.Second).Fetch(context.Background(), "a")
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if se.StatusCode != tt.status || se.Message != tt.wantMsg {
				t.Errorf("unexpected status error: %+v", se)
			}
		})
	}
}

func TestFetch_MissingSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "", time.Second).Fetch(context.Background(), "a"); err == nil {
		t.Error("expected error for empty signedUrl")
	}
}

func TestFetch_Validation(t *testing.T) {
	if _, err := (&Client{}).Fetch(context.Background(), "a"); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := NewClient("http://localhost", "", 0).Fetch(context.Background(), ""); err == nil {
		t.Error("expected error without agent id")
	}
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url, "", time.Second).Fetch(context.Background(), "a"); err == nil {
		t.Error("expected error for unreachable endpoint")
	}
}
