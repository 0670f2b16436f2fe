package events

import (
	"context"
	"testing"

	"voice-hud-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerSession != nil {
				t.Error("expected nil session writer when disabled")
			}
			if p.writerLead != nil {
				t.Error("expected nil lead writer when disabled")
			}
		})
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:      true,
		Brokers:      []string{"localhost:9092"},
		TopicSession: "test.session",
		TopicLead:    "test.lead",
	})
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerSession == nil || p.writerSession.Topic != "test.session" {
		t.Error("expected session writer for test.session")
	}
	if p.writerLead == nil || p.writerLead.Topic != "test.lead" {
		t.Error("expected lead writer for test.lead")
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		TopicSession: "test.session",
		TopicLead:    "test.lead",
		Principal:    "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicSession != "test.session" {
		t.Errorf("expected topic session 'test.session', got %s", p.topicSession)
	}
	if p.topicLead != "test.lead" {
		t.Errorf("expected topic lead 'test.lead', got %s", p.topicLead)
	}
}

func TestPublisher_PublishSession_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicSession: "test.session"})

	event := models.SessionEvent{
		EventType: models.EventSessionConnected,
		SessionID: "sess-1",
		AgentID:   "agent_sushi",
		Route:     "/sushi",
	}

	if err := p.PublishSession(context.Background(), "sess-1", event); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishLead_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicLead: "test.lead"})

	event := models.LeadEvent{
		EventType: models.EventLeadSubmitted,
		LeadID:    "lead-1",
		Kind:      "contact",
		Email:     "owner@example.com",
	}

	if err := p.PublishLead(context.Background(), "lead-1", event); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Create an unmarshalable value (channel)
	event := make(chan int)
	if err := p.PublishSession(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable session event")
	}
	if err := p.PublishLead(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable lead event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilPublisher(t *testing.T) {
	p := &Publisher{}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
