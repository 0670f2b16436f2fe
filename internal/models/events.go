// Package models defines the data structures for published events.
package models

// Session event types.
const (
	EventSessionStarting  = "voice.session.starting"
	EventSessionConnected = "voice.session.connected"
	EventSessionFailed    = "voice.session.failed"
	EventSessionEnded     = "voice.session.ended"
)

// EventLeadSubmitted is published for every accepted lead or quote request.
const EventLeadSubmitted = "lead.submitted"

// SessionEvent describes a voice session lifecycle transition.
type SessionEvent struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	AgentID        string `json:"agentId"`
	Route          string `json:"route"`
	ConversationID string `json:"conversationId,omitempty"`
	Provider       string `json:"provider,omitempty"`
	ErrorKind      string `json:"errorKind,omitempty"`
	Reason         string `json:"reason,omitempty"`
	DurationMs     int64  `json:"durationMs,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// LeadEvent describes a lead capture or quote request forwarded to the CRM.
type LeadEvent struct {
	EventType string            `json:"eventType"`
	LeadID    string            `json:"leadId"`
	Kind      string            `json:"kind"`
	Email     string            `json:"email"`
	PageURI   string            `json:"pageUri,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp int64             `json:"timestamp"`
}
