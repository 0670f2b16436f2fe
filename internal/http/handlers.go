package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"voice-hud-service/internal/agent"
	"voice-hud-service/internal/leads"
	"voice-hud-service/internal/observability/metrics"
	"voice-hud-service/internal/schema"
)

const maxBodyBytes = 64 << 10

// Signer issues signed conversation URLs for an agent.
type Signer interface {
	SignedURL(ctx context.Context, agentID string) (string, error)
}

// Handlers serves the REST endpoints.
type Handlers struct {
	Directory *agent.Directory
	Signer    Signer
	// SiteKeys are the bearer tokens accepted by ConversationToken. Empty
	// disables the check.
	SiteKeys []string
	Relay    *leads.Relay
	Metrics  *metrics.Metrics
}

func (h *Handlers) metrics() *metrics.Metrics {
	if h.Metrics == nil {
		return metrics.DefaultMetrics
	}
	return h.Metrics
}

// ListAgents returns the default identity and the route table.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": h.Directory.Default(),
		"agents":  h.Directory.Entries(),
	})
}

// ResolveAgent returns the identity for ?path=.
func (h *Handlers) ResolveAgent(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	id := h.Directory.Resolve(path)
	writeJSON(w, http.StatusOK, map[string]any{
		"path":       path,
		"identity":   id,
		"configured": id.Configured(),
	})
}

// ConversationToken issues a signed conversation URL for ?agent_id=. The
// caller must present one of the site keys as a bearer token, and the agent
// must be in the directory.
func (h *Handlers) ConversationToken(w http.ResponseWriter, r *http.Request) {
	logger := log.With().
		Str("component", "credential").
		Str("requestId", middleware.GetReqID(r.Context())).
		Logger()

	if !h.authorized(r) {
		h.metrics().RecordCredentialIssued("unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	agentID := strings.TrimSpace(r.URL.Query().Get("agent_id"))
	if agentID == "" {
		h.metrics().RecordCredentialIssued("bad_request")
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if !h.Directory.Knows(agentID) {
		h.metrics().RecordCredentialIssued("forbidden")
		logger.Warn().Str("agentId", agentID).Msg("Credential requested for unknown agent")
		writeError(w, http.StatusForbidden, "unknown agent")
		return
	}
	if h.Signer == nil {
		h.metrics().RecordCredentialIssued("unavailable")
		writeError(w, http.StatusServiceUnavailable, "voice provider not configured")
		return
	}

	signedURL, err := h.Signer.SignedURL(r.Context(), agentID)
	if err != nil {
		h.metrics().RecordCredentialIssued("upstream_error")
		logger.Error().Err(err).Str("agentId", agentID).Msg("Failed to obtain signed URL")
		writeError(w, http.StatusBadGateway, "failed to obtain signed url")
		return
	}

	h.metrics().RecordCredentialIssued("ok")
	logger.Debug().Str("agentId", agentID).Msg("Signed URL issued")
	writeJSON(w, http.StatusOK, map[string]string{"signedUrl": signedURL})
}

func (h *Handlers) authorized(r *http.Request) bool {
	if len(h.SiteKeys) == 0 {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	for _, key := range h.SiteKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// SubmitLead accepts a forms API submission and relays it to the CRM.
func (h *Handlers) SubmitLead(w http.ResponseWriter, r *http.Request) {
	raw, ok := decodeObject(w, r)
	if !ok {
		return
	}
	lead, err := leads.DecodeLead(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.Relay.SubmitLead(lead)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// SubmitQuote accepts a quote request and relays it to the quote backend.
func (h *Handlers) SubmitQuote(w http.ResponseWriter, r *http.Request) {
	raw, ok := decodeObject(w, r)
	if !ok {
		return
	}
	quote, err := leads.DecodeQuote(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.Relay.SubmitQuote(quote)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return nil, false
	}
	return raw, true
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "submission failed")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
