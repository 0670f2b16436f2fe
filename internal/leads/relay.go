// Package leads relays lead capture and quote requests from the site to the
// CRM forms API and the quote backend. Submissions are accepted immediately
// and forwarded in the background.
package leads

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"voice-hud-service/internal/models"
	"voice-hud-service/internal/observability/metrics"
	"voice-hud-service/internal/schema"
)

const publishTimeout = 5 * time.Second

// Lead is a contact form submission.
type Lead struct {
	Fields   map[string]string `json:"fields"`
	PageURI  string            `json:"pageUri,omitempty"`
	PageName string            `json:"pageName,omitempty"`
}

// submission is the CRM forms API body the site posts.
type submission struct {
	Fields []struct {
		Name  string `mapstructure:"name"`
		Value string `mapstructure:"value"`
	} `mapstructure:"fields"`
	Context struct {
		PageURI  string `mapstructure:"pageUri"`
		PageName string `mapstructure:"pageName"`
	} `mapstructure:"context"`
}

// DecodeLead maps a forms API submission
// ({"fields":[{"name","value"}],"context":{"pageUri","pageName"}}) onto a
// Lead. Scalar values are converted to strings.
func DecodeLead(raw map[string]any) (Lead, error) {
	var s submission
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return Lead{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Lead{}, fmt.Errorf("decode lead: %w", err)
	}

	lead := Lead{
		Fields:   make(map[string]string, len(s.Fields)),
		PageURI:  s.Context.PageURI,
		PageName: s.Context.PageName,
	}
	for _, f := range s.Fields {
		if name := strings.TrimSpace(f.Name); name != "" {
			lead.Fields[name] = f.Value
		}
	}
	return lead, nil
}

// Quote is a catering or event quote request. Fields the relay does not know
// are kept in Extra and forwarded untouched.
type Quote struct {
	Name       string         `json:"name" mapstructure:"name"`
	Email      string         `json:"email" mapstructure:"email"`
	Phone      string         `json:"phone,omitempty" mapstructure:"phone"`
	Restaurant string         `json:"restaurant,omitempty" mapstructure:"restaurant"`
	Notes      string         `json:"notes,omitempty" mapstructure:"notes"`
	Extra      map[string]any `json:"-" mapstructure:",remain"`
}

// DecodeQuote maps a decoded JSON object onto a Quote. Scalar values are
// converted to strings.
func DecodeQuote(raw map[string]any) (Quote, error) {
	var q Quote
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &q,
	})
	if err != nil {
		return Quote{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	return q, nil
}

func (q Quote) fields() map[string]string {
	return map[string]string{
		"name":       q.Name,
		"email":      q.Email,
		"phone":      q.Phone,
		"restaurant": q.Restaurant,
		"notes":      q.Notes,
	}
}

// Payload returns the quote as a flat JSON object including Extra.
func (q Quote) Payload() map[string]any {
	out := make(map[string]any, len(q.Extra)+5)
	for k, v := range q.Extra {
		out[k] = v
	}
	for k, v := range q.fields() {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// LeadForwarder delivers leads to the CRM.
type LeadForwarder interface {
	SubmitLead(ctx context.Context, id string, lead Lead) error
}

// QuoteForwarder delivers quote requests to the quote backend.
type QuoteForwarder interface {
	SubmitQuote(ctx context.Context, id string, quote Quote) error
}

// Publisher receives lead events.
type Publisher interface {
	PublishLead(ctx context.Context, key string, event any) error
}

// Relay validates submissions and forwards them in the background.
type Relay struct {
	forms     LeadForwarder
	quotes    QuoteForwarder
	publisher Publisher
	validator *schema.Validator
	timeout   time.Duration
	metrics   *metrics.Metrics

	wg sync.WaitGroup
}

// Config wires a relay. Nil forwarders disable forwarding for that kind; the
// submission is still validated and published.
type Config struct {
	Forms     LeadForwarder
	Quotes    QuoteForwarder
	Publisher Publisher
	Timeout   time.Duration
	Metrics   *metrics.Metrics
}

// NewRelay creates a relay.
func NewRelay(cfg Config) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	return &Relay{
		forms:     cfg.Forms,
		quotes:    cfg.Quotes,
		publisher: cfg.Publisher,
		validator: schema.New(),
		timeout:   cfg.Timeout,
		metrics:   cfg.Metrics,
	}
}

// SubmitLead validates lead and schedules its delivery. It returns the lead
// id without waiting for the CRM.
func (r *Relay) SubmitLead(lead Lead) (string, error) {
	if err := r.validator.Validate(schema.KindLead, lead.Fields); err != nil {
		return "", err
	}
	id := uuid.NewString()
	event := models.LeadEvent{
		EventType: models.EventLeadSubmitted,
		LeadID:    id,
		Kind:      schema.KindLead,
		Email:     strings.TrimSpace(lead.Fields["email"]),
		PageURI:   lead.PageURI,
		Fields:    lead.Fields,
	}

	r.dispatch(event, func(ctx context.Context) error {
		if r.forms == nil {
			return nil
		}
		return r.forms.SubmitLead(ctx, id, lead)
	})
	return id, nil
}

// SubmitQuote validates quote and schedules its delivery.
func (r *Relay) SubmitQuote(quote Quote) (string, error) {
	fields := quote.fields()
	if err := r.validator.Validate(schema.KindQuote, fields); err != nil {
		return "", err
	}
	id := uuid.NewString()
	event := models.LeadEvent{
		EventType: models.EventLeadSubmitted,
		LeadID:    id,
		Kind:      schema.KindQuote,
		Email:     strings.TrimSpace(quote.Email),
		Fields:    fields,
	}

	r.dispatch(event, func(ctx context.Context) error {
		if r.quotes == nil {
			return nil
		}
		return r.quotes.SubmitQuote(ctx, id, quote)
	})
	return id, nil
}

func (r *Relay) dispatch(event models.LeadEvent, forward func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		logger := log.With().Str("leadId", event.LeadID).Str("kind", event.Kind).Logger()

		err := forward(ctx)
		r.metrics.RecordLead(event.Kind, err)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to forward submission")
		} else {
			logger.Info().Msg("Submission forwarded")
		}

		if r.publisher == nil {
			return
		}
		// The forward may have used up ctx.
		pctx, pcancel := context.WithTimeout(context.Background(), publishTimeout)
		defer pcancel()
		event.Timestamp = time.Now().UnixMilli()
		if err := r.publisher.PublishLead(pctx, event.LeadID, event); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish lead event")
		}
	}()
}

// Wait blocks until in-flight submissions finish or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
