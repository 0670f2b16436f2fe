// Package schema validates the lead and quote payloads the site submits.
package schema

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Payload kinds.
const (
	KindLead  = "lead"
	KindQuote = "quote"
)

// Rule constrains one field.
type Rule struct {
	Field    string
	Required bool
	Email    bool
	MaxLen   int
}

// ValidationError lists the invalid fields and why.
type ValidationError struct {
	Kind   string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(parts, "; "))
}

type Validator struct {
	rules map[string][]Rule
}

// New returns a validator with the site's lead and quote rules.
func New() *Validator {
	return &Validator{
		rules: map[string][]Rule{
			KindLead: {
				{Field: "email", Required: true, Email: true, MaxLen: 254},
				{Field: "firstname", MaxLen: 100},
				{Field: "lastname", MaxLen: 100},
				{Field: "company", MaxLen: 200},
				{Field: "phone", MaxLen: 40},
				{Field: "message", MaxLen: 5000},
			},
			KindQuote: {
				{Field: "name", Required: true, MaxLen: 200},
				{Field: "email", Required: true, Email: true, MaxLen: 254},
				{Field: "restaurant", MaxLen: 200},
				{Field: "phone", MaxLen: 40},
				{Field: "notes", MaxLen: 5000},
			},
		},
	}
}

// Validate checks fields against the rules for kind. Fields without a rule
// are accepted.
func (v *Validator) Validate(kind string, fields map[string]string) error {
	rules, ok := v.rules[kind]
	if !ok {
		return fmt.Errorf("unknown payload kind %q", kind)
	}

	invalid := make(map[string]string)
	for _, r := range rules {
		value := strings.TrimSpace(fields[r.Field])
		switch {
		case value == "":
			if r.Required {
				invalid[r.Field] = "required"
			}
		case r.MaxLen > 0 && len(value) > r.MaxLen:
			invalid[r.Field] = fmt.Sprintf("longer than %d characters", r.MaxLen)
		case r.Email && !validEmail(value):
			invalid[r.Field] = "not a valid email address"
		}
	}

	if len(invalid) > 0 {
		err := &ValidationError{Kind: kind, Fields: invalid}
		log.Debug().Err(err).Msg("Payload rejected")
		return err
	}
	return nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
