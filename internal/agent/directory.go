// Package agent maps site routes to the conversational persona that answers
// calls on that page.
package agent

import (
	"strings"
)

// HubRoute is the route of the default identity.
const HubRoute = "/"

// Identity is a configured conversational persona. Values are immutable once
// the directory is built.
type Identity struct {
	Route          string `yaml:"route" json:"route"`
	AgentID        string `yaml:"agentId" json:"agentId"`
	DisplayName    string `yaml:"displayName" json:"displayName"`
	RoleLabel      string `yaml:"roleLabel" json:"roleLabel"`
	ThemeColor     string `yaml:"themeColor" json:"themeColor"`
	SecondaryColor string `yaml:"secondaryColor" json:"secondaryColor"`
}

// Configured reports whether the identity can open a voice session. An empty
// agent id means the feature is unavailable in this environment.
func (i Identity) Configured() bool {
	return strings.TrimSpace(i.AgentID) != ""
}

// Directory is a read-only route table, safe for concurrent use.
//
// Resolution order:
//  1. exact route match
//  2. first registered non-root route that is a path prefix of the request
//     (prefix collisions favor registration order)
//  3. the hub default
type Directory struct {
	def     Identity
	entries []Identity
	byRoute map[string]int
}

// NewDirectory builds a directory from a default identity and route entries.
// Later duplicates of a route are ignored.
func NewDirectory(def Identity, entries ...Identity) *Directory {
	def.Route = HubRoute
	d := &Directory{
		def:     def,
		byRoute: make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		e.Route = normalize(e.Route)
		if e.Route == HubRoute {
			continue
		}
		if _, dup := d.byRoute[e.Route]; dup {
			continue
		}
		d.byRoute[e.Route] = len(d.entries)
		d.entries = append(d.entries, e)
	}
	return d
}

// Resolve returns the identity for path. It never fails; unknown paths get
// the hub default.
func (d *Directory) Resolve(path string) Identity {
	p := normalize(path)
	if p == HubRoute {
		return d.def
	}
	if i, ok := d.byRoute[p]; ok {
		return d.entries[i]
	}
	for _, e := range d.entries {
		if strings.HasPrefix(p, e.Route+"/") {
			return e
		}
	}
	return d.def
}

// Default returns the hub identity.
func (d *Directory) Default() Identity {
	return d.def
}

// Entries returns the non-default identities in registration order.
func (d *Directory) Entries() []Identity {
	out := make([]Identity, len(d.entries))
	copy(out, d.entries)
	return out
}

// Knows reports whether agentID belongs to any identity in the directory.
func (d *Directory) Knows(agentID string) bool {
	if agentID == "" {
		return false
	}
	if d.def.AgentID == agentID {
		return true
	}
	for _, e := range d.entries {
		if e.AgentID == agentID {
			return true
		}
	}
	return false
}

// WithAgentIDs returns a copy of the directory with agent ids replaced for the
// given routes. Empty ids are skipped so an unset variable never blanks a
// configured persona.
func (d *Directory) WithAgentIDs(ids map[string]string) *Directory {
	def := d.def
	if id := ids[HubRoute]; id != "" {
		def.AgentID = id
	}
	entries := d.Entries()
	for i := range entries {
		if id := ids[entries[i].Route]; id != "" {
			entries[i].AgentID = id
		}
	}
	return NewDirectory(def, entries...)
}

// normalize strips query, fragment and trailing slashes from a route path.
func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
