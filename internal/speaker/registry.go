// Package speaker maps opaque diarization ids to stable display labels.
package speaker

import (
	"fmt"
	"sync"
)

// Assignment is one id-to-label mapping in order of first sight
type Assignment struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Registry assigns labels to speaker ids in order of first observation.
// Ordinals are 1-based and never reused. The first len(roles) speakers
// take the role names instead of "Speaker N". A Registry belongs to one session.
type Registry struct {
	defaultLabel string
	roles        []string

	mu     sync.Mutex
	labels map[string]string
	order  []string
}

// NewRegistry creates a registry. Absent ids resolve to defaultLabel.
func NewRegistry(defaultLabel string, roles ...string) *Registry {
	return &Registry{
		defaultLabel: defaultLabel,
		roles:        append([]string(nil), roles...),
		labels:       make(map[string]string),
	}
}

// Resolve returns the display label for id. A nil or empty id maps to the default label.
func (r *Registry) Resolve(id *string) string {
	if id == nil || *id == "" {
		return r.defaultLabel
	}
	return r.ResolveID(*id)
}

// ResolveID is Resolve for a concrete id
func (r *Registry) ResolveID(id string) string {
	if id == "" {
		return r.defaultLabel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if label, ok := r.labels[id]; ok {
		return label
	}

	n := len(r.order) + 1
	label := fmt.Sprintf("Speaker %d", n)
	if n <= len(r.roles) {
		label = r.roles[n-1]
	}

	r.labels[id] = label
	r.order = append(r.order, id)
	return label
}

// Known returns every assignment made so far in order of first sight
func (r *Registry) Known() []Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Assignment, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Assignment{ID: id, Label: r.labels[id]})
	}
	return out
}

// DefaultLabel returns the label used for untagged speech
func (r *Registry) DefaultLabel() string {
	return r.defaultLabel
}
