package identity

import (
	"fmt"
	"sort"
)

// Registry holds one translator per identity kind.
type Registry struct {
	byKind map[string]*Translator
}

// NewRegistry indexes translators by kind. Kinds must be unique.
func NewRegistry(translators ...*Translator) (*Registry, error) {
	r := &Registry{byKind: make(map[string]*Translator, len(translators))}
	for _, t := range translators {
		if _, dup := r.byKind[t.Kind()]; dup {
			return nil, fmt.Errorf("duplicate translator for kind %s", t.Kind())
		}
		r.byKind[t.Kind()] = t
	}
	return r, nil
}

// Lookup returns the translator for kind.
func (r *Registry) Lookup(kind string) (*Translator, bool) {
	t, ok := r.byKind[kind]
	return t, ok
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
