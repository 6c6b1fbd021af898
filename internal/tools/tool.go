// Package tools defines the contract between research agents and the
// capabilities they may invoke while reasoning.
package tools

import (
	"context"
	"sort"
	"strings"
)

// Tool is a capability an agent can call by name. Run always returns text
// for the model to observe; failures are reported in that text.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, input string) string
}

// Set indexes tools by case-insensitive name.
type Set map[string]Tool

// NewSet builds a Set, skipping nil entries.
func NewSet(list ...Tool) Set {
	set := make(Set, len(list))
	for _, t := range list {
		if t == nil {
			continue
		}
		set[strings.ToLower(t.Name())] = t
	}
	return set
}

// Lookup finds a tool by name.
func (s Set) Lookup(name string) (Tool, bool) {
	t, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Sorted returns the tools ordered by name.
func (s Set) Sorted() []Tool {
	out := make([]Tool, 0, len(s))
	for _, t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
