package gate

import (
	"fmt"
	"sort"
)

// Set holds one gate per gated queue family. Families without a gate are
// unbounded. A Set is built once at startup and only read afterwards.
type Set struct {
	gates map[string]*Gate
}

// NewSet creates gates for the given family to permit count mapping.
func NewSet(permits map[string]int) (*Set, error) {
	s := &Set{gates: make(map[string]*Gate, len(permits))}
	for family, n := range permits {
		g, err := New(n)
		if err != nil {
			return nil, fmt.Errorf("gate for %q: %w", family, err)
		}
		s.gates[family] = g
	}
	return s, nil
}

// For returns the gate guarding family, if any.
func (s *Set) For(family string) (*Gate, bool) {
	if s == nil {
		return nil, false
	}
	g, ok := s.gates[family]
	return g, ok
}

// Families returns the gated family names in sorted order.
func (s *Set) Families() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.gates))
	for name := range s.gates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns stats for every gate keyed by family.
func (s *Set) Snapshot() map[string]Stats {
	out := make(map[string]Stats)
	if s == nil {
		return out
	}
	for name, g := range s.gates {
		out[name] = g.Stats()
	}
	return out
}
