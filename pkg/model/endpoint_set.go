package model

import (
	"sort"
)

// EndpointSet holds endpoints with set semantics; identical registrations collapse.
type EndpointSet map[Endpoint]struct{}

func NewEndpointSet(endpoints ...Endpoint) EndpointSet {
	s := make(EndpointSet, len(endpoints))
	for _, e := range endpoints {
		s[e] = struct{}{}
	}
	return s
}

func (s EndpointSet) Add(e Endpoint) {
	s[e] = struct{}{}
}

func (s EndpointSet) Remove(e Endpoint) {
	delete(s, e)
}

func (s EndpointSet) Contains(e Endpoint) bool {
	_, ok := s[e]
	return ok
}

func (s EndpointSet) Clone() EndpointSet {
	out := make(EndpointSet, len(s))
	for e := range s {
		out[e] = struct{}{}
	}
	return out
}

// Equal compares membership only.
func (s EndpointSet) Equal(other EndpointSet) bool {
	if len(s) != len(other) {
		return false
	}
	for e := range s {
		if !other.Contains(e) {
			return false
		}
	}
	return true
}

// Sorted returns the members ordered by name, then kind, place and argument,
// so API responses and saved documents are stable.
func (s EndpointSet) Sorted() []Endpoint {
	out := make([]Endpoint, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.ConnectionKind != b.ConnectionKind {
			return a.ConnectionKind < b.ConnectionKind
		}
		if a.Place != b.Place {
			return a.Place < b.Place
		}
		if a.Argument != b.Argument {
			return a.Argument < b.Argument
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		if a.Protected != b.Protected {
			return !a.Protected
		}
		return !a.Persistent && b.Persistent
	})
	return out
}
