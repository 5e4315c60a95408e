package voice

import (
	"errors"
	"fmt"
	"slices"
)

// ErrAlreadyRegistered is returned by [Registry.Add] when the voice is already
// tracked under some name.
var ErrAlreadyRegistered = errors.New("voice: already registered")

// Registry tracks, per clip-definition name, the voices currently playing it
// in start order. A voice is in at most one entry at a time.
//
// Registry is not safe for concurrent use; it is owned by the scheduler.
type Registry struct {
	entries map[string][]*Voice
	owner   map[*Voice]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string][]*Voice),
		owner:   make(map[*Voice]string),
	}
}

// Add appends v to the entry for name.
func (r *Registry) Add(name string, v *Voice) error {
	if cur, ok := r.owner[v]; ok {
		return fmt.Errorf("voice %d under %q: %w", v.id, cur, ErrAlreadyRegistered)
	}
	r.entries[name] = append(r.entries[name], v)
	r.owner[v] = name
	return nil
}

// Remove detaches v from whichever entry holds it and reports whether it was
// registered.
func (r *Registry) Remove(v *Voice) bool {
	name, ok := r.owner[v]
	if !ok {
		return false
	}
	delete(r.owner, v)
	list := r.entries[name]
	if i := slices.Index(list, v); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(r.entries, name)
	} else {
		r.entries[name] = list
	}
	return true
}

// NameOf returns the entry v is registered under.
func (r *Registry) NameOf(v *Voice) (string, bool) {
	name, ok := r.owner[v]
	return name, ok
}

// Voices returns a copy of the voices registered under name, oldest first.
func (r *Registry) Voices(name string) []*Voice {
	return slices.Clone(r.entries[name])
}

// Oldest returns the earliest-started voice registered under name.
func (r *Registry) Oldest(name string) (*Voice, bool) {
	list := r.entries[name]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// Count returns the number of voices registered under name.
func (r *Registry) Count(name string) int { return len(r.entries[name]) }

// Total returns the number of registered voices across all names.
func (r *Registry) Total() int { return len(r.owner) }

// Names returns the names that currently have at least one voice, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
