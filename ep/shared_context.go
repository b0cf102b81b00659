package ep

import (
	"sync"
)

// ContextModel is a precompiled backend context shared across sessions, keyed by the name of the
// EPContext node (the graph name inside the context binary) it was compiled from.
type ContextModel struct {
	Name string

	// Binary is the opaque compiled artifact. It may be nil when only the name is published.
	Binary []byte
}

// SharedContext is the process-wide registry of precompiled contexts, used to pass contexts
// deserialized by a producer session to consumer sessions.
//
// Producer sessions can add contexts concurrently. Consumer sessions must only run after the
// producers they depend on have finished: this ordering is up to the caller.
//
// All methods are safe for concurrent use.
type SharedContext struct {
	mu     sync.Mutex
	models []*ContextModel
}

var sharedContextInstance = &SharedContext{}

// SharedContextInstance returns the process-wide SharedContext.
func SharedContextInstance() *SharedContext {
	return sharedContextInstance
}

// NewSharedContext creates an empty SharedContext, independent of the process-wide one.
func NewSharedContext() *SharedContext {
	return &SharedContext{}
}

// HasAny returns whether any context was added.
func (s *SharedContext) HasAny() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.models) > 0
}

// Has returns whether at least one context with the given name was added.
func (s *SharedContext) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(name) != nil
}

// findLocked returns the earliest added context with the given name, or nil. s.mu must be held.
func (s *SharedContext) findLocked(name string) *ContextModel {
	for _, m := range s.models {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Add publishes a context by name only.
func (s *SharedContext) Add(name string) {
	s.AddModel(&ContextModel{Name: name})
}

// AddModel publishes a context. Names are not deduplicated: a later context with the same name is
// kept but never returned by Lookup, so a published name is only replaced through Clear.
func (s *SharedContext) AddModel(model *ContextModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = append(s.models, model)
}

// Lookup returns the earliest added context with the given name.
func (s *SharedContext) Lookup(name string) (model *ContextModel, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	model = s.findLocked(name)
	return model, model != nil
}

// Len returns the number of contexts added, counting duplicates.
func (s *SharedContext) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.models)
}

// Names returns the names of the contexts added, in order and including duplicates.
func (s *SharedContext) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.models))
	for ii, m := range s.models {
		names[ii] = m.Name
	}
	return names
}

// HasAll returns whether every one of the names was added. It holds the lock for the whole check.
func (s *SharedContext) HasAll(names []string) (missing string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if s.findLocked(name) == nil {
			return name, false
		}
	}
	return "", true
}

// Clear removes all contexts.
func (s *SharedContext) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = nil
}
