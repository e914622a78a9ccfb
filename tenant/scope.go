package tenant

import "sync"

// All is the sentinel scope value meaning "no tenant filter" - requests carry
// no scoping parameter while it is selected.
const All = "ALL"

// Scope holds the currently selected tenant (brand) identifier. It is written
// only by explicit user action, never by the session client, and publishes
// every change synchronously to its subscribers so consumers do not have to
// poll persisted state.
type Scope struct {
	mu    sync.RWMutex
	value string
	subs  []func(value string)
}

// NewScope creates a scope, unscoped (All) by default.
func NewScope(initial ...string) *Scope {
	s := &Scope{value: All}
	if len(initial) > 0 && initial[0] != "" {
		s.value = initial[0]
	}
	return s
}

// Value returns the currently selected tenant identifier.
func (s *Scope) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Scoped reports whether a specific tenant is selected.
func (s *Scope) Scoped() bool {
	return s.Value() != All
}

// Set selects a new tenant and notifies subscribers at the point of mutation.
// An empty value resets the scope to All. Setting the current value again is
// a no-op and publishes nothing.
func (s *Scope) Set(value string) {
	if value == "" {
		value = All
	}

	s.mu.Lock()
	if value == s.value {
		s.mu.Unlock()
		return
	}
	s.value = value
	subs := make([]func(string), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, notify := range subs {
		notify(value)
	}
}

// Subscribe registers a callback invoked synchronously on every scope change.
func (s *Scope) Subscribe(notify func(value string)) {
	if notify == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, notify)
}
