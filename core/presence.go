package core

import (
	"sort"
	"sync"
)

// PresenceTracker records which registered participants currently hold a
// live connection. It is driven purely by transport-level connect and
// disconnect signals and carries no vote semantics: an offline councilor's
// previously cast vote stays valid and counted.
//
// Presence is the one piece of state mutated outside the hub's serialized
// command path, so the tracker carries its own lock.
type PresenceTracker struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	onChange func(participantID string, online bool)
}

// NewPresenceTracker constructs an empty tracker. The onChange callback, if
// non-nil, fires after every effective state change (idempotent repeats do
// not fire it).
func NewPresenceTracker(onChange func(participantID string, online bool)) *PresenceTracker {
	return &PresenceTracker{
		online:   make(map[string]struct{}),
		onChange: onChange,
	}
}

// MarkOnline records a live connection for the participant. Idempotent.
func (t *PresenceTracker) MarkOnline(participantID string) {
	if t == nil || participantID == "" {
		return
	}
	t.mu.Lock()
	_, already := t.online[participantID]
	if !already {
		t.online[participantID] = struct{}{}
	}
	t.mu.Unlock()
	if !already && t.onChange != nil {
		t.onChange(participantID, true)
	}
}

// MarkOffline clears the participant's connection record. Idempotent.
func (t *PresenceTracker) MarkOffline(participantID string) {
	if t == nil || participantID == "" {
		return
	}
	t.mu.Lock()
	_, present := t.online[participantID]
	if present {
		delete(t.online, participantID)
	}
	t.mu.Unlock()
	if present && t.onChange != nil {
		t.onChange(participantID, false)
	}
}

// IsOnline reports whether the participant currently holds a connection.
func (t *PresenceTracker) IsOnline(participantID string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[participantID]
	return ok
}

// Snapshot returns the ids of all online participants, sorted for
// deterministic output.
func (t *PresenceTracker) Snapshot() []string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}
