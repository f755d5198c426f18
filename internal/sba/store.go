package sba

import (
	"sort"
	"sync"
	"time"
)

// Store holds the per-caller event sequences and incident sets.
type Store struct {
	mu        sync.RWMutex
	events    map[string][]Event
	incidents map[string]map[IncidentType]Incident

	eventCount int
	peakEvents int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		events:    make(map[string][]Event),
		incidents: make(map[string]map[IncidentType]Incident),
	}
}

// Add appends ev to the caller's sequence.
func (s *Store) Add(caller string, ev Event) {
	s.mu.Lock()
	s.events[caller] = append(s.events[caller], ev)
	s.eventCount++
	if s.eventCount > s.peakEvents {
		s.peakEvents = s.eventCount
	}
	s.mu.Unlock()
}

// Events returns the caller's sequence. The slice must not be modified.
func (s *Store) Events(caller string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[caller]
	return evs[:len(evs):len(evs)]
}

// Callers returns every caller with recorded events, sorted.
func (s *Store) Callers() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.events))
	for c := range s.events {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// EventCounts returns the number of events per caller.
func (s *Store) EventCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.events))
	for c, evs := range s.events {
		out[c] = len(evs)
	}
	return out
}

// PutIncident records inc unless the caller already holds a more severe
// incident of the same type. It reports whether inc was kept.
func (s *Store) PutIncident(inc Incident) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.incidents[inc.Caller]
	if !ok {
		set = make(map[IncidentType]Incident)
		s.incidents[inc.Caller] = set
	}
	if old, ok := set[inc.Type]; ok && old.WorseThan(inc) {
		return false
	}
	set[inc.Type] = inc
	return true
}

// HasIncident reports whether any incident is recorded for caller.
func (s *Store) HasIncident(caller string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents[caller]) > 0
}

// Incidents returns a copy of every incident grouped by caller, ordered by type.
func (s *Store) Incidents() map[string][]Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Incident, len(s.incidents))
	for caller, set := range s.incidents {
		list := make([]Incident, 0, len(set))
		for _, inc := range set {
			list = append(list, inc)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Type < list[j].Type })
		out[caller] = list
	}
	return out
}

// Prune drops events recorded before cutoff and returns how many went.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for caller, evs := range s.events {
		i := 0
		for i < len(evs) && evs[i].Head().Timestamp.Before(cutoff) {
			i++
		}
		if i == 0 {
			continue
		}
		removed += i
		if i == len(evs) {
			delete(s.events, caller)
			continue
		}
		kept := make([]Event, len(evs)-i)
		copy(kept, evs[i:])
		s.events[caller] = kept
	}
	s.eventCount -= removed
	return removed
}

// Clear drops all events and incidents.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = make(map[string][]Event)
	s.incidents = make(map[string]map[IncidentType]Incident)
	s.eventCount = 0
	s.mu.Unlock()
}

// Len returns the number of callers with events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// EventCount returns the total and peak number of stored events.
func (s *Store) EventCount() (current, peak int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventCount, s.peakEvents
}

// IncidentCount returns the number of callers with incidents.
func (s *Store) IncidentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents)
}
