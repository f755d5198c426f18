package call

import (
	"sort"
	"sync"

	"firestige.xyz/callx/internal/core"
)

// CallTable is the live call table keyed by Call-ID.
// The lock is held only for the map operation itself.
type CallTable struct {
	mu    sync.Mutex
	calls map[string]*Call
	peak  int
}

func NewCallTable() *CallTable {
	return &CallTable{calls: make(map[string]*Call)}
}

// Find returns the live call with id.
func (t *CallTable) Find(id string) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	return c, ok
}

// InsertOrGet inserts c unless a call with the same id is live, in which
// case that call is returned with false.
func (t *CallTable) InsertOrGet(c *Call) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.calls[c.ID]; ok {
		return cur, false
	}
	t.calls[c.ID] = c
	if len(t.calls) > t.peak {
		t.peak = len(t.calls)
	}
	return c, true
}

// Erase removes c if it is still the live call for its id.
func (t *CallTable) Erase(c *Call) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eraseLocked(c)
}

func (t *CallTable) eraseLocked(c *Call) bool {
	if cur, ok := t.calls[c.ID]; ok && cur == c {
		delete(t.calls, c.ID)
		return true
	}
	return false
}

// EraseAll removes each call that is still live and returns those removed.
func (t *CallTable) EraseAll(calls []*Call) []*Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Call
	for _, c := range calls {
		if t.eraseLocked(c) {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot returns the live calls ordered by id.
func (t *CallTable) Snapshot() []*Call {
	t.mu.Lock()
	out := make([]*Call, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, c)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *CallTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *CallTable) Peak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

// SinkTable maps media sockets to the sink currently receiving them.
type SinkTable struct {
	mu    sync.RWMutex
	sinks map[core.SocketAddress]*RtpSink
	peak  int
}

func NewSinkTable() *SinkTable {
	return &SinkTable{sinks: make(map[core.SocketAddress]*RtpSink)}
}

// Insert registers s, replacing any stale sink on the same socket.
func (t *SinkTable) Insert(s *RtpSink) {
	t.mu.Lock()
	t.sinks[s.Socket()] = s
	if len(t.sinks) > t.peak {
		t.peak = len(t.sinks)
	}
	t.mu.Unlock()
}

// Remove unregisters s only if it still owns its socket.
func (t *SinkTable) Remove(s *RtpSink) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sinks[s.Socket()]; ok && cur == s {
		delete(t.sinks, s.Socket())
		return true
	}
	return false
}

// Find returns the sink registered for socket.
func (t *SinkTable) Find(socket core.SocketAddress) (*RtpSink, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sinks[socket]
	return s, ok
}

// Deliver hands buf to the sink registered for dst.
func (t *SinkTable) Deliver(dst core.SocketAddress, buf *core.PacketBuffer) bool {
	s, ok := t.Find(dst)
	if !ok {
		return false
	}
	s.RollIn(buf)
	return true
}

func (t *SinkTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sinks)
}

func (t *SinkTable) Peak() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peak
}
