package call

import (
	"sort"
	"sync"
	"time"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/sip"
)

// Dialog is the signaling session state of a call.
type Dialog struct {
	State  DialogState
	CallID string
	Caller sip.FromTo
	Callee sip.FromTo
}

// Call is one SIP dialog's lifecycle. Every field below mu is guarded by it;
// hold the lock through Lock/Unlock for the whole of one message.
type Call struct {
	ID      string
	Created time.Time

	mu        sync.Mutex
	activity  time.Time
	dialog    Dialog
	txns      map[TransactionID]*Transaction
	sinks     map[core.SocketAddress]*RtpSink
	reinvite  bool
	recording bool
	failed    bool
	evicted   bool
}

// NewCall creates a call in dialog state UNDEFINED.
func NewCall(id string, now time.Time, recording bool) *Call {
	return &Call{
		ID:        id,
		Created:   now,
		activity:  now,
		dialog:    Dialog{CallID: id},
		txns:      make(map[TransactionID]*Transaction),
		sinks:     make(map[core.SocketAddress]*RtpSink),
		recording: recording,
	}
}

func (c *Call) Lock()   { c.mu.Lock() }
func (c *Call) Unlock() { c.mu.Unlock() }

// The accessors below require the call lock.

// Dialog returns a copy of the dialog.
func (c *Call) Dialog() Dialog { return c.dialog }

// Recording reports whether RTP of this call is buffered.
func (c *Call) Recording() bool { return c.recording }

// Reinvite reports whether a re-INVITE transaction is pending.
func (c *Call) Reinvite() bool { return c.reinvite }

// Evicted reports whether the call left the live table.
func (c *Call) Evicted() bool { return c.evicted }

// Activity returns the time of the last processed message.
func (c *Call) Activity() time.Time { return c.activity }

// Age returns the time since creation.
func (c *Call) Age(now time.Time) time.Duration { return now.Sub(c.Created) }

// Transaction returns the transaction with the given id.
func (c *Call) Transaction(id TransactionID) (*Transaction, bool) {
	t, ok := c.txns[id]
	return t, ok
}

// TransactionCount returns the number of open transactions.
func (c *Call) TransactionCount() int { return len(c.txns) }

// Sinks returns the call's sinks ordered by socket.
func (c *Call) Sinks() []*RtpSink {
	out := make([]*RtpSink, 0, len(c.sinks))
	for _, s := range c.sinks {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Socket().Less(out[j].Socket()) })
	return out
}

// Sink returns the call's sink for socket.
func (c *Call) Sink(socket core.SocketAddress) (*RtpSink, bool) {
	s, ok := c.sinks[socket]
	return s, ok
}

// findInviteTransaction returns any pending INVITE transaction.
func (c *Call) findInviteTransaction() (*Transaction, bool) {
	for id, t := range c.txns {
		if id.Method == sip.MethodInvite {
			return t, true
		}
	}
	return nil, false
}

// checkRecordingTime stops buffering once the call is older than limit.
func (c *Call) checkRecordingTime(now time.Time, limit time.Duration) bool {
	if !c.recording || limit <= 0 || c.Age(now) <= limit {
		return false
	}
	for _, s := range c.sinks {
		s.Deactivate()
	}
	c.recording = false
	return true
}

// rtpInactivity is the smallest inactivity over all sinks, or the call
// age if there are none.
func (c *Call) rtpInactivity(now time.Time) time.Duration {
	if len(c.sinks) == 0 {
		return c.Age(now)
	}
	least := time.Duration(-1)
	for _, s := range c.sinks {
		if d := s.InactiveFor(); least < 0 || d < least {
			least = d
		}
	}
	return least
}

// unregisterSinks removes every sink of the call from the global table
// and marks it TERMINATED.
func (c *Call) unregisterSinks(table *SinkTable) {
	for _, s := range c.sinks {
		table.Remove(s)
		s.setStatus(SinkTerminated)
	}
}

// SinkInfo describes one sink for introspection.
type SinkInfo struct {
	Socket      string `json:"socket"`
	Status      string `json:"status"`
	CallerAudio bool   `json:"caller_audio"`
	Active      bool   `json:"active"`
	Packets     uint64 `json:"packets"`
	Buffered    int    `json:"buffered"`
}

// Info describes one live call for introspection.
type Info struct {
	ID           string     `json:"call_id"`
	DialogState  string     `json:"dialog_state"`
	Caller       string     `json:"caller"`
	Callee       string     `json:"callee"`
	AgeSeconds   float64    `json:"age_seconds"`
	Reinvite     bool       `json:"reinvite"`
	Recording    bool       `json:"recording"`
	Transactions int        `json:"transactions"`
	Sinks        []SinkInfo `json:"sinks"`
}

// Info snapshots the call. It takes the call lock.
func (c *Call) Info(now time.Time) Info {
	c.Lock()
	defer c.Unlock()

	info := Info{
		ID:           c.ID,
		DialogState:  c.dialog.State.String(),
		Caller:       c.dialog.Caller.Address,
		Callee:       c.dialog.Callee.Address,
		AgeSeconds:   c.Age(now).Seconds(),
		Reinvite:     c.reinvite,
		Recording:    c.recording,
		Transactions: len(c.txns),
	}
	for _, s := range c.Sinks() {
		info.Sinks = append(info.Sinks, SinkInfo{
			Socket:      s.Socket().String(),
			Status:      s.Status().String(),
			CallerAudio: s.CallerAudio(),
			Active:      s.Active(),
			Packets:     s.PacketCount(),
			Buffered:    s.Len(),
		})
	}
	return info
}
