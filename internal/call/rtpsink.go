package call

import (
	"sync"
	"time"

	"firestige.xyz/callx/internal/core"
)

// RtpSink buffers the RTP packets sent to one negotiated media socket.
// It refers to its call by id only.
type RtpSink struct {
	socket      core.SocketAddress
	callID      string
	callerAudio bool
	recycler    core.Recycler
	now         func() time.Time

	mu           sync.Mutex
	status       SinkStatus
	active       bool
	buffers      []*core.PacketBuffer
	packets      uint64
	lastCount    uint64
	lastActivity time.Time
}

// NewRtpSink creates an active sink in status INIT. Buffers offered while
// the sink is inactive are handed back to recycler.
func NewRtpSink(callID string, socket core.SocketAddress, callerAudio bool, recycler core.Recycler, now func() time.Time) *RtpSink {
	if now == nil {
		now = time.Now
	}
	return &RtpSink{
		socket:       socket,
		callID:       callID,
		callerAudio:  callerAudio,
		recycler:     recycler,
		now:          now,
		status:       SinkInit,
		active:       true,
		lastActivity: now(),
	}
}

// RollIn stores buf in arrival order, or recycles it if the sink is inactive.
func (s *RtpSink) RollIn(buf *core.PacketBuffer) {
	s.mu.Lock()
	s.packets++
	if s.active {
		s.buffers = append(s.buffers, buf)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.recycler != nil {
		s.recycler.Release(buf)
	}
}

// InactiveFor returns zero if packets arrived since the previous check,
// and the time since the last observed arrival otherwise.
func (s *RtpSink) InactiveFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.packets != s.lastCount {
		s.lastCount = s.packets
		s.lastActivity = now
		return 0
	}
	return now.Sub(s.lastActivity)
}

// Deactivate stops buffering. Further packets are recycled. Idempotent.
func (s *RtpSink) Deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Active reports whether the sink still buffers packets.
func (s *RtpSink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Drain moves every buffered packet out of the sink, oldest first.
func (s *RtpSink) Drain() []*core.PacketBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buffers
	s.buffers = nil
	return out
}

// Status returns the correlation status.
func (s *RtpSink) Status() SinkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *RtpSink) setStatus(st SinkStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Socket returns the media socket the sink listens on.
func (s *RtpSink) Socket() core.SocketAddress { return s.socket }

// CallID returns the id of the owning call.
func (s *RtpSink) CallID() string { return s.callID }

// CallerAudio reports whether the sink carries the caller's voice.
func (s *RtpSink) CallerAudio() bool { return s.callerAudio }

// PacketCount returns the number of packets offered, buffered or not.
func (s *RtpSink) PacketCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

// Len returns the number of buffered packets.
func (s *RtpSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}
