package pipeline

import (
	"sync/atomic"
)

// Metrics counts packets at each pipeline hop. Prometheus carries the same
// information; these counters back Stats for replay summaries and tests.
type Metrics struct {
	Frames       atomic.Uint64
	LayerDropped atomic.Uint64
	Rtp          atomic.Uint64
	Sip          atomic.Uint64
	NotSip       atomic.Uint64
	TooSmall     atomic.Uint64
	SipDropped   atomic.Uint64
	Anomalies    atomic.Uint64
	Recordings   atomic.Uint64
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Frames.Store(0)
	m.LayerDropped.Store(0)
	m.Rtp.Store(0)
	m.Sip.Store(0)
	m.NotSip.Store(0)
	m.TooSmall.Store(0)
	m.SipDropped.Store(0)
	m.Anomalies.Store(0)
	m.Recordings.Store(0)
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Frames       uint64 `json:"frames"`
	LayerDropped uint64 `json:"layer_dropped"`
	Rtp          uint64 `json:"rtp"`
	Sip          uint64 `json:"sip"`
	NotSip       uint64 `json:"not_sip"`
	TooSmall     uint64 `json:"too_small"`
	SipDropped   uint64 `json:"sip_dropped"`
	Anomalies    uint64 `json:"anomalies"`
	Recordings   uint64 `json:"recordings"`
}

func (m *Metrics) snapshot() Stats {
	return Stats{
		Frames:       m.Frames.Load(),
		LayerDropped: m.LayerDropped.Load(),
		Rtp:          m.Rtp.Load(),
		Sip:          m.Sip.Load(),
		NotSip:       m.NotSip.Load(),
		TooSmall:     m.TooSmall.Load(),
		SipDropped:   m.SipDropped.Load(),
		Anomalies:    m.Anomalies.Load(),
		Recordings:   m.Recordings.Load(),
	}
}
