package pipeline

import (
	"firestige.xyz/callx/internal/call"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/sba"
)

// Containers reports the current and peak size of every pool, queue, table
// and map. It backs the console and the Prometheus collector.
func (p *Pipeline) Containers() []metrics.ContainerSize {
	events, eventsPeak := p.store.EventCount()
	incidents := p.store.IncidentCount()
	return []metrics.ContainerSize{
		{Name: "packet_pool", Current: p.pool.InUse(), Peak: p.pool.PeakInUse()},
		{Name: "frame_queue", Current: p.frames.Len(), Peak: p.frames.MaxLen()},
		{Name: "udp_queue", Current: p.udp.Len(), Peak: p.udp.MaxLen()},
		{Name: "sip_queue", Current: p.sip.Len(), Peak: p.sip.MaxLen()},
		{Name: "decode_queue", Current: p.decode.Len(), Peak: p.decode.MaxLen()},
		{Name: "pcm_queue", Current: p.pcm.Len(), Peak: p.pcm.MaxLen()},
		{Name: "call_table", Current: p.calls.Len(), Peak: p.calls.Peak()},
		{Name: "rtp_sink_table", Current: p.sinks.Len(), Peak: p.sinks.Peak()},
		{Name: "sba_callers", Current: p.store.Len(), Peak: p.store.Len()},
		{Name: "sba_events", Current: events, Peak: eventsPeak},
		{Name: "sba_incidents", Current: incidents, Peak: incidents},
	}
}

// CaptureStats returns the counters of the capture handle, zero before Start.
func (p *Pipeline) CaptureStats() metrics.CaptureStats {
	p.mu.Lock()
	src := p.source
	started := p.started
	p.mu.Unlock()
	if src == nil || !started {
		return metrics.CaptureStats{}
	}
	return src.Stats()
}

// Calls describes every live call.
func (p *Pipeline) Calls() []call.Info {
	now := p.now()
	calls := p.calls.Snapshot()
	out := make([]call.Info, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Info(now))
	}
	return out
}

func (p *Pipeline) SbaEventCounts() map[string]int { return p.store.EventCounts() }

func (p *Pipeline) SbaIncidents() map[string][]sba.Incident { return p.store.Incidents() }

func (p *Pipeline) RtpSeqErrors() uint64 { return p.assembler.SeqErrors() }

func (p *Pipeline) ConfigYAML() ([]byte, error) { return p.cfg.YAML() }

// ClearSba drops every recorded event and incident.
func (p *Pipeline) ClearSba() { p.store.Clear() }

// SetThresholds replaces the SBA rule thresholds of a running pipeline.
func (p *Pipeline) SetThresholds(t sba.Thresholds) { p.analyzer.SetThresholds(t) }
