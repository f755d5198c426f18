// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets leaving each stage, by result
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_packets_total",
			Help: "Total number of packets handled per pipeline stage and result",
		},
		[]string{"stage", "result"},
	)

	// PoolExhaustedTotal counts captured frames lost because no buffer was free
	PoolExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callx_pool_exhausted_total",
			Help: "Total number of frames dropped because the packet buffer pool was empty",
		},
	)

	// SipMessagesTotal counts parsed SIP messages by type and method
	SipMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_sip_messages_total",
			Help: "Total number of SIP messages processed",
		},
		[]string{"type", "method"},
	)

	// SipAnomaliesTotal counts protocol anomalies that dropped a message
	SipAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_sip_anomalies_total",
			Help: "Total number of SIP protocol anomalies by kind",
		},
		[]string{"kind"},
	)

	// CallsCreatedTotal counts calls inserted into the live call table
	CallsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callx_calls_created_total",
			Help: "Total number of calls created",
		},
	)

	// CallEvictionsTotal counts calls moved to decoding, by reason
	CallEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_call_evictions_total",
			Help: "Total number of calls evicted from the live table",
		},
		[]string{"reason"},
	)

	// SbaEventsTotal counts signaling events by transaction type
	SbaEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_sba_events_total",
			Help: "Total number of signaling events recorded",
		},
		[]string{"type"},
	)

	// SbaIncidentsTotal counts incidents raised by rule
	SbaIncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_sba_incidents_total",
			Help: "Total number of incidents raised by the signaling analyzer",
		},
		[]string{"type"},
	)

	// SbaPassSeconds measures analyzer pass duration
	SbaPassSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callx_sba_pass_seconds",
			Help:    "Duration of one signaling analyzer pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	// RtpSeqErrorsTotal counts RTP sequence number discontinuities
	RtpSeqErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callx_rtp_seq_errors_total",
			Help: "Total number of RTP sequence number discontinuities seen while decoding",
		},
	)

	// AudioFramesTotal counts RTP frames by decode result
	AudioFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_audio_frames_total",
			Help: "Total number of RTP frames handled by the audio stage",
		},
		[]string{"result"},
	)

	// OutputWritesTotal counts output writes by writer and result
	OutputWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_output_writes_total",
			Help: "Total number of audio output writes",
		},
		[]string{"writer", "result"},
	)

	// ReporterErrorsTotal counts incident export errors
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callx_reporter_errors_total",
			Help: "Total number of incident reporter errors",
		},
		[]string{"reporter", "error_type"},
	)
)

// Result label values shared by the stage counters.
const (
	ResultOK      = "ok"
	ResultDropped = "dropped"
	ResultError   = "error"
)
