package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ContainerSize is the current and peak size of one pipeline container.
type ContainerSize struct {
	Name    string `json:"name"`
	Current int    `json:"current"`
	Peak    int    `json:"peak"`
}

// CaptureStats mirrors the counters reported by a capture handle.
type CaptureStats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	IfDropped uint64 `json:"if_dropped"`
}

// StatsSource is read at scrape time.
type StatsSource interface {
	Containers() []ContainerSize
	CaptureStats() CaptureStats
}

// Collector exports container sizes and capture counters on every scrape.
type Collector struct {
	source StatsSource

	containerSize *prometheus.Desc
	containerPeak *prometheus.Desc
	captured      *prometheus.Desc
	dropped       *prometheus.Desc
	ifDropped     *prometheus.Desc
}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		containerSize: prometheus.NewDesc("callx_container_size",
			"Current number of entries in a pipeline container", []string{"container"}, nil),
		containerPeak: prometheus.NewDesc("callx_container_peak",
			"Largest number of entries observed in a pipeline container", []string{"container"}, nil),
		captured: prometheus.NewDesc("callx_capture_received_total",
			"Packets received by the capture handle", nil, nil),
		dropped: prometheus.NewDesc("callx_capture_dropped_total",
			"Packets dropped by the capture handle", nil, nil),
		ifDropped: prometheus.NewDesc("callx_capture_if_dropped_total",
			"Packets dropped by the network interface", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.containerSize
	ch <- c.containerPeak
	ch <- c.captured
	ch <- c.dropped
	ch <- c.ifDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.Containers() {
		ch <- prometheus.MustNewConstMetric(c.containerSize, prometheus.GaugeValue, float64(s.Current), s.Name)
		ch <- prometheus.MustNewConstMetric(c.containerPeak, prometheus.GaugeValue, float64(s.Peak), s.Name)
	}
	st := c.source.CaptureStats()
	ch <- prometheus.MustNewConstMetric(c.captured, prometheus.CounterValue, float64(st.Received))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.Dropped))
	ch <- prometheus.MustNewConstMetric(c.ifDropped, prometheus.CounterValue, float64(st.IfDropped))
}
