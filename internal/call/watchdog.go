package call

import (
	"context"
	"time"

	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/queue"
)

// Limits bounds call lifetime. A zero limit is disabled.
type Limits struct {
	MaxRecordingTime  time.Duration
	MaxCallAge        time.Duration
	MaxCallAgeIfError time.Duration
	MaxRtpInactivity  time.Duration
}

// Watchdog sweeps the live call table and evicts expired calls.
type Watchdog struct {
	calls    *CallTable
	sinks    *SinkTable
	decode   *queue.Queue[*Call]
	limits   Limits
	interval time.Duration
	logger   log.Logger
	now      func() time.Time
}

func NewWatchdog(calls *CallTable, sinks *SinkTable, decode *queue.Queue[*Call], limits Limits,
	interval time.Duration, logger log.Logger) *Watchdog {
	return &Watchdog{
		calls:    calls,
		sinks:    sinks,
		decode:   decode,
		limits:   limits,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the wall clock. It must be called before Run.
func (w *Watchdog) SetClock(now func() time.Time) {
	w.now = now
}

// Run sweeps every interval until ctx is done. A sweep in progress completes.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep evicts every call past its limits and returns how many went.
func (w *Watchdog) Sweep() int {
	now := w.now()

	var (
		marked  []*Call
		reasons = make(map[*Call]string)
	)
	for _, c := range w.calls.Snapshot() {
		c.Lock()
		if reason := w.inspect(c, now); reason != "" {
			c.unregisterSinks(w.sinks)
			marked = append(marked, c)
			reasons[c] = reason
		}
		c.Unlock()
	}
	if len(marked) == 0 {
		return 0
	}

	evicted := w.calls.EraseAll(marked)
	for _, c := range evicted {
		w.hand(c, reasons[c])
	}
	return len(evicted)
}

// inspect applies the limits to c and returns the eviction reason, if any.
// The call lock must be held.
func (w *Watchdog) inspect(c *Call, now time.Time) string {
	if c.evicted {
		return ""
	}
	if c.checkRecordingTime(now, w.limits.MaxRecordingTime) {
		w.logger.WithField("call_id", c.ID).Debug("recording time exceeded, sinks deactivated")
	}

	inactive := c.rtpInactivity(now)
	age := c.Age(now)
	switch {
	case w.limits.MaxRtpInactivity > 0 && inactive > w.limits.MaxRtpInactivity:
		return EvictInactivity
	case w.limits.MaxCallAge > 0 && age > w.limits.MaxCallAge:
		return EvictMaxAge
	case c.failed && w.limits.MaxCallAgeIfError > 0 && age > w.limits.MaxCallAgeIfError:
		return EvictMaxAgeFailed
	}
	return ""
}

// Flush evicts every live call. It is used when the capture source is exhausted.
func (w *Watchdog) Flush() int {
	calls := w.calls.Snapshot()
	for _, c := range calls {
		c.Lock()
		c.unregisterSinks(w.sinks)
		c.Unlock()
	}
	evicted := w.calls.EraseAll(calls)
	for _, c := range evicted {
		w.hand(c, EvictFlush)
	}
	return len(evicted)
}

func (w *Watchdog) hand(c *Call, reason string) {
	c.Lock()
	c.evicted = true
	// sinks registered between the sweep and the erase
	c.unregisterSinks(w.sinks)
	c.Unlock()

	w.decode.Push(c)
	metrics.CallEvictionsTotal.WithLabelValues(reason).Inc()
	w.logger.WithField("call_id", c.ID).WithField("reason", reason).Debug("call evicted")
}
