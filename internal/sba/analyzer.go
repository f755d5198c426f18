package sba

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
)

// Thresholds configures the six rules. Periods are in minutes.
type Thresholds struct {
	CallAttemptsPeriod int `mapstructure:"sba_call_attempts_period" yaml:"sba_call_attempts_period"`
	CallAttemptsMax    int `mapstructure:"sba_call_attempts_max" yaml:"sba_call_attempts_max"`

	CallsConcurrentPeriod int `mapstructure:"sba_calls_concurrent_period" yaml:"sba_calls_concurrent_period"`
	CallsConcurrentMax    int `mapstructure:"sba_calls_concurrent_max" yaml:"sba_calls_concurrent_max"`

	CallCompletionPeriod      int `mapstructure:"sba_call_completion_period" yaml:"sba_call_completion_period"`
	CallCompletionAttemptsMin int `mapstructure:"sba_call_completion_attempts_min" yaml:"sba_call_completion_attempts_min"`
	CallCompletionMin         int `mapstructure:"sba_call_completion_min" yaml:"sba_call_completion_min"`

	DurationAveragePeriod       int `mapstructure:"sba_call_duration_average_period" yaml:"sba_call_duration_average_period"`
	DurationAverageMinCompleted int `mapstructure:"sba_call_duration_average_min_completed" yaml:"sba_call_duration_average_min_completed"`
	DurationAverageMin          int `mapstructure:"sba_call_duration_average_min" yaml:"sba_call_duration_average_min"`

	DurationCumulativePeriod int `mapstructure:"sba_call_duration_cumulative_period" yaml:"sba_call_duration_cumulative_period"`
	DurationCumulativeMax    int `mapstructure:"sba_call_duration_cumulative_max" yaml:"sba_call_duration_cumulative_max"`

	ClosedByCalleePeriod       int `mapstructure:"sba_calls_closed_by_callee_period" yaml:"sba_calls_closed_by_callee_period"`
	ClosedByCalleeMinCompleted int `mapstructure:"sba_calls_closed_by_callee_min_completed" yaml:"sba_calls_closed_by_callee_min_completed"`
	ClosedByCalleeMax          int `mapstructure:"sba_calls_closed_by_callee_max" yaml:"sba_calls_closed_by_callee_max"`
}

// DefaultThresholds returns the stock rule configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CallAttemptsPeriod:          100,
		CallAttemptsMax:             60,
		CallsConcurrentPeriod:       60,
		CallsConcurrentMax:          10,
		CallCompletionPeriod:        60,
		CallCompletionAttemptsMin:   20,
		CallCompletionMin:           70,
		DurationAveragePeriod:       20,
		DurationAverageMinCompleted: 20,
		DurationAverageMin:          5,
		DurationCumulativePeriod:    100,
		DurationCumulativeMax:       100,
		ClosedByCalleePeriod:        60,
		ClosedByCalleeMinCompleted:  60,
		ClosedByCalleeMax:           80,
	}
}

// MaxPeriod returns the largest rule window in minutes.
func (t Thresholds) MaxPeriod() int {
	m := 0
	for _, p := range []int{
		t.CallAttemptsPeriod, t.CallsConcurrentPeriod, t.CallCompletionPeriod,
		t.DurationAveragePeriod, t.DurationCumulativePeriod, t.ClosedByCalleePeriod,
	} {
		if p > m {
			m = p
		}
	}
	return m
}

// Publisher exports the incidents of one pass.
type Publisher interface {
	Publish(ctx context.Context, incidents []Incident) error
}

// Analyzer evaluates every caller's events against the rules.
type Analyzer struct {
	mu        sync.Mutex // serializes passes and threshold updates
	store     *Store
	cfg       Thresholds
	pause     time.Duration
	publisher Publisher
	logger    log.Logger
	now       func() time.Time
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithPublisher exports incidents after each pass.
func WithPublisher(p Publisher) Option {
	return func(a *Analyzer) { a.publisher = p }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer that pauses between passes.
func NewAnalyzer(store *Store, cfg Thresholds, pause time.Duration, logger log.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:  store,
		cfg:    cfg,
		pause:  pause,
		logger: logger.WithField("stage", "sba"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run performs a pass, then waits for the pause or ctx cancellation.
// A pass in progress always completes.
func (a *Analyzer) Run(ctx context.Context) {
	for {
		incidents := a.Analyze()
		if a.publisher != nil && len(incidents) > 0 {
			if err := a.publisher.Publish(ctx, incidents); err != nil {
				a.logger.WithError(err).Warn("publishing incidents failed")
			}
		}

		timer := time.NewTimer(a.pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Analyze runs one pass over every caller and returns the raised incidents.
func (a *Analyzer) Analyze() []Incident {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	ts := a.now()

	var raised []Incident
	for _, caller := range a.store.Callers() {
		events := a.store.Events(caller)
		for _, rule := range []func(string, []Event, time.Time) (Incident, bool){
			a.callAttempts,
			a.callsConcurrent,
			a.callCompletion,
			a.durationAverage,
			a.durationCumulative,
			a.closedByCallee,
		} {
			inc, ok := rule(caller, events, ts)
			if !ok {
				continue
			}
			inc.ID = uuid.NewString()
			inc.Caller = caller
			inc.Timestamp = ts
			a.store.PutIncident(inc)
			metrics.SbaIncidentsTotal.WithLabelValues(inc.Type.String()).Inc()
			a.logger.WithField("caller", caller).Infof("%s: %s", inc.Type, inc.Reason)
			raised = append(raised, inc)
		}
	}

	if p := a.cfg.MaxPeriod(); p > 0 {
		if n := a.store.Prune(ts.Add(-time.Duration(p) * time.Minute)); n > 0 {
			a.logger.Debugf("pruned %d events older than %d minutes", n, p)
		}
	}
	metrics.SbaPassSeconds.Observe(time.Since(start).Seconds())
	return raised
}

// SetThresholds replaces the rule thresholds from the next pass on.
func (a *Analyzer) SetThresholds(cfg Thresholds) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

// inPeriod is true for events strictly more than 0 seconds and fewer than
// period minutes before ts.
func inPeriod(ts time.Time, ev Event, period int) bool {
	age := ts.Sub(ev.Head().Timestamp)
	return int(age/time.Minute) < period && int(age/time.Second) > 0
}

func (a *Analyzer) callAttempts(caller string, events []Event, ts time.Time) (Incident, bool) {
	period := a.cfg.CallAttemptsPeriod
	callIDs := make(map[string]struct{})

	for _, ev := range events {
		if !inPeriod(ts, ev, period) {
			continue
		}
		if inv, ok := ev.(*InviteEvent); ok && !inv.Reinvite && inv.FinalCode != 0 {
			callIDs[inv.CallID] = struct{}{}
		}
	}

	attempts := len(callIDs)
	if attempts <= a.cfg.CallAttemptsMax {
		return Incident{}, false
	}
	return Incident{
		Type:         IncidentCallAttempts,
		Period:       period,
		Value:        float64(attempts),
		HigherIsEvil: true,
		Reason:       fmt.Sprintf("%d call attempts in period of %d minutes", attempts, period),
	}, true
}

func (a *Analyzer) callsConcurrent(caller string, events []Event, ts time.Time) (Incident, bool) {
	period := a.cfg.CallsConcurrentPeriod
	open := make(map[string]struct{})
	counter, concurrent := 0, 0

	for _, ev := range events {
		if !inPeriod(ts, ev, period) {
			continue
		}
		switch e := ev.(type) {
		case *InviteEvent:
			if !e.Reinvite && e.Acked && e.FinalCode >= 200 && e.FinalCode < 300 {
				open[e.CallID] = struct{}{}
				counter++
				if counter > concurrent {
					concurrent++
				}
			}
		case *ByeEvent:
			if e.FinalCode == 0 {
				continue
			}
			if _, ok := open[e.CallID]; ok {
				delete(open, e.CallID)
				counter--
			} else {
				// the matching INVITE lies before the window
				concurrent++
			}
		}
	}

	if concurrent <= a.cfg.CallsConcurrentMax {
		return Incident{}, false
	}
	return Incident{
		Type:         IncidentCallsConcurrent,
		Period:       period,
		Value:        float64(concurrent),
		HigherIsEvil: true,
		Reason:       fmt.Sprintf("%d concurrent calls in period of %d minutes", concurrent, period),
	}, true
}

func (a *Analyzer) callCompletion(caller string, events []Event, ts time.Time) (Incident, bool) {
	period := a.cfg.CallCompletionPeriod
	attempts, completed := 0, 0

	for _, ev := range events {
		if !inPeriod(ts, ev, period) {
			continue
		}
		inv, ok := ev.(*InviteEvent)
		if !ok || inv.Reinvite {
			continue
		}
		if inv.FinalCode == 0 {
			attempts++
		}
		if inv.Acked && inv.FinalCode == 200 {
			completed++
		}
	}

	if attempts == 0 || attempts < a.cfg.CallCompletionAttemptsMin {
		return Incident{}, false
	}
	ratio := math.Floor(float64(completed)/float64(attempts)*100 + 0.5)
	if ratio >= float64(a.cfg.CallCompletionMin) {
		return Incident{}, false
	}
	return Incident{
		Type:   IncidentCallCompletion,
		Period: period,
		Value:  ratio,
		Reason: fmt.Sprintf("%d%% call completion in period of %d minutes", int(ratio), period),
	}, true
}

func (a *Analyzer) durationAverage(caller string, events []Event, ts time.Time) (Incident, bool) {
	period := a.cfg.DurationAveragePeriod
	var sum time.Duration
	counter := 0

	for _, ev := range events {
		if !inPeriod(ts, ev, period) {
			continue
		}
		if bye, ok := ev.(*ByeEvent); ok && bye.FinalCode != 0 {
			sum += bye.Duration
			counter++
		}
	}

	if counter == 0 || counter < a.cfg.DurationAverageMinCompleted {
		return Incident{}, false
	}
	avg := math.Floor(float64(sum.Milliseconds())/float64(counter)/1000 + 0.5)
	if avg >= float64(a.cfg.DurationAverageMin) {
		return Incident{}, false
	}
	return Incident{
		Type:   IncidentCallDurationAverage,
		Period: period,
		Value:  avg,
		Reason: fmt.Sprintf("%d seconds average call duration in period of %d minutes", int(avg), period),
	}, true
}

func (a *Analyzer) durationCumulative(caller string, events []Event, ts time.Time) (Incident, bool) {
	period := a.cfg.DurationCumulativePeriod
	var sum time.Duration

	for _, ev := range events {
		if !inPeriod(ts, ev, period) {
			continue
		}
		if bye, ok := ev.(*ByeEvent); ok && bye.FinalCode == 0 {
			sum += bye.Duration
		}
	}

	minutes := math.Floor(float64(sum.Milliseconds()) / 1000 / 60)
	if minutes <= float64(a.cfg.DurationCumulativeMax) {
		return Incident{}, false
	}
	return Incident{
		Type:         IncidentCallDurationCumulative,
		Period:       period,
		Value:        minutes,
		HigherIsEvil: true,
		Reason:       fmt.Sprintf("%d minutes cumulative duration in period of %d minutes", int(minutes), period),
	}, true
}

func (a *Analyzer) closedByCallee(caller string, events []Event, ts time.Time) (Incident, bool) {
	period := a.cfg.ClosedByCalleePeriod
	closed, counter := 0, 0

	for _, ev := range events {
		if !inPeriod(ts, ev, period) {
			continue
		}
		bye, ok := ev.(*ByeEvent)
		if !ok || bye.FinalCode != 0 {
			continue
		}
		if bye.Caller.Tag != bye.Initiator.Tag {
			closed++
		}
		counter++
	}

	if counter == 0 || counter < a.cfg.ClosedByCalleeMinCompleted {
		return Incident{}, false
	}
	ratio := math.Floor(float64(closed)/float64(counter)*100 + 0.5)
	if ratio <= float64(a.cfg.ClosedByCalleeMax) {
		return Incident{}, false
	}
	return Incident{
		Type:         IncidentCallsClosedByCallee,
		Period:       period,
		Value:        ratio,
		HigherIsEvil: true,
		Reason:       fmt.Sprintf("%d%% of the calls are closed by the callee", int(ratio)),
	}, true
}
