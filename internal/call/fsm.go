package call

import (
	"fmt"

	"firestige.xyz/callx/internal/sip"
)

// Trigger is the message class that drives a transaction transition.
type Trigger uint8

const (
	TriggerProvisional Trigger = iota + 1
	TriggerSuccess
	TriggerFailure
	TriggerAck
)

func (t Trigger) String() string {
	switch t {
	case TriggerProvisional:
		return "1xx"
	case TriggerSuccess:
		return "2xx"
	case TriggerFailure:
		return "non-2xx"
	case TriggerAck:
		return "ACK"
	default:
		return "unknown"
	}
}

// TriggerOf classifies a response status code.
func TriggerOf(code int) Trigger {
	switch sip.CategoryOf(code) {
	case sip.CategoryProvisional:
		return TriggerProvisional
	case sip.CategorySuccess:
		return TriggerSuccess
	default:
		return TriggerFailure
	}
}

type transitionKey struct {
	method  sip.Method
	trigger Trigger
	from    StatePair
}

// Transition is one row of a transition table.
type Transition struct {
	Method  sip.Method
	Trigger Trigger
	From    []StatePair
	To      StatePair
}

// Table maps (method, trigger, pre-state) to a post-state.
type Table struct {
	initial map[sip.Method]StatePair
	next    map[transitionKey]StatePair
}

// DefaultTransitions returns the initial states and transitions of the
// INVITE, ACK, BYE, OPTIONS and CANCEL transactions.
func DefaultTransitions() (map[sip.Method]StatePair, []Transition) {
	initial := map[sip.Method]StatePair{
		sip.MethodInvite:  CallingProceeding,
		sip.MethodAck:     TerminatedTerminated,
		sip.MethodBye:     TryingTrying,
		sip.MethodOptions: TryingTrying,
		sip.MethodCancel:  TryingTrying,
	}

	pending := []StatePair{CallingProceeding, ProceedingProceeding}
	rows := []Transition{
		{sip.MethodInvite, TriggerProvisional, pending, ProceedingProceeding},
		{sip.MethodInvite, TriggerSuccess, pending, TerminatedTerminated},
		{sip.MethodInvite, TriggerFailure, pending, TerminatedCompleted},
		{sip.MethodInvite, TriggerAck, []StatePair{TerminatedCompleted}, TerminatedTerminated},
	}
	for _, m := range []sip.Method{sip.MethodBye, sip.MethodOptions, sip.MethodCancel} {
		from := []StatePair{TryingTrying, ProceedingProceeding}
		rows = append(rows,
			Transition{m, TriggerProvisional, from, ProceedingProceeding},
			Transition{m, TriggerSuccess, from, TerminatedTerminated},
			Transition{m, TriggerFailure, from, TerminatedTerminated},
		)
	}
	return initial, rows
}

// NewTable builds and validates a transition table.
func NewTable(initial map[sip.Method]StatePair, rows []Transition) (*Table, error) {
	t := &Table{
		initial: make(map[sip.Method]StatePair, len(initial)),
		next:    make(map[transitionKey]StatePair),
	}
	for m, s := range initial {
		t.initial[m] = s
	}
	for _, r := range rows {
		for _, from := range r.From {
			k := transitionKey{r.Method, r.Trigger, from}
			if prev, dup := t.next[k]; dup && prev != r.To {
				return nil, fmt.Errorf("conflicting transitions for %s %s from %s", r.Method, r.Trigger, from)
			}
			t.next[k] = r.To
		}
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustTable is NewTable for tables fixed at compile time.
func MustTable(initial map[sip.Method]StatePair, rows []Transition) *Table {
	t, err := NewTable(initial, rows)
	if err != nil {
		panic(err)
	}
	return t
}

// validate checks that every pre-state is reachable from an initial state
// and that every non-terminal initial state accepts every response class.
func (t *Table) validate() error {
	for k := range t.next {
		if _, ok := t.initial[k.method]; !ok {
			return fmt.Errorf("method %s has transitions but no initial state", k.method)
		}
		if !t.reachable(k.method, k.from) {
			return fmt.Errorf("%s %s: pre-state %s is unreachable", k.method, k.trigger, k.from)
		}
	}
	for m, s := range t.initial {
		if s == TerminatedTerminated {
			continue
		}
		for _, trig := range []Trigger{TriggerProvisional, TriggerSuccess, TriggerFailure} {
			if _, ok := t.next[transitionKey{m, trig, s}]; !ok {
				return fmt.Errorf("%s in %s has no %s transition", m, s, trig)
			}
		}
	}
	return nil
}

func (t *Table) reachable(m sip.Method, target StatePair) bool {
	start, ok := t.initial[m]
	if !ok {
		return false
	}
	seen := map[StatePair]bool{start: true}
	frontier := []StatePair{start}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur == target {
			return true
		}
		for k, to := range t.next {
			if k.method == m && k.from == cur && !seen[to] {
				seen[to] = true
				frontier = append(frontier, to)
			}
		}
	}
	return false
}

// Initial returns the state of a newly created transaction.
func (t *Table) Initial(m sip.Method) (StatePair, bool) {
	s, ok := t.initial[m]
	return s, ok
}

// Next returns the post-state, or false if from does not admit trigger.
func (t *Table) Next(m sip.Method, trigger Trigger, from StatePair) (StatePair, bool) {
	s, ok := t.next[transitionKey{m, trigger, from}]
	return s, ok
}

var defaultTable = MustTable(DefaultTransitions())
