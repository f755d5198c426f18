package call

import (
	"errors"
	"fmt"
	"time"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/queue"
	"firestige.xyz/callx/internal/sba"
	"firestige.xyz/callx/internal/sip"
)

// Eviction reasons used as metric labels.
const (
	EvictBye          = "bye"
	EvictRejected     = "rejected"
	EvictInactivity   = "rtp_inactivity"
	EvictMaxAge       = "max_age"
	EvictMaxAgeFailed = "max_age_if_error"
	EvictFlush        = "flush"
)

// EventStore records signaling events and answers the recording policy.
type EventStore interface {
	Add(caller string, ev sba.Event)
	HasIncident(caller string) bool
}

// Processor maps SIP messages onto calls and drives their transactions,
// dialogs and RTP sinks.
type Processor struct {
	calls    *CallTable
	sinks    *SinkTable
	decode   *queue.Queue[*Call]
	events   EventStore
	recycler core.Recycler
	table    *Table
	logger   log.Logger
	now      func() time.Time

	recordIfIncidentOnly bool
}

// Option customizes a Processor.
type Option func(*Processor)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithRecordIfIncidentOnly records RTP only for callers that already have an incident.
func WithRecordIfIncidentOnly(v bool) Option {
	return func(p *Processor) { p.recordIfIncidentOnly = v }
}

// WithTable replaces the transaction transition table.
func WithTable(t *Table) Option {
	return func(p *Processor) { p.table = t }
}

func NewProcessor(calls *CallTable, sinks *SinkTable, decode *queue.Queue[*Call], events EventStore,
	recycler core.Recycler, logger log.Logger, opts ...Option) *Processor {
	p := &Processor{
		calls:    calls,
		sinks:    sinks,
		decode:   decode,
		events:   events,
		recycler: recycler,
		table:    defaultTable,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies one message. A returned error is a protocol anomaly:
// the message was dropped and no state changed.
func (p *Processor) Process(msg *sip.Message) error {
	err := p.process(msg)
	if err != nil {
		p.reportAnomaly(msg, err)
	}
	return err
}

func (p *Processor) reportAnomaly(msg *sip.Message, err error) {
	metrics.SipAnomaliesTotal.WithLabelValues(anomalyKind(err)).Inc()

	l := p.logger.WithField("call_id", msg.CallID).WithField("message", msg.String())
	switch {
	case errors.Is(err, ErrUnknownCall), errors.Is(err, ErrRetransmission), errors.Is(err, ErrUnsupportedMethod):
		l.WithError(err).Debug("message dropped")
	default:
		l.WithError(err).Warn("message dropped")
	}
}

func (p *Processor) process(msg *sip.Message) error {
	if msg.Type == sip.Malformed {
		return core.ErrMalformedStartLine
	}
	if err := checkRequired(msg); err != nil {
		return err
	}

	now := p.now()
	c, ok := p.calls.Find(msg.CallID)
	if !ok {
		if !msg.IsRequest(sip.MethodInvite) && !msg.IsRequest(sip.MethodOptions) {
			return ErrUnknownCall
		}
		c = p.createCall(msg, now)
	}

	c.Lock()
	defer c.Unlock()
	if c.evicted {
		return ErrUnknownCall
	}
	c.activity = now

	x := &exchange{p: p, c: c, msg: msg, now: now}
	if msg.Type == sip.Request {
		return x.request()
	}
	return x.response()
}

// checkRequired rejects a message whose mandatory fields did not parse,
// before any call is looked up or created.
func checkRequired(msg *sip.Message) error {
	if msg.CallID == "" {
		return ErrMissingCallID
	}
	if !msg.HasCSeq {
		return ErrMalformedCSeq
	}
	if msg.Type == sip.Request && msg.CSeqMethod != msg.Method {
		return fmt.Errorf("%w: cseq method %s on %s request", ErrMalformedCSeq, msg.CSeqMethod, msg.Method)
	}
	if !msg.HasFrom || msg.From.Address == "" {
		return fmt.Errorf("%w: from %q", ErrMalformedFromTo, msg.FromRaw)
	}
	if !msg.HasTo || msg.To.Address == "" {
		return fmt.Errorf("%w: to %q", ErrMalformedFromTo, msg.ToRaw)
	}
	if msg.Branch == "" {
		return ErrMissingBranch
	}
	return nil
}

func (p *Processor) createCall(msg *sip.Message, now time.Time) *Call {
	recording := true
	if p.recordIfIncidentOnly && !p.events.HasIncident(msg.From.Address) {
		recording = false
	}

	c, inserted := p.calls.InsertOrGet(NewCall(msg.CallID, now, recording))
	if inserted {
		metrics.CallsCreatedTotal.Inc()
		p.logger.WithField("call_id", c.ID).WithField("recording", recording).Debug("call created")
	}
	return c
}

// evict unregisters the call's sinks and hands the call to decoding.
// The call lock must be held. A call is pushed at most once.
func (p *Processor) evict(c *Call, reason string) {
	c.unregisterSinks(p.sinks)
	if !p.calls.Erase(c) {
		return
	}
	c.evicted = true
	p.decode.Push(c)
	metrics.CallEvictionsTotal.WithLabelValues(reason).Inc()
	p.logger.WithField("call_id", c.ID).WithField("reason", reason).Debug("call evicted")
}

// exchange carries the state of processing one message under the call lock.
type exchange struct {
	p   *Processor
	c   *Call
	msg *sip.Message
	tx  *Transaction
	now time.Time
}

func (x *exchange) request() error {
	msg, c := x.msg, x.c

	tx, ok := c.txns[TransactionID{msg.Branch, msg.CSeqMethod}]
	if !ok && msg.Method == sip.MethodAck {
		tx, ok = c.txns[TransactionID{msg.Branch, sip.MethodInvite}]
	}
	if ok {
		x.tx = tx
		return x.requestWithinTransaction()
	}

	switch msg.Method {
	case sip.MethodInvite:
		return x.invite()
	case sip.MethodCancel:
		return x.cancel()
	case sip.MethodAck:
		return x.ackOnSuccess()
	case sip.MethodBye, sip.MethodOptions:
		x.open(msg.Method)
		x.emit(x.tx)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, msg.Method)
	}
}

func (x *exchange) requestWithinTransaction() error {
	if x.msg.Method != sip.MethodAck {
		return ErrRetransmission
	}
	// an ACK for a 2xx that reuses the INVITE branch
	if x.tx.State == TerminatedTerminated && sip.CategoryOf(x.tx.FinalCode) == sip.CategorySuccess {
		return x.ackOnSuccess()
	}
	return x.ackOnNonSuccess()
}

func (x *exchange) response() error {
	tx, ok := x.c.txns[TransactionID{x.msg.Branch, x.msg.CSeqMethod}]
	if !ok {
		return ErrNoTransaction
	}
	x.tx = tx

	trigger := TriggerOf(x.msg.StatusCode)
	switch tx.ID.Method {
	case sip.MethodInvite:
		switch trigger {
		case TriggerProvisional:
			return x.inviteProvisional()
		case TriggerSuccess:
			return x.inviteSuccess()
		default:
			return x.inviteFailure()
		}
	case sip.MethodBye, sip.MethodOptions, sip.MethodCancel:
		if trigger == TriggerProvisional {
			return x.advance(trigger)
		}
		return x.nonInviteFinal(trigger)
	default:
		return fmt.Errorf("%w: response to %s", ErrUnsupportedMethod, tx.ID.Method)
	}
}

// open creates and registers a transaction for the current request.
func (x *exchange) open(m sip.Method) *Transaction {
	state, _ := x.p.table.Initial(m)
	x.tx = newTransaction(x.msg, state, x.now)
	x.c.txns[x.tx.ID] = x.tx
	return x.tx
}

// advance moves the current transaction along the table.
func (x *exchange) advance(trigger Trigger) error {
	next, ok := x.p.table.Next(x.tx.ID.Method, trigger, x.tx.State)
	if !ok {
		return fmt.Errorf("%w: %s %s in %s", ErrStateMismatch, x.tx.ID.Method, trigger, x.tx.State)
	}
	x.tx.State = next
	x.tx.Activity = x.now
	return nil
}

func (x *exchange) invite() error {
	c, d := x.c, &x.c.dialog

	switch {
	case d.State == DialogTerminating:
		return ErrCallTerminating
	case d.State == DialogInit, d.State == DialogEarly, c.reinvite:
		return ErrNestedInvite
	}

	if d.State == DialogConfirmed {
		c.reinvite = true
	} else {
		d.Caller = x.msg.From
		d.Callee = x.msg.To
	}
	d.State = DialogInit

	x.open(sip.MethodInvite).Reinvite = c.reinvite
	x.processSDP()
	x.emit(x.tx)
	return nil
}

func (x *exchange) cancel() error {
	inv, ok := x.c.txns[TransactionID{x.msg.Branch, sip.MethodInvite}]
	if !ok {
		return fmt.Errorf("%w: cancel without invite", ErrNoTransaction)
	}
	if inv.SentBy != x.msg.SentBy {
		return ErrSentByMismatch
	}
	if inv.CSeq != x.msg.CSeqNum {
		metrics.SipAnomaliesTotal.WithLabelValues(anomalyKind(ErrCSeqMismatch)).Inc()
		x.p.logger.WithField("call_id", x.c.ID).
			Warnf("cancel cseq %d does not match invite cseq %d", x.msg.CSeqNum, inv.CSeq)
	}

	x.open(sip.MethodCancel)
	x.emit(x.tx)

	inv.Cancelled = true
	x.emit(inv)
	return nil
}

func (x *exchange) ackOnNonSuccess() error {
	c, tx := x.c, x.tx
	if err := x.advance(TriggerAck); err != nil {
		return err
	}
	tx.Acked = true
	x.emit(tx)

	x.annulSinks()
	if c.reinvite {
		// the rejected re-INVITE leaves the established dialog in place
		c.reinvite = false
		c.dialog.State = DialogConfirmed
	} else {
		c.dialog.State = DialogTerminating
		x.p.evict(c, EvictRejected)
	}
	delete(c.txns, tx.ID)
	return nil
}

func (x *exchange) ackOnSuccess() error {
	c := x.c
	inv, ok := c.findInviteTransaction()
	if !ok {
		return fmt.Errorf("%w: ack without invite", ErrNoTransaction)
	}
	if inv.SentBy != x.msg.SentBy {
		return ErrSentByMismatch
	}
	if inv.CSeq != x.msg.CSeqNum {
		return ErrCSeqMismatch
	}

	inv.Acked = true
	x.emit(inv)

	state, _ := x.p.table.Initial(sip.MethodAck)
	ack := newTransaction(x.msg, state, x.now)

	x.processSDP()
	x.confirmSinks()

	delete(c.txns, inv.ID)
	delete(c.txns, ack.ID)
	return nil
}

func (x *exchange) inviteProvisional() error {
	if err := x.advance(TriggerProvisional); err != nil {
		return err
	}
	d := &x.c.dialog
	if x.msg.StatusCode > 100 {
		d.Callee.Tag = x.msg.To.Tag
		d.Callee.DisplayName = x.msg.To.DisplayName
		if d.Callee.Tag != "" {
			d.State = DialogEarly
		}
	}
	// early media
	x.processSDP()
	return nil
}

func (x *exchange) inviteSuccess() error {
	if err := x.advance(TriggerSuccess); err != nil {
		return err
	}
	c, d := x.c, &x.c.dialog
	d.State = DialogConfirmed
	x.tx.setFinal(x.msg)
	d.Callee.Tag = x.msg.To.Tag
	d.Callee.DisplayName = x.msg.To.DisplayName

	x.emit(x.tx)
	x.processSDP()
	c.reinvite = false
	// the transaction is removed by the ACK
	return nil
}

func (x *exchange) inviteFailure() error {
	if err := x.advance(TriggerFailure); err != nil {
		return err
	}
	x.tx.setFinal(x.msg)
	x.emit(x.tx)
	x.annulSinks()
	if !x.c.reinvite {
		x.c.failed = true
	}
	// the re-INVITE flag is needed by the ACK
	return nil
}

func (x *exchange) nonInviteFinal(trigger Trigger) error {
	if err := x.advance(trigger); err != nil {
		return err
	}
	x.tx.setFinal(x.msg)
	x.emit(x.tx)
	delete(x.c.txns, x.tx.ID)

	if x.tx.ID.Method == sip.MethodBye {
		x.p.evict(x.c, EvictBye)
	}
	return nil
}

// processSDP creates or reuses the sink for the negotiated media socket.
func (x *exchange) processSDP() {
	if !x.msg.HasSDP {
		return
	}
	socket := x.msg.MediaSocket()
	if !socket.IsValid() {
		return
	}
	c, d := x.c, &x.c.dialog

	if s, ok := c.sinks[socket]; ok {
		switch {
		case c.reinvite && s.Status() == SinkConfirmed:
			s.setStatus(SinkConfirmedInit)
		case c.reinvite:
			x.p.logger.WithField("call_id", c.ID).WithField("socket", socket.String()).
				Debugf("re-INVITE reuses sink in status %s", s.Status())
		case s.Status() == SinkTerminated:
			// an offer returning to an annulled socket
			s.setStatus(SinkInit)
			x.p.sinks.Insert(s)
		}
		return
	}

	callerAudio := x.msg.Type == sip.Response
	if d.Caller.Tag != "" && d.Caller.Tag == x.msg.To.Tag {
		callerAudio = !callerAudio
	}

	s := NewRtpSink(c.ID, socket, callerAudio, x.p.recycler, x.p.now)
	if !c.recording {
		s.Deactivate()
	}
	c.sinks[socket] = s
	x.p.sinks.Insert(s)
}

// confirmSinks settles every sink after a successful three-way handshake.
func (x *exchange) confirmSinks() {
	for _, s := range x.c.sinks {
		switch s.Status() {
		case SinkConfirmed:
			s.setStatus(SinkTerminated)
			x.p.sinks.Remove(s)
		case SinkInit, SinkConfirmedInit:
			s.setStatus(SinkConfirmed)
		}
	}
}

// annulSinks reverts the sinks offered by a rejected INVITE.
func (x *exchange) annulSinks() {
	for _, s := range x.c.sinks {
		switch s.Status() {
		case SinkInit:
			s.setStatus(SinkTerminated)
			x.p.sinks.Remove(s)
		case SinkConfirmedInit:
			s.setStatus(SinkConfirmed)
		}
	}
}

// emit records the outcome of tx as a signaling event.
func (x *exchange) emit(tx *Transaction) {
	c := x.c
	h := sba.Header{
		Timestamp:   x.now,
		CallID:      c.ID,
		Caller:      c.dialog.Caller,
		Initiator:   tx.Initiator,
		FinalCode:   tx.FinalCode,
		FinalReason: tx.FinalReason,
	}

	var ev sba.Event
	switch tx.ID.Method {
	case sip.MethodInvite:
		ev = &sba.InviteEvent{Header: h, Reinvite: tx.Reinvite, Acked: tx.Acked, Cancelled: tx.Cancelled}
	case sip.MethodBye:
		ev = &sba.ByeEvent{Header: h, Duration: x.now.Sub(c.Created)}
	case sip.MethodCancel:
		ev = &sba.CancelEvent{Header: h}
	case sip.MethodOptions:
		ev = &sba.OptionsEvent{Header: h}
	default:
		return
	}

	key := c.dialog.Caller.Address
	if key == "" {
		key = tx.Initiator.Address
	}
	x.p.events.Add(key, ev)
	metrics.SbaEventsTotal.WithLabelValues(ev.Type().String()).Inc()
}
