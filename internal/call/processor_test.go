package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/sba"
	"firestige.xyz/callx/internal/sip"
)

// establish runs INVITE / 200 / ACK with SDP offer 30000 and answer 40000.
func establish(t *testing.T, f *fixture) *Call {
	t.Helper()
	require.NoError(t, f.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-inv", 1), aliceMedia, 30000)))
	require.NoError(t, f.proc.Process(withSDP(response(200, sip.MethodInvite, "z9hG4bK-inv", 1), bobMedia, 40000)))
	require.NoError(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-ack", 1)))

	c := f.call()
	require.NotNil(t, c)
	require.Equal(t, DialogConfirmed, c.Dialog().State)
	return c
}

func TestProcessor_CompleteCall(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-inv", 1), aliceMedia, 30000)))
	c := f.call()
	require.NotNil(t, c)
	assert.Equal(t, DialogInit, c.Dialog().State)
	assert.Equal(t, alice, c.Dialog().Caller)

	f.clock.Advance(time.Second)
	require.NoError(t, f.proc.Process(response(180, sip.MethodInvite, "z9hG4bK-inv", 1)))
	assert.Equal(t, DialogEarly, c.Dialog().State)
	assert.Equal(t, "bob-tag", c.Dialog().Callee.Tag)

	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.proc.Process(withSDP(response(200, sip.MethodInvite, "z9hG4bK-inv", 1), bobMedia, 40000)))
	assert.Equal(t, DialogConfirmed, c.Dialog().State)

	calleeSink, ok := c.Sink(socketOf(aliceMedia, 30000))
	require.True(t, ok)
	callerSink, ok := c.Sink(socketOf(bobMedia, 40000))
	require.True(t, ok)
	assert.False(t, calleeSink.CallerAudio())
	assert.True(t, callerSink.CallerAudio())
	assert.Equal(t, SinkInit, calleeSink.Status())

	require.NoError(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-ack", 1)))
	assert.Equal(t, SinkConfirmed, calleeSink.Status())
	assert.Equal(t, SinkConfirmed, callerSink.Status())
	assert.Equal(t, 2, f.sinks.Len())
	assert.Zero(t, c.TransactionCount())

	f.clock.Advance(60 * time.Second)
	require.NoError(t, f.proc.Process(request(sip.MethodBye, "z9hG4bK-bye", 2)))
	assert.Equal(t, 1, f.calls.Len())

	f.clock.Advance(500 * time.Millisecond)
	require.NoError(t, f.proc.Process(response(200, sip.MethodBye, "z9hG4bK-bye", 2)))

	assert.Equal(t, SinkTerminated, calleeSink.Status())
	assert.Equal(t, SinkTerminated, callerSink.Status())
	assert.Zero(t, f.sinks.Len())
	assert.Zero(t, f.calls.Len())
	require.Equal(t, 1, f.decode.Len())

	// a retransmitted final response finds no call and is not pushed again
	err := f.proc.Process(response(200, sip.MethodBye, "z9hG4bK-bye", 2))
	assert.ErrorIs(t, err, ErrUnknownCall)
	assert.Equal(t, 1, f.decode.Len())

	got, ok := f.decode.TryPop()
	require.True(t, ok)
	assert.Same(t, c, got)

	evs := f.events()
	assert.Equal(t, 3, countType(evs, sba.EventInvite))
	require.Equal(t, 2, countType(evs, sba.EventBye))

	last := evs[len(evs)-1].(*sba.ByeEvent)
	assert.Equal(t, 200, last.FinalCode)
	assert.Equal(t, 63500*time.Millisecond, last.Duration)
	assert.Equal(t, alice.Tag, last.Initiator.Tag)
}

func TestProcessor_ReinviteReusesSinks(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	calleeSink, _ := c.Sink(socketOf(aliceMedia, 30000))
	callerSink, _ := c.Sink(socketOf(bobMedia, 40000))

	require.NoError(t, f.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-re", 2), aliceMedia, 30000)))
	assert.True(t, c.Reinvite())
	assert.Equal(t, SinkConfirmedInit, calleeSink.Status())
	assert.Equal(t, SinkConfirmed, callerSink.Status())

	require.NoError(t, f.proc.Process(withSDP(response(200, sip.MethodInvite, "z9hG4bK-re", 2), bobMedia, 40000)))
	assert.False(t, c.Reinvite())
	assert.Equal(t, SinkConfirmedInit, callerSink.Status())

	require.NoError(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-reack", 2)))
	assert.Equal(t, SinkConfirmed, calleeSink.Status())
	assert.Equal(t, SinkConfirmed, callerSink.Status())

	assert.Len(t, c.Sinks(), 2)
	assert.Equal(t, 2, f.sinks.Len())
	found, _ := f.sinks.Find(socketOf(aliceMedia, 30000))
	assert.Same(t, calleeSink, found)
	assert.Equal(t, DialogConfirmed, c.Dialog().State)

	var reinvites int
	for _, ev := range f.events() {
		if inv, ok := ev.(*sba.InviteEvent); ok && inv.Reinvite {
			reinvites++
		}
	}
	assert.Equal(t, 3, reinvites)
}

func TestProcessor_CalleeReinviteMovesMedia(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	oldCallee, _ := c.Sink(socketOf(aliceMedia, 30000))
	oldCaller, _ := c.Sink(socketOf(bobMedia, 40000))

	require.NoError(t, f.proc.Process(fromCallee(withSDP(request(sip.MethodInvite, "z9hG4bK-bre", 1), bobMedia, 40002))))
	newCaller, ok := c.Sink(socketOf(bobMedia, 40002))
	require.True(t, ok)
	assert.True(t, newCaller.CallerAudio(), "callee's offer carries caller audio")

	resp := withSDP(response(200, sip.MethodInvite, "z9hG4bK-bre", 1), aliceMedia, 30002)
	resp.From, resp.To = bob, alice
	require.NoError(t, f.proc.Process(resp))
	newCallee, ok := c.Sink(socketOf(aliceMedia, 30002))
	require.True(t, ok)
	assert.False(t, newCallee.CallerAudio())

	require.NoError(t, f.proc.Process(fromCallee(request(sip.MethodAck, "z9hG4bK-back", 1))))

	assert.Equal(t, SinkTerminated, oldCallee.Status())
	assert.Equal(t, SinkTerminated, oldCaller.Status())
	assert.Equal(t, SinkConfirmed, newCaller.Status())
	assert.Equal(t, SinkConfirmed, newCallee.Status())
	assert.Equal(t, 2, f.sinks.Len())
	_, ok = f.sinks.Find(socketOf(aliceMedia, 30000))
	assert.False(t, ok)
}

func TestProcessor_UnreachableStatesLeaveTransactionUnchanged(t *testing.T) {
	var pairs []StatePair
	for c := TxUndefined; c <= TxTerminated; c++ {
		for s := TxUndefined; s <= TxTerminated; s++ {
			pairs = append(pairs, StatePair{c, s})
		}
	}

	triggers := []struct {
		trigger Trigger
		msg     func() *sip.Message
	}{
		{TriggerProvisional, func() *sip.Message { return response(180, sip.MethodInvite, "z9hG4bK-inv", 1) }},
		{TriggerSuccess, func() *sip.Message {
			return withSDP(response(200, sip.MethodInvite, "z9hG4bK-inv", 1), bobMedia, 40000)
		}},
		{TriggerFailure, func() *sip.Message { return response(486, sip.MethodInvite, "z9hG4bK-inv", 1) }},
		{TriggerAck, func() *sip.Message { return request(sip.MethodAck, "z9hG4bK-inv", 1) }},
	}

	checked := 0
	for _, tr := range triggers {
		for _, pair := range pairs {
			if _, ok := defaultTable.Next(sip.MethodInvite, tr.trigger, pair); ok {
				continue
			}
			f := newFixture()
			require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))
			c := f.call()
			tx, ok := c.Transaction(TransactionID{"z9hG4bK-inv", sip.MethodInvite})
			require.True(t, ok)
			tx.State = pair

			dialog := c.Dialog()
			before := len(f.events())

			err := f.proc.Process(tr.msg())
			require.ErrorIs(t, err, ErrStateMismatch, "%s from %s", tr.trigger, pair)
			assert.Equal(t, pair, tx.State)
			assert.Len(t, f.events(), before)
			assert.Equal(t, dialog, c.Dialog())
			assert.Empty(t, c.Sinks())
			assert.Equal(t, 1, f.calls.Len())
			checked++
		}
	}
	assert.Greater(t, checked, 150)
}

func TestProcessor_RejectedCall(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-inv", 1), aliceMedia, 30000)))
	c := f.call()
	sink, _ := c.Sink(socketOf(aliceMedia, 30000))

	require.NoError(t, f.proc.Process(response(486, sip.MethodInvite, "z9hG4bK-inv", 1)))
	assert.Equal(t, SinkTerminated, sink.Status())
	assert.Zero(t, f.sinks.Len())
	assert.True(t, c.failed)
	assert.Equal(t, 1, f.calls.Len())

	require.NoError(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-inv", 1)))
	assert.Equal(t, DialogTerminating, c.Dialog().State)
	assert.Zero(t, f.calls.Len())
	assert.Equal(t, 1, f.decode.Len())
	assert.Zero(t, c.TransactionCount())

	evs := f.events()
	require.Equal(t, 3, countType(evs, sba.EventInvite))
	ack := evs[len(evs)-1].(*sba.InviteEvent)
	assert.True(t, ack.Acked)
	assert.Equal(t, 486, ack.FinalCode)
}

func TestProcessor_RejectedReinviteKeepsCall(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	calleeSink, _ := c.Sink(socketOf(aliceMedia, 30000))

	require.NoError(t, f.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-re", 2), aliceMedia, 30000)))
	require.Equal(t, SinkConfirmedInit, calleeSink.Status())

	require.NoError(t, f.proc.Process(response(488, sip.MethodInvite, "z9hG4bK-re", 2)))
	assert.Equal(t, SinkConfirmed, calleeSink.Status())
	assert.False(t, c.failed)

	require.NoError(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-re", 2)))
	assert.Equal(t, DialogConfirmed, c.Dialog().State)
	assert.False(t, c.Reinvite())
	assert.Equal(t, 1, f.calls.Len())
	assert.Zero(t, f.decode.Len())
	assert.Equal(t, 2, f.sinks.Len())

	// a later re-INVITE is accepted again
	require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-re2", 3)))
}

func TestProcessor_Cancel(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))
	require.NoError(t, f.proc.Process(response(180, sip.MethodInvite, "z9hG4bK-inv", 1)))

	require.NoError(t, f.proc.Process(request(sip.MethodCancel, "z9hG4bK-inv", 1)))
	c := f.call()
	inv, _ := c.Transaction(TransactionID{"z9hG4bK-inv", sip.MethodInvite})
	assert.True(t, inv.Cancelled)
	cancel, ok := c.Transaction(TransactionID{"z9hG4bK-inv", sip.MethodCancel})
	require.True(t, ok)
	assert.Equal(t, TryingTrying, cancel.State)

	evs := f.events()
	require.GreaterOrEqual(t, len(evs), 2)
	assert.Equal(t, sba.EventCancel, evs[len(evs)-2].Type())
	annotated := evs[len(evs)-1].(*sba.InviteEvent)
	assert.True(t, annotated.Cancelled)

	require.NoError(t, f.proc.Process(response(200, sip.MethodCancel, "z9hG4bK-inv", 1)))
	_, ok = c.Transaction(TransactionID{"z9hG4bK-inv", sip.MethodCancel})
	assert.False(t, ok)

	require.NoError(t, f.proc.Process(response(487, sip.MethodInvite, "z9hG4bK-inv", 1)))
	require.NoError(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-inv", 1)))
	assert.Zero(t, f.calls.Len())
	assert.Equal(t, 1, f.decode.Len())
}

func TestProcessor_CancelChecks(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))

	assert.ErrorIs(t, f.proc.Process(request(sip.MethodCancel, "z9hG4bK-other", 1)), ErrNoTransaction)

	wrongHop := request(sip.MethodCancel, "z9hG4bK-inv", 1)
	wrongHop.SentBy = "192.0.2.99:5060"
	assert.ErrorIs(t, f.proc.Process(wrongHop), ErrSentByMismatch)

	// a CSeq mismatch is tolerated
	require.NoError(t, f.proc.Process(request(sip.MethodCancel, "z9hG4bK-inv", 7)))
	inv, _ := f.call().Transaction(TransactionID{"z9hG4bK-inv", sip.MethodInvite})
	assert.True(t, inv.Cancelled)
}

func TestProcessor_AckOnSuccessChecks(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-inv", 1), aliceMedia, 30000)))
	require.NoError(t, f.proc.Process(response(200, sip.MethodInvite, "z9hG4bK-inv", 1)))
	sink, _ := f.call().Sink(socketOf(aliceMedia, 30000))

	assert.ErrorIs(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-ack", 9)), ErrCSeqMismatch)
	wrongHop := request(sip.MethodAck, "z9hG4bK-ack", 1)
	wrongHop.SentBy = "192.0.2.99:5060"
	assert.ErrorIs(t, f.proc.Process(wrongHop), ErrSentByMismatch)
	assert.Equal(t, SinkInit, sink.Status())

	// an ACK reusing the INVITE branch confirms as well
	require.NoError(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-inv", 1)))
	assert.Equal(t, SinkConfirmed, sink.Status())
	assert.Zero(t, f.call().TransactionCount())

	assert.ErrorIs(t, f.proc.Process(request(sip.MethodAck, "z9hG4bK-late", 1)), ErrNoTransaction)
}

func TestProcessor_NestedInvite(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))

	assert.ErrorIs(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-second", 2)), ErrNestedInvite)
	assert.Equal(t, 1, f.call().TransactionCount())

	require.NoError(t, f.proc.Process(response(183, sip.MethodInvite, "z9hG4bK-inv", 1)))
	assert.Equal(t, DialogEarly, f.call().Dialog().State)
	assert.ErrorIs(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-third", 2)), ErrNestedInvite)

	assert.ErrorIs(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)), ErrRetransmission)
}

func TestProcessor_EarlyMediaSink(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))
	require.NoError(t, f.proc.Process(withSDP(response(183, sip.MethodInvite, "z9hG4bK-inv", 1), bobMedia, 40000)))

	sink, ok := f.call().Sink(socketOf(bobMedia, 40000))
	require.True(t, ok)
	assert.Equal(t, SinkInit, sink.Status())

	// the same answer in the 200 does not create a second sink
	require.NoError(t, f.proc.Process(withSDP(response(200, sip.MethodInvite, "z9hG4bK-inv", 1), bobMedia, 40000)))
	assert.Len(t, f.call().Sinks(), 1)
}

func TestProcessor_OptionsAndNonInviteProvisional(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(request(sip.MethodOptions, "z9hG4bK-opt", 1)))
	c := f.call()
	require.NotNil(t, c)
	assert.Equal(t, DialogUndefined, c.Dialog().State)

	require.NoError(t, f.proc.Process(response(100, sip.MethodOptions, "z9hG4bK-opt", 1)))
	tx, _ := c.Transaction(TransactionID{"z9hG4bK-opt", sip.MethodOptions})
	assert.Equal(t, ProceedingProceeding, tx.State)

	require.NoError(t, f.proc.Process(response(200, sip.MethodOptions, "z9hG4bK-opt", 1)))
	assert.Zero(t, c.TransactionCount())
	assert.Equal(t, 1, f.calls.Len(), "OPTIONS calls are left to the watchdog")
	assert.Equal(t, 2, countType(f.events(), sba.EventOptions))
}

func TestProcessor_CalleeHangsUp(t *testing.T) {
	f := newFixture()
	establish(t, f)

	require.NoError(t, f.proc.Process(fromCallee(request(sip.MethodBye, "z9hG4bK-bbye", 1))))
	require.NoError(t, f.proc.Process(fromCallee(response(200, sip.MethodBye, "z9hG4bK-bbye", 1))))

	evs := f.events()
	var byeRequest *sba.ByeEvent
	for _, ev := range evs {
		if bye, ok := ev.(*sba.ByeEvent); ok && bye.FinalCode == 0 {
			byeRequest = bye
		}
	}
	require.NotNil(t, byeRequest)
	assert.NotEqual(t, byeRequest.Caller.Tag, byeRequest.Initiator.Tag)
	assert.Zero(t, f.calls.Len())
}

func TestProcessor_Drops(t *testing.T) {
	f := newFixture()

	assert.ErrorIs(t, f.proc.Process(request(sip.MethodBye, "z9hG4bK-bye", 1)), ErrUnknownCall)
	assert.ErrorIs(t, f.proc.Process(response(200, sip.MethodInvite, "z9hG4bK-x", 1)), ErrUnknownCall)
	assert.Zero(t, f.calls.Len())

	noID := request(sip.MethodInvite, "z9hG4bK-inv", 1)
	noID.CallID = ""
	assert.ErrorIs(t, f.proc.Process(noID), ErrMissingCallID)
	assert.ErrorIs(t, f.proc.Process(&sip.Message{Type: sip.Malformed}), core.ErrMalformedStartLine)

	require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))
	assert.ErrorIs(t, f.proc.Process(response(200, sip.MethodBye, "z9hG4bK-none", 1)), ErrNoTransaction)
	assert.ErrorIs(t, f.proc.Process(request(sip.MethodInfo, "z9hG4bK-info", 2)), ErrUnsupportedMethod)
}

func TestProcessor_DropsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(*sip.Message)
		want   error
	}{
		{"no cseq", func(m *sip.Message) { m.HasCSeq, m.CSeqNum, m.CSeqMethod = false, 0, sip.MethodUndefined }, ErrMalformedCSeq},
		{"unparsed cseq method", func(m *sip.Message) { m.CSeqMethod = sip.MethodUndefined }, ErrMalformedCSeq},
		{"cseq method differs", func(m *sip.Message) { m.CSeqMethod = sip.MethodBye }, ErrMalformedCSeq},
		{"no from", func(m *sip.Message) { m.HasFrom, m.From = false, sip.FromTo{} }, ErrMalformedFromTo},
		{"malformed from", func(m *sip.Message) { m.From, m.FromRaw = sip.FromTo{}, "nonsense" }, ErrMalformedFromTo},
		{"no to", func(m *sip.Message) { m.HasTo, m.To = false, sip.FromTo{} }, ErrMalformedFromTo},
		{"malformed to", func(m *sip.Message) { m.To, m.ToRaw = sip.FromTo{}, "nonsense" }, ErrMalformedFromTo},
		{"no branch", func(m *sip.Message) { m.Branch = "" }, ErrMissingBranch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			bad := withSDP(request(sip.MethodInvite, "z9hG4bK-inv", 1), aliceMedia, 30000)
			tt.mangle(bad)

			err := f.proc.Process(bad)
			assert.ErrorIs(t, err, tt.want)
			assert.NotEqual(t, "other", anomalyKind(err))
			assert.Zero(t, f.calls.Len())
			assert.Zero(t, f.sinks.Len())
			assert.Empty(t, f.store.Callers())

			// the call-id is still free for a well-formed INVITE
			require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))
			assert.Equal(t, 1, f.calls.Len())
			assert.Equal(t, DialogInit, f.call().Dialog().State)
			assert.Equal(t, 1, countType(f.events(), sba.EventInvite))
		})
	}
}

func TestProcessor_MalformedResponseLeavesTransaction(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))

	resp := response(200, sip.MethodInvite, "z9hG4bK-inv", 1)
	resp.HasCSeq, resp.CSeqMethod = false, sip.MethodUndefined
	assert.ErrorIs(t, f.proc.Process(resp), ErrMalformedCSeq)

	tx, ok := f.call().Transaction(TransactionID{"z9hG4bK-inv", sip.MethodInvite})
	require.True(t, ok)
	assert.Zero(t, tx.FinalCode)
	assert.Equal(t, 1, f.call().TransactionCount())
}

func TestProcessor_RecordOnlyWithIncident(t *testing.T) {
	f := newFixture(WithRecordIfIncidentOnly(true))
	require.NoError(t, f.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-inv", 1), aliceMedia, 30000)))

	c := f.call()
	assert.False(t, c.Recording())
	sink, _ := c.Sink(socketOf(aliceMedia, 30000))
	assert.False(t, sink.Active())

	buf := core.NewPacketBuffer(64)
	assert.True(t, f.sinks.Deliver(sink.Socket(), buf))
	assert.Zero(t, sink.Len())
	assert.Equal(t, 1, f.recycler.count())

	g := newFixture(WithRecordIfIncidentOnly(true))
	g.store.PutIncident(sba.Incident{Type: sba.IncidentCallAttempts, Caller: alice.Address, Value: 99, HigherIsEvil: true})
	require.NoError(t, g.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-inv", 1), aliceMedia, 30000)))
	assert.True(t, g.call().Recording())
}

func TestProcessor_SocketTakenOverByNewCall(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	old, _ := c.Sink(socketOf(aliceMedia, 30000))

	other := withSDP(request(sip.MethodInvite, "z9hG4bK-new", 1), aliceMedia, 30000)
	other.CallID = "second-call"
	require.NoError(t, f.proc.Process(other))

	cur, _ := f.sinks.Find(socketOf(aliceMedia, 30000))
	assert.NotSame(t, old, cur)
	assert.Equal(t, "second-call", cur.CallID())

	// tearing down the first call does not unregister the second call's sink
	require.NoError(t, f.proc.Process(request(sip.MethodBye, "z9hG4bK-bye", 2)))
	require.NoError(t, f.proc.Process(response(200, sip.MethodBye, "z9hG4bK-bye", 2)))
	cur, ok := f.sinks.Find(socketOf(aliceMedia, 30000))
	require.True(t, ok)
	assert.Equal(t, "second-call", cur.CallID())
}

func TestProcessor_CallInfo(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	f.clock.Advance(5 * time.Second)

	info := c.Info(f.clock.Now())
	assert.Equal(t, testCallID, info.ID)
	assert.Equal(t, "CONFIRMED", info.DialogState)
	assert.Equal(t, alice.Address, info.Caller)
	assert.Equal(t, float64(5), info.AgeSeconds)
	require.Len(t, info.Sinks, 2)
	assert.Equal(t, "udp:10.0.0.1:30000", info.Sinks[0].Socket)
	assert.Equal(t, "CONFIRMED", info.Sinks[0].Status)
}
