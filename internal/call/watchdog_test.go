package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/sip"
)

func TestWatchdog_RtpInactivity(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	w := f.watchdog(Limits{MaxRtpInactivity: 10 * time.Second})

	f.clock.Advance(5 * time.Second)
	assert.Zero(t, w.Sweep())

	// one sink keeps receiving, which keeps the call alive
	sink, _ := c.Sink(socketOf(bobMedia, 40000))
	f.clock.Advance(8 * time.Second)
	f.sinks.Deliver(sink.Socket(), core.NewPacketBuffer(16))
	assert.Zero(t, w.Sweep())

	f.clock.Advance(11 * time.Second)
	assert.Equal(t, 1, w.Sweep())
	assert.Zero(t, f.calls.Len())
	assert.Zero(t, f.sinks.Len())
	assert.Equal(t, 1, f.decode.Len())
	assert.Equal(t, SinkTerminated, sink.Status())

	c.Lock()
	assert.True(t, c.Evicted())
	c.Unlock()
}

func TestWatchdog_CallWithoutSinksUsesAge(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(request(sip.MethodOptions, "z9hG4bK-opt", 1)))
	w := f.watchdog(Limits{MaxRtpInactivity: 30 * time.Second})

	f.clock.Advance(30 * time.Second)
	assert.Zero(t, w.Sweep())
	f.clock.Advance(time.Second)
	assert.Equal(t, 1, w.Sweep())
}

func TestWatchdog_MaxAge(t *testing.T) {
	f := newFixture()
	establish(t, f)
	w := f.watchdog(Limits{MaxCallAge: time.Hour})

	f.clock.Advance(time.Hour)
	assert.Zero(t, w.Sweep())
	f.clock.Advance(time.Second)
	assert.Equal(t, 1, w.Sweep())
	assert.Zero(t, w.Sweep())
	assert.Equal(t, 1, f.decode.Len())
}

func TestWatchdog_FailedCallAge(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.proc.Process(request(sip.MethodInvite, "z9hG4bK-inv", 1)))
	w := f.watchdog(Limits{MaxCallAgeIfError: time.Minute})

	f.clock.Advance(2 * time.Minute)
	assert.Zero(t, w.Sweep(), "the call has not failed")

	// 486 without ACK leaves a failed call behind
	require.NoError(t, f.proc.Process(response(486, sip.MethodInvite, "z9hG4bK-inv", 1)))
	assert.Equal(t, 1, w.Sweep())
}

func TestWatchdog_RecordingTime(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	w := f.watchdog(Limits{MaxRecordingTime: time.Minute})

	f.clock.Advance(2 * time.Minute)
	assert.Zero(t, w.Sweep())

	c.Lock()
	assert.False(t, c.Recording())
	for _, s := range c.Sinks() {
		assert.False(t, s.Active())
	}
	c.Unlock()
	assert.Equal(t, 1, f.calls.Len())
}

func TestWatchdog_Flush(t *testing.T) {
	f := newFixture()
	establish(t, f)
	other := request(sip.MethodInvite, "z9hG4bK-2", 1)
	other.CallID = "second-call"
	require.NoError(t, f.proc.Process(other))

	w := f.watchdog(Limits{})
	assert.Zero(t, w.Sweep())
	assert.Equal(t, 2, w.Flush())
	assert.Zero(t, w.Flush())
	assert.Equal(t, 2, f.decode.Len())
	assert.Zero(t, f.sinks.Len())

	// messages for a flushed call are dropped
	assert.ErrorIs(t, f.proc.Process(request(sip.MethodBye, "z9hG4bK-bye", 2)), ErrUnknownCall)
}

func TestWatchdog_EvictedByProcessorIsNotPushedTwice(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	w := f.watchdog(Limits{MaxCallAge: time.Second})

	f.clock.Advance(time.Minute)
	require.NoError(t, f.proc.Process(request(sip.MethodBye, "z9hG4bK-bye", 2)))
	require.NoError(t, f.proc.Process(response(200, sip.MethodBye, "z9hG4bK-bye", 2)))
	assert.Zero(t, w.Sweep())
	assert.Zero(t, w.Flush())
	assert.Equal(t, 1, f.decode.Len())

	got, ok := f.decode.TryPop()
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestWatchdog_SinkAddedDuringSweepIsUnregistered(t *testing.T) {
	f := newFixture()
	c := establish(t, f)
	w := f.watchdog(Limits{MaxCallAge: time.Hour})

	// the sweep has marked the call and released its lock
	c.Lock()
	c.unregisterSinks(f.sinks)
	c.Unlock()
	require.Zero(t, f.sinks.Len())

	// a re-INVITE slips in and offers a new socket
	require.NoError(t, f.proc.Process(withSDP(request(sip.MethodInvite, "z9hG4bK-re", 2), aliceMedia, 31000)))
	require.Equal(t, 1, f.sinks.Len())

	evicted := f.calls.EraseAll([]*Call{c})
	require.Len(t, evicted, 1)
	w.hand(evicted[0], EvictMaxAge)

	assert.Zero(t, f.sinks.Len())
	_, ok := f.sinks.Find(socketOf(aliceMedia, 31000))
	assert.False(t, ok)
	assert.Equal(t, 1, f.decode.Len())
}

func TestWatchdog_RunStopsOnCancel(t *testing.T) {
	f := newFixture()
	w := f.watchdog(Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}
