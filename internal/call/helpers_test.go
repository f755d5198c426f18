package call

import (
	"net/netip"
	"sync"
	"time"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/queue"
	"firestige.xyz/callx/internal/sba"
	"firestige.xyz/callx/internal/sip"
)

const testCallID = "a84b4c76e66710@pc33.example.com"

var (
	alice = sip.FromTo{Address: "sip:alice@example.com", Tag: "alice-tag", DisplayName: "Alice"}
	bob   = sip.FromTo{Address: "sip:bob@example.com"}

	aliceMedia = netip.MustParseAddr("10.0.0.1")
	bobMedia   = netip.MustParseAddr("10.0.0.2")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingRecycler struct {
	mu       sync.Mutex
	released []*core.PacketBuffer
}

func (r *countingRecycler) Release(b *core.PacketBuffer) bool {
	r.mu.Lock()
	r.released = append(r.released, b)
	r.mu.Unlock()
	return true
}

func (r *countingRecycler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.released)
}

type fixture struct {
	clock    *fakeClock
	calls    *CallTable
	sinks    *SinkTable
	decode   *queue.Queue[*Call]
	store    *sba.Store
	recycler *countingRecycler
	proc     *Processor
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		clock:    newFakeClock(),
		calls:    NewCallTable(),
		sinks:    NewSinkTable(),
		decode:   queue.New[*Call](),
		store:    sba.NewStore(),
		recycler: &countingRecycler{},
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.proc = NewProcessor(f.calls, f.sinks, f.decode, f.store, f.recycler, log.Discard(), opts...)
	return f
}

func (f *fixture) watchdog(limits Limits) *Watchdog {
	w := NewWatchdog(f.calls, f.sinks, f.decode, limits, time.Millisecond, log.Discard())
	w.SetClock(f.clock.Now)
	return w
}

func (f *fixture) call() *Call {
	c, _ := f.calls.Find(testCallID)
	return c
}

func (f *fixture) events() []sba.Event {
	return f.store.Events(alice.Address)
}

func request(m sip.Method, branch string, cseq uint32) *sip.Message {
	return &sip.Message{
		Type:       sip.Request,
		Method:     m,
		CallID:     testCallID,
		From:       alice,
		To:         bob,
		HasFrom:    true,
		HasTo:      true,
		HasCSeq:    true,
		CSeqNum:    cseq,
		CSeqMethod: m,
		Branch:     branch,
		SentBy:     "10.0.0.1:5060",
		Transport:  sip.TransportUDP,
	}
}

func response(code int, m sip.Method, branch string, cseq uint32) *sip.Message {
	to := bob
	to.Tag = "bob-tag"
	return &sip.Message{
		Type:       sip.Response,
		StatusCode: code,
		Reason:     "Reason",
		CallID:     testCallID,
		From:       alice,
		To:         to,
		HasFrom:    true,
		HasTo:      true,
		HasCSeq:    true,
		CSeqNum:    cseq,
		CSeqMethod: m,
		Branch:     branch,
		SentBy:     "10.0.0.1:5060",
	}
}

// fromCallee turns an in-dialog request around so that bob sends it.
func fromCallee(msg *sip.Message) *sip.Message {
	from := bob
	from.Tag = "bob-tag"
	msg.From, msg.To = from, alice
	msg.SentBy = "10.0.0.2:5060"
	return msg
}

func withSDP(msg *sip.Message, ip netip.Addr, port uint16) *sip.Message {
	msg.HasSDP = true
	msg.SDP = sip.SDP{ConnectionAddr: ip, MediaPort: port, Codecs: []uint8{0, 8}}
	return msg
}

func socketOf(ip netip.Addr, port uint16) core.SocketAddress {
	return core.NewUDPAddress(ip, port)
}

func countType(evs []sba.Event, t sba.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type() == t {
			n++
		}
	}
	return n
}
