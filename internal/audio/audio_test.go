package audio

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callx/internal/call"
	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/queue"
	"firestige.xyz/callx/internal/sba"
	"firestige.xyz/callx/internal/sip"
	"firestige.xyz/callx/internal/testutil"
)

var (
	callerMedia = netip.MustParseAddrPort("10.0.0.1:30000")
	calleeMedia = netip.MustParseAddrPort("10.0.0.2:40000")
)

type recycler struct {
	mu sync.Mutex
	n  int
}

func (r *recycler) Release(*core.PacketBuffer) bool {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
	return true
}

func (r *recycler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func TestParseHeader(t *testing.T) {
	raw := testutil.RTPPayload(8, 4711, 160, []byte{1, 2, 3})
	raw[1] |= 0x80

	h, payload, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), h.Version)
	assert.True(t, h.Marker)
	assert.Equal(t, PayloadPCMA, h.PayloadType)
	assert.Equal(t, uint16(4711), h.Sequence)
	assert.Equal(t, uint32(160), h.Timestamp)
	assert.Equal(t, uint32(0x12345678), h.SSRC)
	assert.Equal(t, []byte{1, 2, 3}, payload)

	_, _, err = ParseHeader(raw[:11])
	assert.ErrorIs(t, err, ErrShortRTP)

	raw[0] = 0x40
	_, _, err = ParseHeader(raw)
	assert.ErrorIs(t, err, ErrRTPVersion)
}

func TestG711Tables(t *testing.T) {
	ulaw, alaw := NewG711(false), NewG711(true)

	assert.Equal(t, int16(0), ulaw.Sample(0xFF))
	assert.Equal(t, int16(32124), ulaw.Sample(0x80))
	assert.Equal(t, int16(-32124), ulaw.Sample(0x00))

	assert.Equal(t, int16(8), alaw.Sample(0xD5))
	assert.Equal(t, int16(-8), alaw.Sample(0x55))
	assert.Equal(t, int16(32256), alaw.Sample(0xAA))
	assert.Equal(t, int16(-32256), alaw.Sample(0x2A))

	assert.Equal(t, PayloadPCMU, ulaw.PayloadType())
	assert.Equal(t, "PCMA", alaw.Name())
}

func TestG711Decode(t *testing.T) {
	g := NewG711(false)
	in := bytes.Repeat([]byte{0x80}, g.InSize())
	out := make([]byte, g.OutSize())
	g.Decode(in, out)

	for i := 0; i < g.InSize(); i++ {
		require.Equal(t, int16(32124), int16(binary.LittleEndian.Uint16(out[2*i:])))
	}
}

func TestMemChunk(t *testing.T) {
	m := NewMemChunk(10)
	b, ok := m.Declare(6)
	require.True(t, ok)
	copy(b, "abcdef")

	_, ok = m.Declare(5)
	assert.False(t, ok)
	b, ok = m.Declare(4)
	require.True(t, ok)
	copy(b, "ghij")

	assert.Equal(t, []byte("abcdefghij"), m.Bytes())
	assert.Equal(t, 10, m.Len())
	assert.Equal(t, 10, m.Cap())
}

func TestNewAssemblerRejectsSmallChunks(t *testing.T) {
	_, err := NewAssembler(100, nil, log.Discard())
	assert.ErrorIs(t, err, core.ErrChunkTooSmall)
}

// liveCall drives a call through INVITE/200/ACK and returns it with its sink table.
func liveCall(t *testing.T) (*call.Call, *call.SinkTable) {
	t.Helper()
	calls, sinks := call.NewCallTable(), call.NewSinkTable()
	proc := call.NewProcessor(calls, sinks, queue.New[*call.Call](), sba.NewStore(), nil, log.Discard())

	msg := func(typ sip.MessageType, code int, m sip.Method, media netip.AddrPort) *sip.Message {
		out := &sip.Message{
			Type:       typ,
			Method:     m,
			StatusCode: code,
			CallID:     "audio-call",
			From:       sip.FromTo{Address: "sip:alice@example.com", Tag: "a"},
			To:         sip.FromTo{Address: "sip:bob@example.com"},
			HasFrom:    true,
			HasTo:      true,
			HasCSeq:    true,
			CSeqNum:    1,
			CSeqMethod: m,
			Branch:     "z9hG4bK-1",
			SentBy:     "10.0.0.1:5060",
		}
		if typ == sip.Response {
			out.To.Tag = "b"
		}
		if media.IsValid() {
			out.HasSDP = true
			out.SDP = sip.SDP{ConnectionAddr: media.Addr(), MediaPort: media.Port()}
		}
		return out
	}
	require.NoError(t, proc.Process(msg(sip.Request, 0, sip.MethodInvite, callerMedia)))
	require.NoError(t, proc.Process(msg(sip.Response, 200, sip.MethodInvite, calleeMedia)))
	ack := msg(sip.Request, 0, sip.MethodAck, netip.AddrPort{})
	ack.Branch = "z9hG4bK-2"
	require.NoError(t, proc.Process(ack))

	c, ok := calls.Find("audio-call")
	require.True(t, ok)
	return c, sinks
}

func rtpBuffer(dst netip.AddrPort, pt uint8, seq uint16, body []byte) *core.PacketBuffer {
	b := core.NewPacketBuffer(2048)
	src := netip.MustParseAddrPort("10.0.0.9:7000")
	b.Fill(testutil.UDPFrame(src, dst, testutil.RTPPayload(pt, seq, uint32(seq)*160, body)), time.Now())
	return b
}

func TestAssemble(t *testing.T) {
	c, sinks := liveCall(t)
	r := &recycler{}
	a, err := NewAssembler(640, r, log.Discard())
	require.NoError(t, err)

	frame := bytes.Repeat([]byte{0xFF}, 160)
	dst := core.NewUDPAddress(callerMedia.Addr(), callerMedia.Port())
	for _, b := range []*core.PacketBuffer{
		rtpBuffer(callerMedia, PayloadPCMU, 1, frame),
		rtpBuffer(callerMedia, PayloadPCMU, 2, frame),
		rtpBuffer(callerMedia, 18, 3, frame),
		rtpBuffer(callerMedia, PayloadPCMU, 5, frame),
		rtpBuffer(callerMedia, PayloadPCMA, 6, frame[:100]),
	} {
		require.True(t, sinks.Deliver(dst, b))
	}

	out := a.Assemble(c)
	require.Len(t, out, 1, "the callee-side sink received nothing")

	pcm := out[0]
	assert.Equal(t, "audio-call", pcm.CallID)
	assert.Equal(t, "sip:alice@example.com", pcm.Caller.Address)
	assert.Equal(t, c.Created, pcm.Start)
	assert.False(t, pcm.CallerAudio)
	assert.Equal(t, "callee", pcm.Direction())

	// three frames of 320 bytes fill one 640 byte chunk and half of another
	require.Len(t, pcm.Chunks(), 2)
	assert.Equal(t, 640, pcm.Chunks()[0].Len())
	assert.Equal(t, 320, pcm.Chunks()[1].Len())
	assert.Equal(t, 3*20*time.Millisecond, pcm.Duration())
	assert.Equal(t, bytes.Repeat([]byte{0}, 960), func() []byte {
		var buf bytes.Buffer
		_, err := pcm.WriteTo(&buf)
		require.NoError(t, err)
		return buf.Bytes()
	}())

	assert.Equal(t, uint64(1), a.SeqErrors())
	assert.Equal(t, 5, r.count())

	// the sinks are drained and no longer buffer
	c.Lock()
	for _, s := range c.Sinks() {
		assert.Zero(t, s.Len())
		assert.False(t, s.Active())
	}
	c.Unlock()
}

func TestAssembleMultiFramePayload(t *testing.T) {
	c, sinks := liveCall(t)
	a, err := NewAssembler(1024, nil, log.Discard())
	require.NoError(t, err)

	// 30 ms of audio is 240 bytes: one whole frame, the remainder is dropped
	dst := core.NewUDPAddress(calleeMedia.Addr(), calleeMedia.Port())
	require.True(t, sinks.Deliver(dst, rtpBuffer(calleeMedia, PayloadPCMA, 10, make([]byte, 240))))
	require.True(t, sinks.Deliver(dst, rtpBuffer(calleeMedia, PayloadPCMA, 11, make([]byte, 320))))

	out := a.Assemble(c)
	require.Len(t, out, 1)
	assert.True(t, out[0].CallerAudio)
	assert.Equal(t, 3*320, out[0].Len())
	assert.Zero(t, a.SeqErrors())
}

func TestAssemblerRun(t *testing.T) {
	c, sinks := liveCall(t)
	a, err := NewAssembler(1024, nil, log.Discard())
	require.NoError(t, err)

	dst := core.NewUDPAddress(callerMedia.Addr(), callerMedia.Port())
	require.True(t, sinks.Deliver(dst, rtpBuffer(callerMedia, PayloadPCMU, 1, make([]byte, 160))))

	in, out := queue.New[*call.Call](), queue.New[*PcmAudio]()
	done := make(chan struct{})
	go func() {
		a.Run(in, out)
		close(done)
	}()

	in.Push(c)
	require.Eventually(t, func() bool { return out.Len() == 1 }, time.Second, time.Millisecond)

	in.Deactivate()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("assembler did not stop")
	}
}
