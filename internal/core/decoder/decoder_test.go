package decoder

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/testutil"
)

var (
	caller = netip.MustParseAddrPort("10.0.0.1:5060")
	callee = netip.MustParseAddrPort("10.0.0.2:5080")
)

func bufferOf(frame []byte) *core.PacketBuffer {
	b := core.NewPacketBuffer(2048)
	b.Fill(frame, time.Unix(1700000000, 0))
	return b
}

// makeUDPFrame builds a minimal Ethernet/IPv4/UDP frame by hand.
func makeUDPFrame(payload []byte) []byte {
	frame := make([]byte, ethernetHeaderLen+ipv4HeaderMinLen+udpHeaderLen+len(payload))

	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv4)

	ip := frame[ethernetHeaderLen:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipv4HeaderMinLen+udpHeaderLen+len(payload)))
	ip[8] = 64
	ip[9] = protocolUDP
	copy(ip[12:16], []byte{192, 168, 1, 1})
	copy(ip[16:20], []byte{192, 168, 1, 2})

	udp := ip[ipv4HeaderMinLen:]
	binary.BigEndian.PutUint16(udp[0:2], 4000)
	binary.BigEndian.PutUint16(udp[2:4], 4002)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHeaderLen+len(payload)))
	copy(udp[udpHeaderLen:], payload)

	return frame
}

func TestParse_HandBuiltUDP(t *testing.T) {
	pkt, err := NewParser().Parse(bufferOf(makeUDPFrame([]byte("hello"))))
	require.NoError(t, err)

	assert.Equal(t, "udp:192.168.1.1:4000", pkt.Src.String())
	assert.Equal(t, "udp:192.168.1.2:4002", pkt.Dst.String())
	assert.Equal(t, uint8(protocolUDP), pkt.IPProto)
	assert.Equal(t, []byte("hello"), pkt.Payload)
	assert.Empty(t, pkt.VLANs)
}

func TestParse_SerializedUDP(t *testing.T) {
	payload := []byte("INVITE sip:bob@example.com SIP/2.0\r\n\r\n")
	buf := bufferOf(testutil.UDPFrame(caller, callee, payload))

	pkt, err := NewParser().Parse(buf)
	require.NoError(t, err)

	assert.Equal(t, core.NewUDPAddress(caller.Addr(), caller.Port()), pkt.Src)
	assert.Equal(t, core.NewUDPAddress(callee.Addr(), callee.Port()), pkt.Dst)
	assert.Equal(t, payload, pkt.Payload)
	assert.Same(t, buf, pkt.Buf)
}

func TestParse_PaddingIgnored(t *testing.T) {
	// short frames are padded to the Ethernet minimum; the IP length bounds the payload
	pkt, err := NewParser().Parse(bufferOf(testutil.UDPFrame(caller, callee, []byte("abc"))))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), pkt.Payload)
}

func TestParse_VLAN(t *testing.T) {
	pkt, err := NewParser().Parse(bufferOf(testutil.VLANFrame(42, caller, callee, []byte("rtp"))))
	require.NoError(t, err)

	assert.Equal(t, []uint16{42}, pkt.VLANs)
	assert.Equal(t, uint16(etherTypeIPv4), pkt.EtherType)
	assert.Equal(t, []byte("rtp"), pkt.Payload)
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		frame func() []byte
		want  error
	}{
		{
			name:  "short ethernet",
			frame: func() []byte { return make([]byte, 10) },
			want:  core.ErrPacketTooShort,
		},
		{
			name:  "ipv6",
			frame: func() []byte { return testutil.IPv6Frame([]byte("x")) },
			want:  core.ErrUnsupportedProto,
		},
		{
			name: "arp",
			frame: func() []byte {
				f := make([]byte, 60)
				binary.BigEndian.PutUint16(f[12:14], 0x0806)
				return f
			},
			want: core.ErrUnsupportedProto,
		},
		{
			name: "tcp",
			frame: func() []byte {
				f := makeUDPFrame([]byte("data"))
				f[ethernetHeaderLen+9] = protocolTCP
				return f
			},
			want: core.ErrUnsupportedProto,
		},
		{
			name: "ihl below minimum",
			frame: func() []byte {
				f := makeUDPFrame([]byte("data"))
				f[ethernetHeaderLen] = 0x44
				return f
			},
			want: core.ErrPacketTooShort,
		},
		{
			name: "ihl beyond capture",
			frame: func() []byte {
				f := makeUDPFrame(nil)
				f[ethernetHeaderLen] = 0x4F
				return f
			},
			want: core.ErrPacketTooShort,
		},
		{
			name: "udp length overflow",
			frame: func() []byte {
				f := makeUDPFrame([]byte("data"))
				binary.BigEndian.PutUint16(f[ethernetHeaderLen+ipv4HeaderMinLen+4:], 200)
				return f
			},
			want: core.ErrTruncated,
		},
		{
			name: "udp length below header",
			frame: func() []byte {
				f := makeUDPFrame([]byte("data"))
				binary.BigEndian.PutUint16(f[ethernetHeaderLen+ipv4HeaderMinLen+4:], 4)
				return f
			},
			want: core.ErrTruncated,
		},
		{
			name: "non-first fragment",
			frame: func() []byte {
				f := makeUDPFrame([]byte("data"))
				binary.BigEndian.PutUint16(f[ethernetHeaderLen+6:], 0x0010)
				return f
			},
			want: core.ErrFragment,
		},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := p.Parse(bufferOf(tt.frame()))
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, pkt)
		})
	}
}

func TestParse_FirstFragmentAccepted(t *testing.T) {
	f := makeUDPFrame([]byte("data"))
	// more-fragments set, offset zero
	binary.BigEndian.PutUint16(f[ethernetHeaderLen+6:], 0x2000)

	pkt, err := NewParser().Parse(bufferOf(f))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), pkt.Payload)
}

func TestParse_ZeroTotalLengthUsesCapture(t *testing.T) {
	f := makeUDPFrame([]byte("offload"))
	binary.BigEndian.PutUint16(f[ethernetHeaderLen+2:], 0)

	pkt, err := NewParser().Parse(bufferOf(f))
	require.NoError(t, err)
	assert.Equal(t, []byte("offload"), pkt.Payload)
}

// Every declared IPv4 total length that exceeds what was captured must be
// rejected, and the payload view must never leave the captured bytes.
func TestParse_DeclaredLengthBeyondCapture(t *testing.T) {
	p := NewParser()
	base := makeUDPFrame(make([]byte, 64))
	captured := len(base) - ethernetHeaderLen

	for declared := captured + 1; declared <= captured+300; declared++ {
		f := append([]byte(nil), base...)
		binary.BigEndian.PutUint16(f[ethernetHeaderLen+2:], uint16(declared))

		pkt, err := p.Parse(bufferOf(f))
		require.ErrorIs(t, err, core.ErrTruncated, "declared=%d", declared)
		require.Nil(t, pkt)
	}
}

func TestParse_SnaplenTruncation(t *testing.T) {
	p := NewParser()
	full := testutil.UDPFrame(caller, callee, make([]byte, 200))

	for cut := ethernetHeaderLen + ipv4HeaderMinLen; cut < len(full); cut++ {
		buf := core.NewPacketBuffer(cut)
		buf.Fill(full, time.Now())
		require.Equal(t, cut, buf.Len())

		pkt, err := p.Parse(buf)
		require.Error(t, err, "cut=%d", cut)
		require.Nil(t, pkt)
	}
}

func TestParse_PayloadAliasesBuffer(t *testing.T) {
	buf := bufferOf(makeUDPFrame([]byte("zz")))
	pkt, err := NewParser().Parse(buf)
	require.NoError(t, err)

	pkt.Payload[0] = 'Z'
	assert.Equal(t, byte('Z'), buf.Bytes()[ethernetHeaderLen+ipv4HeaderMinLen+udpHeaderLen])
}
