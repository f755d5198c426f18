package audio

import "encoding/binary"

// Static RTP payload types.
const (
	PayloadPCMU uint8 = 0
	PayloadGSM  uint8 = 3
	PayloadPCMA uint8 = 8
)

// Codec decodes one fixed-size frame of RTP payload into 16-bit
// little-endian PCM. Decode requires len(in) >= InSize() and
// len(out) >= OutSize(). Implementations hold no mutable state.
type Codec interface {
	Name() string
	PayloadType() uint8
	InSize() int
	OutSize() int
	Decode(in, out []byte)
}

// g711FrameSize is 20 ms at 8 kHz.
const g711FrameSize = 160

// G711 decodes A-law or μ-law through a lookup table built at construction.
type G711 struct {
	alaw  bool
	table [256]int16
}

// NewG711 returns the A-law decoder if alaw is set, μ-law otherwise.
func NewG711(alaw bool) *G711 {
	g := &G711{alaw: alaw}
	for i := range g.table {
		if alaw {
			g.table[i] = alawToLinear(uint8(i))
		} else {
			g.table[i] = ulawToLinear(uint8(i))
		}
	}
	return g
}

func (g *G711) Name() string {
	if g.alaw {
		return "PCMA"
	}
	return "PCMU"
}

func (g *G711) PayloadType() uint8 {
	if g.alaw {
		return PayloadPCMA
	}
	return PayloadPCMU
}

func (g *G711) InSize() int  { return g711FrameSize }
func (g *G711) OutSize() int { return 2 * g711FrameSize }

func (g *G711) Decode(in, out []byte) {
	for i := 0; i < g711FrameSize; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(g.table[in[i]]))
	}
}

// Sample returns the linear value of one encoded byte.
func (g *G711) Sample(b uint8) int16 {
	return g.table[b]
}

func ulawToLinear(u uint8) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + 0x84
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(0x84 - t)
	}
	return int16(t - 0x84)
}

func alawToLinear(a uint8) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

// DefaultCodecs returns the supported decoders: PCMU and PCMA.
func DefaultCodecs() []Codec {
	return []Codec{NewG711(false), NewG711(true)}
}
