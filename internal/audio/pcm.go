package audio

import (
	"io"
	"time"

	"firestige.xyz/callx/internal/sip"
)

// SampleRate of the decoded PCM, which is mono 16-bit little-endian.
const SampleRate = 8000

// PcmAudio is the decoded audio of one direction of one call.
type PcmAudio struct {
	CallID      string
	Caller      sip.FromTo
	Callee      sip.FromTo
	Start       time.Time
	CallerAudio bool

	chunks []*MemChunk
}

// AddChunk appends a filled chunk. Empty chunks are ignored.
func (p *PcmAudio) AddChunk(c *MemChunk) {
	if c == nil || c.Len() == 0 {
		return
	}
	p.chunks = append(p.chunks, c)
}

// Chunks returns the chunks in stream order.
func (p *PcmAudio) Chunks() []*MemChunk { return p.chunks }

// Len returns the number of PCM bytes.
func (p *PcmAudio) Len() int {
	n := 0
	for _, c := range p.chunks {
		n += c.Len()
	}
	return n
}

// Duration returns the playback length.
func (p *PcmAudio) Duration() time.Duration {
	return time.Duration(p.Len()/2) * time.Second / SampleRate
}

// Empty reports whether no audio was decoded.
func (p *PcmAudio) Empty() bool { return len(p.chunks) == 0 }

// Direction returns "caller" or "callee".
func (p *PcmAudio) Direction() string {
	if p.CallerAudio {
		return "caller"
	}
	return "callee"
}

// WriteTo writes the PCM bytes in order.
func (p *PcmAudio) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, c := range p.chunks {
		n, err := w.Write(c.Bytes())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
