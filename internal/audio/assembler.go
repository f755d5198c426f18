package audio

import (
	"fmt"
	"sync/atomic"

	"firestige.xyz/callx/internal/call"
	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/core/decoder"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/queue"
)

// Frame results reported on AudioFramesTotal.
const (
	frameDecoded     = "decoded"
	frameUndecodable = "undecodable"
	frameUnsupported = "unsupported"
	frameShort       = "short"
)

// Assembler decodes the sinks of evicted calls into PcmAudio.
type Assembler struct {
	parser    *decoder.Parser
	codecs    map[uint8]Codec
	chunkSize int
	recycler  core.Recycler
	logger    log.Logger

	seqErrors atomic.Uint64
}

// NewAssembler creates an assembler for the given codecs, or the default
// G.711 pair if none are given. Every chunk must hold at least one decoded
// frame of every codec.
func NewAssembler(chunkSize int, recycler core.Recycler, logger log.Logger, codecs ...Codec) (*Assembler, error) {
	if len(codecs) == 0 {
		codecs = DefaultCodecs()
	}
	a := &Assembler{
		parser:    decoder.NewParser(),
		codecs:    make(map[uint8]Codec, len(codecs)),
		chunkSize: chunkSize,
		recycler:  recycler,
		logger:    logger.WithField("stage", "audio"),
	}
	for _, c := range codecs {
		if c.OutSize() > chunkSize {
			return nil, fmt.Errorf("%w: %s needs %d bytes, chunk has %d",
				core.ErrChunkTooSmall, c.Name(), c.OutSize(), chunkSize)
		}
		a.codecs[c.PayloadType()] = c
	}
	return a, nil
}

// SeqErrors returns the number of sequence discontinuities seen so far.
func (a *Assembler) SeqErrors() uint64 {
	return a.seqErrors.Load()
}

// Run pops calls from in until it is deactivated and pushes the decoded
// audio of each direction to out.
func (a *Assembler) Run(in *queue.Queue[*call.Call], out *queue.Queue[*PcmAudio]) {
	for {
		c, ok := in.Pop()
		if !ok {
			a.logger.Debug("decode queue deactivated")
			return
		}
		for _, pcm := range a.Assemble(c) {
			out.Push(pcm)
		}
	}
}

// Assemble drains every sink of c and returns the non-empty results.
// All drained buffers go back to the recycler.
func (a *Assembler) Assemble(c *call.Call) []*PcmAudio {
	c.Lock()
	dialog := c.Dialog()
	sinks := c.Sinks()
	c.Unlock()

	var out []*PcmAudio
	for _, s := range sinks {
		s.Deactivate()
		bufs := s.Drain()

		pcm := &PcmAudio{
			CallID:      c.ID,
			Caller:      dialog.Caller,
			Callee:      dialog.Callee,
			Start:       c.Created,
			CallerAudio: s.CallerAudio(),
		}
		a.decodeStream(pcm, bufs)
		if pcm.Empty() {
			continue
		}
		a.logger.WithField("call_id", c.ID).WithField("direction", pcm.Direction()).
			Debugf("assembled %d bytes from %d packets", pcm.Len(), len(bufs))
		out = append(out, pcm)
	}
	return out
}

func (a *Assembler) decodeStream(pcm *PcmAudio, bufs []*core.PacketBuffer) {
	var (
		chunk   = NewMemChunk(a.chunkSize)
		prevSeq uint16
		started bool
	)

	for _, buf := range bufs {
		h, payload, result := a.frame(buf)
		if result == frameDecoded {
			if started && h.Sequence != prevSeq+1 {
				a.seqErrors.Add(1)
				metrics.RtpSeqErrorsTotal.Inc()
				a.logger.Tracef("sequence error: previous %d, current %d", prevSeq, h.Sequence)
			}
			prevSeq, started = h.Sequence, true

			codec := a.codecs[h.PayloadType]
			for off := 0; off+codec.InSize() <= len(payload); off += codec.InSize() {
				dst, ok := chunk.Declare(codec.OutSize())
				if !ok {
					pcm.AddChunk(chunk)
					chunk = NewMemChunk(a.chunkSize)
					dst, _ = chunk.Declare(codec.OutSize())
				}
				codec.Decode(payload[off:], dst)
			}
		}
		metrics.AudioFramesTotal.WithLabelValues(result).Inc()
		if a.recycler != nil {
			a.recycler.Release(buf)
		}
	}
	pcm.AddChunk(chunk)
}

// frame extracts the RTP header and payload of buf and classifies it.
func (a *Assembler) frame(buf *core.PacketBuffer) (Header, []byte, string) {
	pkt, err := a.parser.Parse(buf)
	if err != nil {
		return Header{}, nil, frameUndecodable
	}
	h, payload, err := ParseHeader(pkt.Payload)
	if err != nil {
		return h, nil, frameUndecodable
	}
	codec, ok := a.codecs[h.PayloadType]
	if !ok {
		a.logger.Tracef("payload type %d not supported", h.PayloadType)
		return h, nil, frameUnsupported
	}
	if len(payload) < codec.InSize() {
		a.logger.Debugf("%s payload of %d bytes is below the %d byte frame", codec.Name(), len(payload), codec.InSize())
		return h, nil, frameShort
	}
	return h, payload, frameDecoded
}
