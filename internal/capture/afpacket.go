//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"

	"firestige.xyz/callx/internal/metrics"
)

// AfpacketSource captures from a TPACKET_V3 ring.
type AfpacketSource struct {
	device string

	mu     sync.Mutex
	handle *afpacket.TPacket
	last   metrics.CaptureStats
}

// OpenAfpacket opens the ring, joins the fanout group when FanoutID is set
// and installs the compiled BPF program.
func OpenAfpacket(cfg AfpacketConfig) (*AfpacketSource, error) {
	frameSize, blockSize, numBlocks, err := recomputeSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket open %s: %w", cfg.Device, err)
	}

	if cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("afpacket fanout %d: %w", cfg.FanoutID, err)
		}
	}

	if cfg.Filter != "" {
		raw, err := CompileBPF(cfg.Filter, frameSize)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return nil, fmt.Errorf("afpacket set BPF: %w", err)
		}
	}

	return &AfpacketSource{device: cfg.Device, handle: tp}, nil
}

func (s *AfpacketSource) Name() string { return "afpacket:" + s.device }

// ReadPacketData reads the next frame straight from the ring.
func (s *AfpacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

// Stats returns the cumulative TPACKET_V3 counters. After Close the last
// reading is kept.
func (s *AfpacketSource) Stats() metrics.CaptureStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return s.last
	}
	_, st, err := s.handle.SocketStats()
	if err != nil {
		return s.last
	}
	s.last = metrics.CaptureStats{
		Received:  uint64(st.Packets()),
		Dropped:   uint64(st.Drops()),
		IfDropped: uint64(st.QueueFreezes()),
	}
	return s.last
}

// Close must not race with ReadPacketData: the ring is unmapped on close.
func (s *AfpacketSource) Close() error {
	s.Stats()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
