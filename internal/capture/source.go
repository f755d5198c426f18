package capture

import (
	"fmt"
	"time"
)

// Source kinds.
const (
	KindPcap     = "pcap"
	KindAfpacket = "afpacket"
	KindFile     = "file"
)

// Options selects and configures a source.
type Options struct {
	Kind         string
	Device       string
	Filter       string
	File         string
	SnapLen      int
	Timeout      time.Duration
	BufferSizeMB int
	FanoutID     uint16
	ReplaySpeed  float64
}

// AfpacketConfig configures an AF_PACKET ring.
type AfpacketConfig struct {
	Device       string
	Filter       string
	SnapLen      int
	Timeout      time.Duration
	BufferSizeMB int
	FanoutID     uint16 // 0 = no fanout group
}

// Open creates the source named by opts.Kind.
func Open(opts Options) (Source, error) {
	switch opts.Kind {
	case KindPcap:
		s, err := OpenPcap(PcapConfig{
			Device:       opts.Device,
			Filter:       opts.Filter,
			SnapLen:      opts.SnapLen,
			Timeout:      opts.Timeout,
			BufferSizeMB: opts.BufferSizeMB,
			Promiscuous:  true,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindAfpacket:
		s, err := OpenAfpacket(AfpacketConfig{
			Device:       opts.Device,
			Filter:       opts.Filter,
			SnapLen:      opts.SnapLen,
			Timeout:      opts.Timeout,
			BufferSizeMB: opts.BufferSizeMB,
			FanoutID:     opts.FanoutID,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindFile:
		s, err := OpenFile(opts.File)
		if err != nil {
			return nil, err
		}
		s.SetSpeed(opts.ReplaySpeed)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", opts.Kind)
	}
}

// recomputeSize derives TPACKET_V3 ring geometry from a memory budget:
// frameSize is aligned to TPACKET_ALIGNMENT, blockSize is a multiple of
// both the page size and frameSize, and blockSize*numBlocks approximates
// the budget with at least one block.
func recomputeSize(ringBufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52

	if ringBufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring buffer size must be positive, got %d MB", ringBufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = ((tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment) * tpacketAlignment
	blockSize = lcm(pageSize, frameSize)

	numBlocks = ringBufferSizeMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
