package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/callx/internal/metrics"
)

// PcapConfig configures a libpcap live capture.
type PcapConfig struct {
	Device       string
	Filter       string
	SnapLen      int
	Timeout      time.Duration
	BufferSizeMB int
	Promiscuous  bool
}

// PcapSource captures from a live interface through libpcap.
type PcapSource struct {
	device string

	mu     sync.Mutex
	handle *pcap.Handle
	last   metrics.CaptureStats
}

// OpenPcap opens device, applies the filter and activates the handle.
func OpenPcap(cfg PcapConfig) (*PcapSource, error) {
	inactive, err := pcap.NewInactiveHandle(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("pcap open %s: %w", cfg.Device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		return nil, fmt.Errorf("pcap snaplen: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("pcap promisc: %w", err)
	}
	if err := inactive.SetTimeout(cfg.Timeout); err != nil {
		return nil, fmt.Errorf("pcap timeout: %w", err)
	}
	if cfg.BufferSizeMB > 0 {
		if err := inactive.SetBufferSize(cfg.BufferSizeMB * 1024 * 1024); err != nil {
			return nil, fmt.Errorf("pcap buffer size: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("pcap activate %s: %w", cfg.Device, err)
	}
	if lt := handle.LinkType(); lt != layers.LinkTypeEthernet {
		handle.Close()
		return nil, fmt.Errorf("pcap %s: unsupported link type %s", cfg.Device, lt)
	}
	if cfg.Filter != "" {
		if err := handle.SetBPFFilter(cfg.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("pcap filter %q: %w", cfg.Filter, err)
		}
	}

	return &PcapSource{device: cfg.Device, handle: handle}, nil
}

func (s *PcapSource) Name() string { return "pcap:" + s.device }

// ReadPacketData reads the next frame without copying it out of libpcap.
func (s *PcapSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

// Stats returns libpcap counters. After Close the last reading is kept.
func (s *PcapSource) Stats() metrics.CaptureStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return s.last
	}
	st, err := s.handle.Stats()
	if err != nil {
		return s.last
	}
	s.last = metrics.CaptureStats{
		Received:  uint64(st.PacketsReceived),
		Dropped:   uint64(st.PacketsDropped),
		IfDropped: uint64(st.PacketsIfDropped),
	}
	return s.last
}

func (s *PcapSource) Close() error {
	s.Stats()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
