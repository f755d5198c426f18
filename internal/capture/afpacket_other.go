//go:build !linux

package capture

import (
	"errors"

	"github.com/google/gopacket"

	"firestige.xyz/callx/internal/metrics"
)

// AfpacketSource is only available on Linux.
type AfpacketSource struct{}

// OpenAfpacket always fails off Linux.
func OpenAfpacket(AfpacketConfig) (*AfpacketSource, error) {
	return nil, errors.New("afpacket capture requires linux")
}

func (s *AfpacketSource) Name() string { return "afpacket" }

func (s *AfpacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, errors.New("afpacket capture requires linux")
}

func (s *AfpacketSource) Stats() metrics.CaptureStats { return metrics.CaptureStats{} }

func (s *AfpacketSource) Close() error { return nil }
