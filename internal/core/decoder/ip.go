package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/callx/internal/core"
)

const ipv4HeaderMinLen = 20

type ipv4Header struct {
	headerLen int
	totalLen  int
	protocol  uint8
	src       netip.Addr
	dst       netip.Addr
}

// decodeIPv4 decodes an IPv4 header and bounds its payload.
// The declared total length may not exceed the enclosing Ethernet payload.
func decodeIPv4(data []byte) (ipv4Header, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return ipv4Header{}, nil, core.ErrPacketTooShort
	}
	if version := data[0] >> 4; version != 4 {
		return ipv4Header{}, nil, core.ErrUnsupportedProto
	}

	ip := ipv4Header{headerLen: int(data[0]&0x0F) * 4}
	if ip.headerLen < ipv4HeaderMinLen || ip.headerLen > len(data) {
		return ip, nil, core.ErrPacketTooShort
	}

	ip.totalLen = int(binary.BigEndian.Uint16(data[2:4]))
	if ip.totalLen == 0 {
		// segmentation offload leaves the field zeroed
		ip.totalLen = len(data)
	}
	if ip.totalLen < ip.headerLen || ip.totalLen > len(data) {
		return ip, nil, core.ErrTruncated
	}

	// fragment offset is the low 13 bits of bytes 6-7
	if binary.BigEndian.Uint16(data[6:8])&0x1FFF != 0 {
		return ip, nil, core.ErrFragment
	}

	ip.protocol = data[9]
	ip.src = netip.AddrFrom4([4]byte(data[12:16]))
	ip.dst = netip.AddrFrom4([4]byte(data[16:20]))

	return ip, data[ip.headerLen:ip.totalLen], nil
}
