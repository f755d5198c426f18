package decoder

import (
	"encoding/binary"

	"firestige.xyz/callx/internal/core"
)

const (
	udpHeaderLen = 8

	protocolTCP = 6
	protocolUDP = 17
)

type udpHeader struct {
	srcPort uint16
	dstPort uint16
	length  int
}

// decodeUDP decodes a UDP header and bounds its payload by the declared length.
func decodeUDP(data []byte) (udpHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return udpHeader{}, nil, core.ErrPacketTooShort
	}

	udp := udpHeader{
		srcPort: binary.BigEndian.Uint16(data[0:2]),
		dstPort: binary.BigEndian.Uint16(data[2:4]),
		length:  int(binary.BigEndian.Uint16(data[4:6])),
	}
	if udp.length == 0 {
		udp.length = len(data)
	}
	if udp.length < udpHeaderLen || udp.length > len(data) {
		return udp, nil, core.ErrTruncated
	}

	return udp, data[udpHeaderLen:udp.length], nil
}
