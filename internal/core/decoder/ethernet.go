package decoder

import (
	"encoding/binary"

	"firestige.xyz/callx/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

type ethernetHeader struct {
	etherType uint16
	vlans     []uint16
}

// decodeEthernet decodes the Ethernet header including 802.1Q tags.
// Returns the header and the remaining payload.
func decodeEthernet(data []byte) (ethernetHeader, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return ethernetHeader{}, nil, core.ErrPacketTooShort
	}

	eth := ethernetHeader{}
	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return eth, nil, core.ErrPacketTooShort
		}
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		eth.vlans = append(eth.vlans, tci&0x0FFF)
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	eth.etherType = etherType
	return eth, data[offset:], nil
}
