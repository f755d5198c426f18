// Package decoder implements in-place Ethernet/IPv4/UDP decoding.
package decoder

import (
	"firestige.xyz/callx/internal/core"
)

// Packet is a decoded frame. Payload aliases the owning buffer; nothing is copied.
type Packet struct {
	Buf       *core.PacketBuffer
	Src       core.SocketAddress
	Dst       core.SocketAddress
	EtherType uint16
	VLANs     []uint16
	IPProto   uint8
	Payload   []byte
}

// Parser decodes link, network and transport headers.
type Parser struct{}

// NewParser returns a layer parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes buf. Any failed check yields an error and the caller drops the frame.
// On success Src/Dst carry ip, port and protocol.
func (p *Parser) Parse(buf *core.PacketBuffer) (*Packet, error) {
	eth, ethPayload, err := decodeEthernet(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if eth.etherType != etherTypeIPv4 {
		return nil, core.ErrUnsupportedProto
	}

	ip, ipPayload, err := decodeIPv4(ethPayload)
	if err != nil {
		return nil, err
	}

	// only UDP carries signaling and media here
	if ip.protocol != protocolUDP {
		return nil, core.ErrUnsupportedProto
	}

	udp, payload, err := decodeUDP(ipPayload)
	if err != nil {
		return nil, err
	}

	return &Packet{
		Buf:       buf,
		EtherType: eth.etherType,
		VLANs:     eth.vlans,
		IPProto:   ip.protocol,
		Src:       core.NewUDPAddress(ip.src, udp.srcPort),
		Dst:       core.NewUDPAddress(ip.dst, udp.dstPort),
		Payload:   payload,
	}, nil
}
