package core

import (
	"fmt"
	"net/netip"
)

// Protocol is the transport protocol of a SocketAddress.
type Protocol uint8

const (
	ProtoUndefined Protocol = iota
	ProtoUDP
	ProtoTCP
)

func (p Protocol) String() string {
	switch p {
	case ProtoUDP:
		return "udp"
	case ProtoTCP:
		return "tcp"
	default:
		return "undefined"
	}
}

// SocketAddress is an (ip, port, protocol) triple usable as a map key.
type SocketAddress struct {
	IP    netip.Addr
	Port  uint16
	Proto Protocol
}

// NewUDPAddress builds a UDP socket address.
func NewUDPAddress(ip netip.Addr, port uint16) SocketAddress {
	return SocketAddress{IP: ip, Port: port, Proto: ProtoUDP}
}

// Compare orders addresses lexicographically by (ip, port, protocol).
// It returns -1, 0 or +1.
func (a SocketAddress) Compare(b SocketAddress) int {
	if c := a.IP.Compare(b.IP); c != 0 {
		return c
	}
	switch {
	case a.Port < b.Port:
		return -1
	case a.Port > b.Port:
		return 1
	}
	switch {
	case a.Proto < b.Proto:
		return -1
	case a.Proto > b.Proto:
		return 1
	}
	return 0
}

// Less reports whether a sorts before b.
func (a SocketAddress) Less(b SocketAddress) bool {
	return a.Compare(b) < 0
}

// IsValid requires a specified ip, a nonzero port and a defined protocol.
func (a SocketAddress) IsValid() bool {
	return a.IP.IsValid() && !a.IP.IsUnspecified() && a.Port != 0 && a.Proto != ProtoUndefined
}

func (a SocketAddress) String() string {
	return fmt.Sprintf("%s:%s", a.Proto, netip.AddrPortFrom(a.IP, a.Port))
}
