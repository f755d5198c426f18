package sip

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"firestige.xyz/callx/internal/core"
)

// SDP holds the audio stream description of a session body.
type SDP struct {
	ConnectionAddr netip.Addr
	MediaPort      uint16
	Codecs         []uint8
}

// Socket returns the audio socket, or the zero address if incomplete.
func (s SDP) Socket() core.SocketAddress {
	if !s.ConnectionAddr.IsValid() || s.MediaPort == 0 {
		return core.SocketAddress{}
	}
	return core.NewUDPAddress(s.ConnectionAddr, s.MediaPort)
}

// parseSDP extracts the audio connection address, port and payload types.
// A media-level c= line inside the audio section overrides the session one.
func parseSDP(fields Fields) (SDP, error) {
	var (
		sdp       SDP
		sessionIP netip.Addr
		mediaIP   netip.Addr
		inAudio   bool
		seenMedia bool
	)

	for _, f := range fields {
		switch f.Name {
		case "c":
			addr, ok := parseConnection(f.Value)
			if !ok {
				continue
			}
			switch {
			case !seenMedia:
				sessionIP = addr
			case inAudio:
				mediaIP = addr
			}

		case "m":
			seenMedia = true
			g := sdpMediaAudio.FindStringSubmatch(f.Value)
			if g == nil {
				inAudio = false
				continue
			}
			port, err := strconv.Atoi(g[1])
			if err != nil || port < 1 || port > 65535 {
				return sdp, fmt.Errorf("%w: %q", core.ErrInvalidSDPPort, g[1])
			}
			inAudio = true
			sdp.MediaPort = uint16(port)
			sdp.Codecs = sdp.Codecs[:0]
			for _, pt := range strings.Fields(g[2]) {
				if n, err := strconv.Atoi(pt); err == nil && n < 128 {
					sdp.Codecs = append(sdp.Codecs, uint8(n))
				}
			}
		}
	}

	sdp.ConnectionAddr = sessionIP
	if mediaIP.IsValid() {
		sdp.ConnectionAddr = mediaIP
	}
	return sdp, nil
}

// parseConnection reads "IN IP4 <addr>". IPv6 connections are not supported.
func parseConnection(v string) (netip.Addr, bool) {
	parts := strings.Fields(v)
	if len(parts) < 3 || parts[0] != "IN" || parts[1] != "IP4" {
		return netip.Addr{}, false
	}
	// multicast connections may carry a /ttl suffix
	host, _, _ := strings.Cut(parts[2], "/")
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}
