// Package classify separates RTP media from SIP signaling in UDP payloads.
package classify

import (
	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/core/decoder"
)

// Verdict is the outcome of classifying one UDP packet.
type Verdict uint8

const (
	// NotSip means no SIP signature was found; the caller drops the packet.
	NotSip Verdict = iota
	// TooSmall means the payload is below the SIP sniff size and was not scanned.
	TooSmall
	// Rtp means the buffer was handed to an RTP sink, which now owns it.
	Rtp
	// Sip means the payload carries a SIP signature.
	Sip
)

func (v Verdict) String() string {
	switch v {
	case TooSmall:
		return "too_small"
	case Rtp:
		return "rtp"
	case Sip:
		return "sip"
	default:
		return "not_sip"
	}
}

var sipIdent = []byte("SIP/2.0")

// RtpRouter delivers media to the sink registered for a destination socket.
// Deliver returns false when no sink is registered, in which case the
// buffer stays with the caller.
type RtpRouter interface {
	Deliver(dst core.SocketAddress, buf *core.PacketBuffer) bool
}

// Classifier tests for RTP first and falls back to a SIP signature scan.
type Classifier struct {
	router     RtpRouter
	minSipSize int
}

// New creates a classifier. minSipSize bounds both the minimum payload
// length and the scanned prefix.
func New(router RtpRouter, minSipSize int) *Classifier {
	return &Classifier{router: router, minSipSize: minSipSize}
}

// MinSipSize returns the configured sniff size.
func (c *Classifier) MinSipSize() int {
	return c.minSipSize
}

// Classify routes pkt. Unless the verdict is Rtp the packet buffer is
// still owned by the caller.
func (c *Classifier) Classify(pkt *decoder.Packet) Verdict {
	payload := pkt.Payload

	// RTP version 2 gated by a known destination socket
	if len(payload) > 0 && payload[0]>>6 == 2 {
		if c.router.Deliver(pkt.Dst, pkt.Buf) {
			return Rtp
		}
	}

	if len(payload) < c.minSipSize {
		return TooSmall
	}
	if HasSipIdent(payload, c.minSipSize) {
		return Sip
	}
	return NotSip
}

// HasSipIdent reports whether "SIP/2.0" lies entirely within the first
// limit bytes of payload. It never reads beyond len(payload).
func HasSipIdent(payload []byte, limit int) bool {
	if limit > len(payload) {
		limit = len(payload)
	}
	last := limit - len(sipIdent)
	for i := 0; i <= last; i++ {
		if payload[i] != sipIdent[0] {
			continue
		}
		match := true
		for n := 1; n < len(sipIdent); n++ {
			if payload[i+n] != sipIdent[n] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
