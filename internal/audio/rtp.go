// Package audio turns the RTP captured for a call into PCM audio.
package audio

import (
	"encoding/binary"
	"errors"
)

const rtpHeaderLen = 12

var (
	ErrShortRTP   = errors.New("callx: rtp packet shorter than fixed header")
	ErrRTPVersion = errors.New("callx: unexpected rtp version")
)

// Header holds the fixed RTP header fields used for decoding.
type Header struct {
	Version     uint8
	Marker      bool
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
}

// ParseHeader decodes the 12-byte fixed header and returns the payload
// following it. CSRC lists and extensions are not skipped.
func ParseHeader(b []byte) (Header, []byte, error) {
	if len(b) < rtpHeaderLen {
		return Header{}, nil, ErrShortRTP
	}

	// Byte 0: V(7:6) P(5) X(4) CC(3:0)
	// Byte 1: M(7) PT(6:0)
	h := Header{
		Version:     b[0] >> 6,
		Marker:      b[1]>>7 == 1,
		PayloadType: b[1] & 0x7F,
		Sequence:    binary.BigEndian.Uint16(b[2:4]),
		Timestamp:   binary.BigEndian.Uint32(b[4:8]),
		SSRC:        binary.BigEndian.Uint32(b[8:12]),
	}
	if h.Version != 2 {
		return h, nil, ErrRTPVersion
	}
	return h, b[rtpHeaderLen:], nil
}
