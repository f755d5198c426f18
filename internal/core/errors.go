package core

import "errors"

var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("callx: packet too short")
	ErrTruncated        = errors.New("callx: declared length exceeds captured data")
	ErrUnsupportedProto = errors.New("callx: unsupported protocol")
	ErrFragment         = errors.New("callx: non-first ip fragment")

	// SIP parsing errors
	ErrEmptyMessage       = errors.New("callx: empty sip message")
	ErrMalformedStartLine = errors.New("callx: malformed sip start line")
	ErrInvalidSDPPort     = errors.New("callx: invalid sdp media port")

	// Audio errors
	ErrChunkTooSmall = errors.New("callx: memory chunk smaller than decoder output")

	// Record store errors
	ErrNoRecord = errors.New("callx: no record id")

	// Configuration errors
	ErrConfigInvalid = errors.New("callx: invalid configuration")

	// Lifecycle errors
	ErrStageStopTimeout = errors.New("callx: stage did not stop in time")
	ErrPIDFileExists    = errors.New("callx: pid file already exists")
)
