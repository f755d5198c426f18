package output

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"firestige.xyz/callx/internal/audio"
	"firestige.xyz/callx/internal/log"
)

var (
	startSeparator = separator(1, 10, 100, 1000)
	endSeparator   = separator(1000, 100, 10, 1)
)

func separator(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, s := range v {
		binary.LittleEndian.PutUint16(b[2*i:], s)
	}
	return b
}

const socketConnectAttempts = 3

// SocketWriter streams the beginning of each recording to a remote
// feature extractor over one persistent TCP connection.
//
// Frame: start separator, record id (int64 LE), at most maxBytes of PCM,
// end separator.
type SocketWriter struct {
	addr     string
	maxBytes int
	timeout  time.Duration
	logger   log.Logger

	conn net.Conn
}

// NewSocketWriter sends at most seconds of audio per recording to addr.
func NewSocketWriter(addr string, seconds int, logger log.Logger) *SocketWriter {
	return &SocketWriter{
		addr:     addr,
		maxBytes: seconds * audio.SampleRate * 2,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// Send writes one frame, reconnecting up to three times while the
// separators and the record id cannot be written.
func (s *SocketWriter) Send(recordID int64, pcm *audio.PcmAudio) error {
	var err error
	for attempt := 1; attempt <= socketConnectAttempts; attempt++ {
		if err = s.connect(); err != nil {
			s.logger.WithError(err).Warnf("connecting to %s failed (attempt %d)", s.addr, attempt)
			continue
		}
		if err = s.writeHead(recordID); err != nil {
			s.logger.WithError(err).Warnf("writing frame head failed (attempt %d)", attempt)
			s.Close()
			continue
		}
		break
	}
	if err != nil {
		return err
	}

	sent, err := s.writePCM(pcm)
	if err != nil {
		s.Close()
		return fmt.Errorf("write pcm after %d bytes: %w", sent, err)
	}
	if _, err := s.conn.Write(endSeparator); err != nil {
		s.Close()
		return fmt.Errorf("write end separator: %w", err)
	}
	s.logger.Debugf("record %d: %d bytes (%d samples) sent", recordID, sent, sent/2)
	return nil
}

func (s *SocketWriter) connect() error {
	if s.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", s.addr, s.timeout)
	if err != nil {
		return err
	}
	s.conn = conn
	s.logger.Infof("connected %s -> %s", conn.LocalAddr(), conn.RemoteAddr())
	return nil
}

func (s *SocketWriter) writeHead(recordID int64) error {
	if _, err := s.conn.Write(startSeparator); err != nil {
		return err
	}
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], uint64(recordID))
	_, err := s.conn.Write(id[:])
	return err
}

func (s *SocketWriter) writePCM(pcm *audio.PcmAudio) (int, error) {
	sent := 0
	for _, c := range pcm.Chunks() {
		b := c.Bytes()
		if left := s.maxBytes - sent; len(b) > left {
			b = b[:left]
		}
		n, err := s.conn.Write(b)
		sent += n
		if err != nil {
			return sent, err
		}
		if sent >= s.maxBytes {
			break
		}
	}
	return sent, nil
}

// Close drops the connection. The next Send reconnects.
func (s *SocketWriter) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
