package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/callx/internal/metrics"
)

// pcapng files start with a section header block
var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource replays a pcap or pcapng file.
type FileSource struct {
	path   string
	file   *os.File
	reader packetReader
	read   atomic.Uint64

	speed float64
	last  time.Time
	sleep func(time.Duration)
}

// OpenFile opens path and picks the pcap or pcapng reader from its magic.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(len(ngMagic))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}

	var r packetReader
	if bytes.Equal(magic, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse capture file %s: %w", path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("capture file %s: unsupported link type %s", path, lt)
	}

	return &FileSource{path: path, file: f, reader: r, sleep: time.Sleep}, nil
}

// SetSpeed paces replay by the recorded gaps between frames divided by
// speed. Zero, the default, replays as fast as possible.
func (s *FileSource) SetSpeed(speed float64) {
	s.speed = speed
}

func (s *FileSource) Name() string { return "file:" + s.path }

// ReadPacketData returns io.EOF at the end of the file.
func (s *FileSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		return data, ci, err
	}
	s.read.Add(1)
	if s.speed > 0 {
		if gap := ci.Timestamp.Sub(s.last); !s.last.IsZero() && gap > 0 {
			s.sleep(time.Duration(float64(gap) / s.speed))
		}
		s.last = ci.Timestamp
	}
	return data, ci, nil
}

// Stats reports frames read; a file never drops.
func (s *FileSource) Stats() metrics.CaptureStats {
	return metrics.CaptureStats{Received: s.read.Load()}
}

func (s *FileSource) Close() error {
	return s.file.Close()
}
