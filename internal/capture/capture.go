// Package capture adapts libpcap, AF_PACKET and pcap files to the packet pool.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/gopacket"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/core/pool"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/queue"
)

const stageName = "capture"

// ErrTimeout is returned by a source when its read timeout expired with no frame.
var ErrTimeout = errors.New("capture: read timeout")

// Source delivers raw link-layer frames. The returned data is only valid
// until the next read.
type Source interface {
	Name() string
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Stats() metrics.CaptureStats
	Close() error
}

// Capturer moves frames from a source into pooled buffers and onto the
// layer queue.
type Capturer struct {
	src    Source
	pool   *pool.Pool
	out    *queue.Queue[*core.PacketBuffer]
	logger log.Logger

	// wait blocks for a free buffer instead of dropping the frame; used
	// for offline replay where nothing is lost by slowing down.
	wait bool

	received  atomic.Uint64
	exhausted atomic.Uint64
}

// NewCapturer creates a capture stage reading src.
func NewCapturer(src Source, p *pool.Pool, out *queue.Queue[*core.PacketBuffer], wait bool, logger log.Logger) *Capturer {
	return &Capturer{src: src, pool: p, out: out, wait: wait, logger: logger}
}

// Source returns the underlying source.
func (c *Capturer) Source() Source { return c.src }

// Received returns the number of frames read from the source.
func (c *Capturer) Received() uint64 { return c.received.Load() }

// Exhausted returns the number of frames lost to an empty pool.
func (c *Capturer) Exhausted() uint64 { return c.exhausted.Load() }

// Run reads until ctx is done, the pool is deactivated or the source ends.
// It returns io.EOF when the source ran out of frames and closes the source
// on the way out.
func (c *Capturer) Run(ctx context.Context) error {
	defer func() {
		if err := c.src.Close(); err != nil {
			c.logger.WithError(err).Warn("closing capture source failed")
		}
	}()

	c.logger.WithField("source", c.src.Name()).Info("capture started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("capture stopped")
			return nil
		}

		data, ci, err := c.src.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, io.EOF):
			c.logger.Infof("capture source exhausted after %d frames", c.received.Load())
			return io.EOF
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read from %s: %w", c.src.Name(), err)
		}
		c.received.Add(1)

		buf, ok := c.acquire()
		if !ok {
			if !c.pool.Active() {
				c.logger.Info("packet pool deactivated, capture stopped")
				return nil
			}
			c.exhausted.Add(1)
			metrics.PoolExhaustedTotal.Inc()
			continue
		}

		buf.Fill(data, ci.Timestamp)
		c.out.Push(buf)
		metrics.PacketsTotal.WithLabelValues(stageName, metrics.ResultOK).Inc()
	}
}

func (c *Capturer) acquire() (*core.PacketBuffer, bool) {
	if c.wait {
		return c.pool.Acquire()
	}
	return c.pool.TryAcquire()
}
