package pipeline

import (
	"context"
	"fmt"
	"time"

	"firestige.xyz/callx/internal/capture"
	"firestige.xyz/callx/internal/config"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/output"
	"firestige.xyz/callx/internal/recordstore"
	kafkareporter "firestige.xyz/callx/internal/reporter/kafka"
	"firestige.xyz/callx/internal/sba"
)

// Option customizes a Pipeline before it is built.
type Option func(*Pipeline)

// WithSource replaces the capture source named by the configuration.
func WithSource(src capture.Source) Option {
	return func(p *Pipeline) { p.source = src }
}

// WithOutputs replaces the outputs named by the configuration.
func WithOutputs(outputs ...output.HandlerOption) Option {
	return func(p *Pipeline) {
		p.outputs = outputs
		p.outputsSet = true
	}
}

// WithPublisher replaces the incident publisher named by the configuration.
func WithPublisher(pub sba.Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
		p.publisherSet = true
	}
}

// WithClock replaces the wall clock of the call processor, watchdog and analyzer.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func captureOptions(cfg *config.Config) capture.Options {
	c := cfg.Capture
	return capture.Options{
		Kind:         c.Source,
		Device:       c.Device,
		Filter:       c.Filter,
		File:         c.File,
		SnapLen:      c.SnapLen,
		Timeout:      c.Timeout(),
		BufferSizeMB: c.AfpacketBufferMB,
		FanoutID:     uint16(c.AfpacketFanoutID),
		ReplaySpeed:  c.ReplaySpeed,
	}
}

// buildOutputs opens every output the configuration enables. Anything
// opened is closed again if a later output fails.
func (p *Pipeline) buildOutputs(ctx context.Context) error {
	out := p.cfg.Output
	var opts []output.HandlerOption

	if out.UseDB {
		store, err := recordstore.Open(ctx, out.DBDriver, out.DBConnect)
		if err != nil {
			return fmt.Errorf("record store: %w", err)
		}
		p.closers = append(p.closers, store.Close)
		opts = append(opts, output.WithRecordStore(store))
	}
	if out.UseWave {
		opts = append(opts, output.WithWaveWriter(output.NewWaveWriter(out.WavePath)))
	}
	if out.UseSocket {
		opts = append(opts, output.WithSocketWriter(
			output.NewSocketWriter(out.SocketAddr(), out.SocketSeconds, p.logger.WithField("stage", "output"))))
	}
	if out.S3Upload {
		up, err := output.NewS3Uploader(ctx, out.S3URI, out.S3Region, out.S3DeleteLocal)
		if err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
		opts = append(opts, output.WithS3Uploader(up))
	}

	p.outputs = opts
	return nil
}

func (p *Pipeline) buildPublisher(logger log.Logger) error {
	k := p.cfg.Kafka
	if !k.Enabled {
		return nil
	}
	pub, err := kafkareporter.NewPublisher(kafkareporter.Config{
		Brokers:     k.Brokers,
		Topic:       k.Topic,
		Compression: k.Compression,
	}, logger)
	if err != nil {
		return fmt.Errorf("kafka publisher: %w", err)
	}
	p.closers = append(p.closers, pub.Close)
	p.publisher = pub
	return nil
}
