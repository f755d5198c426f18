// Package pipeline builds the capture engine and runs one goroutine per stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"firestige.xyz/callx/internal/audio"
	"firestige.xyz/callx/internal/call"
	"firestige.xyz/callx/internal/capture"
	"firestige.xyz/callx/internal/classify"
	"firestige.xyz/callx/internal/config"
	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/core/decoder"
	"firestige.xyz/callx/internal/core/pool"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/output"
	"firestige.xyz/callx/internal/queue"
	"firestige.xyz/callx/internal/sba"
	"firestige.xyz/callx/internal/sip"
)

// Stage names, also used as metric labels.
const (
	stageCapture  = "capture"
	stageLayer    = "layer"
	stageClassify = "classify"
	stageSip      = "sip"
	stageWatchdog = "watchdog"
	stageAudio    = "audio"
	stageOutput   = "output"
	stageAnalyzer = "analyzer"
)

// Pipeline owns every container and stage of the engine.
//
//	capture -> frames -> layer -> udp -> classify -> sip -> processor
//	                                        |                  |
//	                                    RTP sinks        decode queue <- watchdog
//	                                                           |
//	                                                audio -> pcm -> output
type Pipeline struct {
	cfg    *config.Config
	logger log.Logger
	now    func() time.Time

	pool   *pool.Pool
	frames *queue.Queue[*core.PacketBuffer]
	udp    *queue.Queue[*decoder.Packet]
	sip    *queue.Queue[*decoder.Packet]
	decode *queue.Queue[*call.Call]
	pcm    *queue.Queue[*audio.PcmAudio]

	calls *call.CallTable
	sinks *call.SinkTable
	store *sba.Store

	parser     *decoder.Parser
	classifier *classify.Classifier
	processor  *call.Processor
	watchdog   *call.Watchdog
	assembler  *audio.Assembler
	handler    *output.Handler
	analyzer   *sba.Analyzer

	source       capture.Source
	capturer     *capture.Capturer
	outputs      []output.HandlerOption
	outputsSet   bool
	publisher    sba.Publisher
	publisherSet bool
	closers      []func() error

	metrics Metrics

	mu          sync.Mutex
	stages      map[string]*stage
	captureDone chan struct{}
	captureErr  error
	started     bool
	stopOnce    sync.Once
	stopErr     error
}

type stage struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds every stage from cfg. Outputs and the incident publisher are
// opened here, the capture source in Start.
func New(ctx context.Context, cfg *config.Config, logger log.Logger, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		frames: queue.New[*core.PacketBuffer](),
		udp:    queue.New[*decoder.Packet](),
		sip:    queue.New[*decoder.Packet](),
		decode: queue.New[*call.Call](),
		pcm:    queue.New[*audio.PcmAudio](),
		calls:  call.NewCallTable(),
		sinks:  call.NewSinkTable(),
		store:  sba.NewStore(),
		parser: decoder.NewParser(),
		stages: make(map[string]*stage),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.pool = pool.New(cfg.Capture.PoolSize, cfg.Capture.BufferSize)
	assembler, err := audio.NewAssembler(cfg.Audio.MemChunkSize, p.pool, logger)
	if err != nil {
		return nil, err
	}
	p.assembler = assembler

	if !p.outputsSet {
		if err := p.buildOutputs(ctx); err != nil {
			p.closeAll()
			return nil, err
		}
	}
	if !p.publisherSet {
		if err := p.buildPublisher(logger.WithField("stage", stageAnalyzer)); err != nil {
			p.closeAll()
			return nil, err
		}
	}

	p.classifier = classify.New(p.sinks, cfg.Capture.MinSipSize)
	p.processor = call.NewProcessor(p.calls, p.sinks, p.decode, p.store, p.pool,
		logger.WithField("stage", stageSip),
		call.WithClock(p.now),
		call.WithRecordIfIncidentOnly(cfg.Policy.RecordIfIncidentOnly))

	t := cfg.Timeouts
	p.watchdog = call.NewWatchdog(p.calls, p.sinks, p.decode, call.Limits{
		MaxRecordingTime:  time.Duration(t.MaxCallRecordingTime) * time.Second,
		MaxCallAge:        time.Duration(t.MaxCallAge) * time.Second,
		MaxCallAgeIfError: time.Duration(t.MaxCallAgeIfError) * time.Second,
		MaxRtpInactivity:  time.Duration(t.MaxCallRtpInactivity) * time.Second,
	}, t.WatchdogInterval(), logger.WithField("stage", stageWatchdog))
	p.watchdog.SetClock(p.now)

	p.handler = output.NewHandler(output.Options{
		RecordCaller: cfg.Policy.RecordCaller,
		RecordCallee: cfg.Policy.RecordCallee,
	}, logger, p.outputs...)

	anOpts := []sba.Option{sba.WithClock(p.now)}
	if p.publisher != nil {
		anOpts = append(anOpts, sba.WithPublisher(p.publisher))
	}
	p.analyzer = sba.NewAnalyzer(p.store, cfg.Sba, time.Duration(cfg.Policy.SbaPause)*time.Second, logger, anOpts...)

	return p, nil
}

// Start opens the capture source unless one was given and starts every
// stage, consumers first.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	if p.source == nil {
		src, err := capture.Open(captureOptions(p.cfg))
		if err != nil {
			return err
		}
		p.source = src
	}
	// replay must not lose frames to a full pool
	wait := p.cfg.Capture.Source == config.SourceFile
	p.capturer = capture.NewCapturer(p.source, p.pool, p.frames, wait, p.logger.WithField("stage", stageCapture))

	p.goStage(ctx, stageAnalyzer, func(ctx context.Context) { p.analyzer.Run(ctx) })
	p.goStage(ctx, stageOutput, func(context.Context) { runQueue(p.pcm, p.writeAudio) })
	p.goStage(ctx, stageAudio, func(context.Context) { runQueue(p.decode, p.assembleCall) })
	p.goStage(ctx, stageWatchdog, func(ctx context.Context) { p.watchdog.Run(ctx) })
	p.goStage(ctx, stageSip, func(context.Context) { runQueue(p.sip, p.processSip) })
	p.goStage(ctx, stageClassify, func(context.Context) { runQueue(p.udp, p.classifyPacket) })
	p.goStage(ctx, stageLayer, func(context.Context) { runQueue(p.frames, p.parseFrame) })

	p.captureDone = make(chan struct{})
	p.goStage(ctx, stageCapture, func(ctx context.Context) {
		defer close(p.captureDone)
		err := p.capturer.Run(ctx)
		p.mu.Lock()
		p.captureErr = err
		p.mu.Unlock()
		switch {
		case errors.Is(err, io.EOF):
			p.logger.WithField("source", p.source.Name()).Info("capture source exhausted")
		case err != nil:
			p.logger.WithError(err).Error("capture stopped")
		}
	})

	p.started = true
	p.logger.WithFields(map[string]interface{}{
		"source":    p.source.Name(),
		"pool_size": p.pool.Size(),
	}).Info("pipeline started")
	return nil
}

func (p *Pipeline) goStage(parent context.Context, name string, run func(ctx context.Context)) {
	// stages are stopped by Stop in pipeline order, never by the caller's ctx
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s := &stage{name: name, cancel: cancel, done: make(chan struct{})}
	p.stages[name] = s
	go func() {
		defer close(s.done)
		run(ctx)
	}()
}

func runQueue[T any](q *queue.Queue[T], fn func(T)) {
	for {
		v, ok := q.Pop()
		if !ok {
			return
		}
		fn(v)
	}
}

// CaptureDone is closed when the capture stage exits.
func (p *Pipeline) CaptureDone() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captureDone
}

// CaptureErr returns the error that ended capture, io.EOF for a finished replay.
func (p *Pipeline) CaptureErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captureErr
}

// ─── Stage work ───

func (p *Pipeline) parseFrame(buf *core.PacketBuffer) {
	p.metrics.Frames.Add(1)
	pkt, err := p.parser.Parse(buf)
	if err != nil {
		p.metrics.LayerDropped.Add(1)
		metrics.PacketsTotal.WithLabelValues(stageLayer, metrics.ResultDropped).Inc()
		p.pool.Release(buf)
		return
	}
	metrics.PacketsTotal.WithLabelValues(stageLayer, metrics.ResultOK).Inc()
	p.udp.Push(pkt)
}

func (p *Pipeline) classifyPacket(pkt *decoder.Packet) {
	switch p.classifier.Classify(pkt) {
	case classify.Rtp:
		p.metrics.Rtp.Add(1)
		metrics.PacketsTotal.WithLabelValues(stageClassify, "rtp").Inc()
	case classify.Sip:
		p.metrics.Sip.Add(1)
		metrics.PacketsTotal.WithLabelValues(stageClassify, "sip").Inc()
		p.sip.Push(pkt)
	case classify.TooSmall:
		p.metrics.TooSmall.Add(1)
		metrics.PacketsTotal.WithLabelValues(stageClassify, metrics.ResultDropped).Inc()
		p.pool.Release(pkt.Buf)
	default:
		p.metrics.NotSip.Add(1)
		metrics.PacketsTotal.WithLabelValues(stageClassify, metrics.ResultDropped).Inc()
		p.pool.Release(pkt.Buf)
	}
}

func (p *Pipeline) processSip(pkt *decoder.Packet) {
	msg, err := sip.ParsePacket(pkt)
	// the message owns copies of everything it needs
	p.pool.Release(pkt.Buf)
	if msg == nil {
		p.metrics.SipDropped.Add(1)
		metrics.PacketsTotal.WithLabelValues(stageSip, metrics.ResultDropped).Inc()
		p.logger.WithError(err).Trace("sip payload dropped")
		return
	}

	method := msg.Method
	if msg.Type == sip.Response {
		method = msg.CSeqMethod
	}
	metrics.SipMessagesTotal.WithLabelValues(msg.Type.String(), method.String()).Inc()

	if err := p.processor.Process(msg); err != nil {
		p.metrics.Anomalies.Add(1)
		metrics.PacketsTotal.WithLabelValues(stageSip, metrics.ResultError).Inc()
		return
	}
	metrics.PacketsTotal.WithLabelValues(stageSip, metrics.ResultOK).Inc()
}

func (p *Pipeline) assembleCall(c *call.Call) {
	for _, pcm := range p.assembler.Assemble(c) {
		p.pcm.Push(pcm)
	}
}

func (p *Pipeline) writeAudio(pcm *audio.PcmAudio) {
	p.metrics.Recordings.Add(1)
	p.handler.Handle(context.Background(), pcm)
}

// ─── Shutdown ───

// Stop halts every stage in pipeline order. Each stage's input is
// deactivated and the stage gets stage_stop_timeout to exit; a stage that
// does not exit is reported with core.ErrStageStopTimeout and left running.
//
// With drain set, items still queued when a stage exits are processed
// inline, live calls are flushed to audio and a final analyzer pass runs.
// Without it they are dropped and their buffers returned to the pool.
func (p *Pipeline) Stop(drain bool) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(drain)
	})
	return p.stopErr
}

func (p *Pipeline) stop(drain bool) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		p.closeAll()
		return nil
	}

	p.logger.WithField("drain", drain).Info("pipeline stopping")
	var errs []error

	// capture reads from the source, not a queue: cancel and unblock Acquire
	errs = append(errs, p.halt(stageCapture, p.pool.Deactivate))

	errs = append(errs, p.halt(stageLayer, p.frames.Deactivate))
	leftover(drain, p.frames, p.parseFrame, p.pool.Release)

	errs = append(errs, p.halt(stageClassify, p.udp.Deactivate))
	leftover(drain, p.udp, p.classifyPacket, p.releasePacket)

	errs = append(errs, p.halt(stageSip, p.sip.Deactivate))
	leftover(drain, p.sip, p.processSip, p.releasePacket)

	errs = append(errs, p.halt(stageWatchdog, nil))
	if drain {
		if n := p.watchdog.Flush(); n > 0 {
			p.logger.WithField("calls", n).Info("live calls flushed")
		}
	}

	errs = append(errs, p.halt(stageAudio, p.decode.Deactivate))
	leftover(drain, p.decode, p.assembleCall, nil)

	errs = append(errs, p.halt(stageOutput, p.pcm.Deactivate))
	leftover(drain, p.pcm, p.writeAudio, nil)
	p.handler.Close()

	errs = append(errs, p.halt(stageAnalyzer, nil))
	if drain {
		incidents := p.analyzer.Analyze()
		if p.publisher != nil && len(incidents) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Process.StageStopTimeout)
			if err := p.publisher.Publish(ctx, incidents); err != nil {
				p.logger.WithError(err).Warn("publishing final incidents failed")
			}
			cancel()
		}
	}

	p.closeAll()

	err := errors.Join(errs...)
	if err != nil {
		p.logger.WithError(err).Error("pipeline stopped with errors")
	} else {
		p.logger.WithFields(map[string]interface{}{
			"frames":     p.metrics.Frames.Load(),
			"recordings": p.metrics.Recordings.Load(),
		}).Info("pipeline stopped")
	}
	return err
}

// halt cancels the stage context, runs deactivate and waits for the stage
// to exit within the stop timeout.
func (p *Pipeline) halt(name string, deactivate func()) error {
	p.mu.Lock()
	s, ok := p.stages[name]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	s.cancel()
	if deactivate != nil {
		deactivate()
	}

	timer := time.NewTimer(p.cfg.Process.StageStopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		p.logger.WithField("stage", name).Debug("stage stopped")
		return nil
	case <-timer.C:
		p.logger.WithField("stage", name).Error("stage did not stop in time")
		return fmt.Errorf("%w: %s", core.ErrStageStopTimeout, name)
	}
}

func leftover[T any](drain bool, q *queue.Queue[T], handle func(T), discard func(T)) {
	for _, v := range q.Drain() {
		switch {
		case drain:
			handle(v)
		case discard != nil:
			discard(v)
		}
	}
}

func (p *Pipeline) releasePacket(pkt *decoder.Packet) {
	p.pool.Release(pkt.Buf)
}

func (p *Pipeline) closeAll() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.logger.WithError(err).Warn("closing output failed")
		}
	}
	p.closers = nil
}

// Run starts the pipeline and blocks until capture ends or ctx is done,
// then stops it. A finished replay drains; a cancelled run does not.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		p.closeAll()
		return err
	}

	drain := false
	select {
	case <-p.CaptureDone():
		drain = errors.Is(p.CaptureErr(), io.EOF)
	case <-ctx.Done():
	}

	stopErr := p.Stop(drain)
	if err := p.CaptureErr(); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(err, stopErr)
	}
	return stopErr
}

// Stats returns the packet counters.
func (p *Pipeline) Stats() Stats {
	return p.metrics.snapshot()
}
