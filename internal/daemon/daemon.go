// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/callx/internal/command"
	"firestige.xyz/callx/internal/config"
	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/pipeline"
)

// Daemon manages the capture engine process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.Config
	configPath string
	overrides  map[string]any

	// Core components
	logger        log.Logger
	pipeline      *pipeline.Pipeline
	pipelineOpts  []pipeline.Option
	cmdHandler    *command.Handler
	console       *command.Server                // nil if start_console=false
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	kafkaDone     chan struct{}
	metricsServer *metrics.Server // nil if metrics disabled
	pidWritten    bool
	drain         bool

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithPipelineOptions passes options through to the pipeline.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(d *Daemon) { d.pipelineOpts = append(d.pipelineOpts, opts...) }
}

// WithOverrides applies key/value overrides on top of the config file,
// also on reload.
func WithOverrides(overrides map[string]any) Option {
	return func(d *Daemon) { d.overrides = overrides }
}

// New loads the configuration and creates a Daemon.
func New(configPath string, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		configPath:   configPath,
		logger:       log.GetLogger(),
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	cfg, err := config.Load(configPath, d.overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	d.config = cfg

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config { return d.config }

// Start initializes and starts all daemon components. On error everything
// started so far is stopped again.
func (d *Daemon) Start() error {
	if err := d.start(); err != nil {
		d.Stop()
		return err
	}
	return nil
}

func (d *Daemon) start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	d.logger.WithFields(map[string]interface{}{
		"config": d.configPath,
		"source": d.config.Capture.Source,
	}).Info("starting callx daemon")

	if d.config.Process.Daemonize {
		d.logger.Warn("daemonize is not supported, run callx under a service manager")
	}

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return err
	}

	// 3. Build the pipeline
	p, err := pipeline.New(d.ctx, d.config, d.logger, d.pipelineOpts...)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	d.pipeline = p

	// 4. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. Create command handler; the shutdown command ends Run
	d.cmdHandler = command.NewHandler(p, d.logger)
	d.cmdHandler.SetShutdownFunc(func() {
		d.logger.Info("shutdown triggered via console command")
		d.TriggerShutdown()
	})

	// 6. Start the console
	if d.config.Console.Start {
		d.console = command.NewServer(d.config.Console.Addr(), d.cmdHandler, d.logger)
		if err := d.console.Listen(); err != nil {
			return err
		}
		go func() {
			if err := d.console.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.WithError(err).Error("console server failed")
			}
		}()
	}

	// 7. Start Kafka command consumer (if enabled)
	if d.config.Command.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			// Non-fatal: the console still works
			d.logger.WithError(err).Error("failed to start kafka command consumer")
		}
	}

	// 8. Start capturing
	if err := p.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	d.logger.Info("daemon started successfully")
	return nil
}

// Stop shuts every component down. Queued packets and live calls are
// dropped unless a replayed file ended. Calling Stop more than once is a no-op.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	d.logger.Info("initiating graceful shutdown")

	// 1. Stop Kafka command consumer first (no new commands)
	if d.kafkaConsumer != nil {
		d.cancel()
		<-d.kafkaDone
		if err := d.kafkaConsumer.Stop(); err != nil {
			d.logger.WithError(err).Error("error stopping kafka command consumer")
		}
	}

	// 2. Stop the console
	if d.console != nil {
		if err := d.console.Stop(); err != nil {
			d.logger.WithError(err).Error("error stopping console")
		}
	}

	// 3. Stop the pipeline
	if d.pipeline != nil {
		if err := d.pipeline.Stop(d.drain); err != nil {
			d.logger.WithError(err).Error("error stopping pipeline")
		}
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			d.logger.WithError(err).Error("error stopping metrics server")
		}
		cancel()
	}

	// 5. Cancel context to signal all goroutines
	d.cancel()

	// 6. Unregister signal handler
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if err := d.removePIDFile(); err != nil {
		d.logger.WithError(err).Error("error removing PID file")
	}

	d.logger.Info("daemon stopped")
}

// Run blocks until shutdown is triggered, then stops the daemon.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. the shutdown console command
//  3. the end of a replayed capture file
//
// SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	d.logger.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					d.logger.WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			d.Stop()
			return nil

		case <-d.pipeline.CaptureDone():
			err := d.pipeline.CaptureErr()
			d.drain = errors.Is(err, io.EOF)
			d.logger.WithField("drain", d.drain).Info("capture ended")
			d.Stop()
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil

		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level, SBA thresholds.
// Cold (requires restart): everything else.
func (d *Daemon) Reload() error {
	d.logger.WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath, d.overrides)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	old := d.config

	hotReloaded := []string{}
	if newConfig.Process.Log.Level != old.Process.Log.Level {
		if err := log.SetLevel(newConfig.Process.Log.Level); err != nil {
			return err
		}
		hotReloaded = append(hotReloaded, "log_level")
	}
	if newConfig.Sba != old.Sba && d.pipeline != nil {
		d.pipeline.SetThresholds(newConfig.Sba)
		hotReloaded = append(hotReloaded, "sba")
	}

	requiresRestart := []string{}
	for name, changed := range map[string]bool{
		"capture":  !reflect.DeepEqual(newConfig.Capture, old.Capture),
		"audio":    newConfig.Audio != old.Audio,
		"policy":   newConfig.Policy != old.Policy,
		"output":   newConfig.Output != old.Output,
		"console":  newConfig.Console != old.Console,
		"metrics":  newConfig.Metrics != old.Metrics,
		"kafka":    !reflect.DeepEqual(newConfig.Kafka, old.Kafka),
		"command":  !reflect.DeepEqual(newConfig.Command, old.Command),
		"timeouts": newConfig.Timeouts != old.Timeouts,
	} {
		if changed {
			requiresRestart = append(requiresRestart, name)
		}
	}
	sort.Strings(requiresRestart)

	// keep the running values for keys that need a restart
	merged := *old
	merged.Process.Log.Level = newConfig.Process.Log.Level
	merged.Sba = newConfig.Sba
	d.config = &merged

	d.logger.WithFields(map[string]interface{}{
		"hot_reloaded":     hotReloaded,
		"requires_restart": requiresRestart,
	}).Info("configuration reloaded")
	return nil
}

// TriggerShutdown makes Run stop the daemon. Safe to call repeatedly.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// initLogging initializes the process logger from config.
func (d *Daemon) initLogging() error {
	if err := log.Init(&d.config.Process.Log); err != nil {
		return err
	}
	// Init only builds the logger once per process
	if err := log.SetLevel(d.config.Process.Log.Level); err != nil {
		return err
	}
	d.logger = log.GetLogger()
	d.logger.WithFields(map[string]interface{}{
		"level":  d.config.Process.Log.Level,
		"format": d.config.Process.Log.Format,
	}).Debug("logging initialized")
	return nil
}

// startKafkaConsumer starts the Kafka command consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	c := d.config.Command
	consumer, err := command.NewKafkaCommandConsumer(command.KafkaCommandConfig{
		Brokers:       c.Brokers,
		Topic:         c.Topic,
		GroupID:       c.GroupID,
		ResponseTopic: c.ResponseTopic,
		TTL:           c.TTL,
	}, d.cmdHandler, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	d.kafkaConsumer = consumer
	d.kafkaDone = make(chan struct{})
	go func() {
		defer close(d.kafkaDone)
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.WithError(err).Error("kafka command consumer stopped with error")
		}
	}()
	return nil
}

// startMetrics registers the pipeline collector and starts the metrics
// HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		d.logger.Info("metrics server disabled")
		return nil
	}
	if err := metrics.Register(metrics.NewCollector(d.pipeline)); err != nil {
		return err
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, d.logger)
	return d.metricsServer.Start(d.ctx)
}

// writePIDFile writes the process ID. An existing file means another
// instance owns it.
func (d *Daemon) writePIDFile() error {
	path := d.config.Process.PIDFile
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", core.ErrPIDFileExists, path)
		}
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	_, err = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	d.pidWritten = true

	d.logger.WithField("path", path).Debug("PID file written")
	return nil
}

func (d *Daemon) removePIDFile() error {
	if !d.pidWritten {
		return nil
	}
	path := d.config.Process.PIDFile
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	d.pidWritten = false
	return nil
}
