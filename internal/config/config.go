// Package config loads the flat key = value process configuration using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/sba"
)

// Capture sources.
const (
	SourcePcap     = "pcap"
	SourceAfpacket = "afpacket"
	SourceFile     = "file"
)

// sipIdentLen is len("SIP/2.0"); a smaller sniff size could never match.
const sipIdentLen = 7

// Config is the whole process configuration. Groups are squashed so every
// key stays flat in the file.
type Config struct {
	Process  ProcessConfig  `mapstructure:",squash" yaml:",inline"`
	Capture  CaptureConfig  `mapstructure:",squash" yaml:",inline"`
	Audio    AudioConfig    `mapstructure:",squash" yaml:",inline"`
	Policy   PolicyConfig   `mapstructure:",squash" yaml:",inline"`
	Output   OutputConfig   `mapstructure:",squash" yaml:",inline"`
	Console  ConsoleConfig  `mapstructure:",squash" yaml:",inline"`
	Metrics  MetricsConfig  `mapstructure:",squash" yaml:",inline"`
	Kafka    KafkaConfig    `mapstructure:",squash" yaml:",inline"`
	Command  CommandConfig  `mapstructure:",squash" yaml:",inline"`
	Timeouts TimeoutConfig  `mapstructure:",squash" yaml:",inline"`
	Sba      sba.Thresholds `mapstructure:",squash" yaml:",inline"`
}

// ─── Process ───

// ProcessConfig covers logging and process lifecycle.
type ProcessConfig struct {
	Log              log.Config    `mapstructure:",squash" yaml:",inline"`
	PIDFile          string        `mapstructure:"pid_file" yaml:"pid_file"`
	Daemonize        bool          `mapstructure:"daemonize" yaml:"daemonize"`
	StageStopTimeout time.Duration `mapstructure:"stage_stop_timeout" yaml:"stage_stop_timeout"`
}

// ─── Capture ───

// CaptureConfig selects the capture adapter and sizes the packet pool.
type CaptureConfig struct {
	Source           string `mapstructure:"capture_source" yaml:"capture_source"` // pcap | afpacket | file
	Device           string `mapstructure:"pcap_device" yaml:"pcap_device"`
	Filter           string `mapstructure:"pcap_filter" yaml:"pcap_filter"`
	File             string `mapstructure:"pcap_file" yaml:"pcap_file"`
	SnapLen          int    `mapstructure:"snap_len" yaml:"snap_len"`
	TimeoutMS        int    `mapstructure:"capture_timeout_ms" yaml:"capture_timeout_ms"`
	AfpacketBufferMB int    `mapstructure:"afpacket_buffer_mb" yaml:"afpacket_buffer_mb"`
	AfpacketFanoutID int    `mapstructure:"afpacket_fanout_id" yaml:"afpacket_fanout_id"` // 0 = no fanout
	MinSipSize       int    `mapstructure:"min_sip_size" yaml:"min_sip_size"`
	PoolSize         int    `mapstructure:"tp_repository_size" yaml:"tp_repository_size"`
	BufferSize       int    `mapstructure:"tp_buffer_size" yaml:"tp_buffer_size"`

	// ReplaySpeed paces file replay; 0 replays as fast as possible
	ReplaySpeed float64 `mapstructure:"replay_speed" yaml:"replay_speed"`
}

// Timeout returns the capture read timeout.
func (c CaptureConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ─── Audio ───

// AudioConfig sizes the PCM memory chunks.
type AudioConfig struct {
	MemChunkSize int `mapstructure:"mem_chunk_size" yaml:"mem_chunk_size"`
}

// ─── Policy ───

// PolicyConfig controls analysis cadence and what gets recorded.
type PolicyConfig struct {
	SbaPause             int  `mapstructure:"sba_pause" yaml:"sba_pause"` // seconds
	RecordIfIncidentOnly bool `mapstructure:"record_if_incident_only" yaml:"record_if_incident_only"`
	RecordCaller         bool `mapstructure:"record_caller" yaml:"record_caller"`
	RecordCallee         bool `mapstructure:"record_callee" yaml:"record_callee"`
}

// ─── Output ───

// OutputConfig enables the audio outputs and the call-record store.
type OutputConfig struct {
	UseWave  bool   `mapstructure:"use_wavefile_output_interface" yaml:"use_wavefile_output_interface"`
	WavePath string `mapstructure:"wave_output_path" yaml:"wave_output_path"`

	UseSocket     bool   `mapstructure:"use_socket_output_interface" yaml:"use_socket_output_interface"`
	SocketIP      string `mapstructure:"socket_output_remote_ip" yaml:"socket_output_remote_ip"`
	SocketPort    int    `mapstructure:"socket_output_remote_port" yaml:"socket_output_remote_port"`
	SocketSeconds int    `mapstructure:"socket_output_send_seconds" yaml:"socket_output_send_seconds"`

	UseDB     bool   `mapstructure:"use_viat_db" yaml:"use_viat_db"`
	DBDriver  string `mapstructure:"viat_db_driver" yaml:"viat_db_driver"` // postgres | mysql
	DBConnect string `mapstructure:"viat_db_connect_str" yaml:"viat_db_connect_str"`

	S3Upload      bool   `mapstructure:"s3_upload" yaml:"s3_upload"`
	S3URI         string `mapstructure:"s3_uri" yaml:"s3_uri"`
	S3Region      string `mapstructure:"s3_region" yaml:"s3_region"`
	S3DeleteLocal bool   `mapstructure:"s3_delete_local" yaml:"s3_delete_local"`
}

// SocketAddr returns host:port of the socket output receiver.
func (o OutputConfig) SocketAddr() string {
	return fmt.Sprintf("%s:%d", o.SocketIP, o.SocketPort)
}

// ─── Console ───

// ConsoleConfig configures the remote console listener.
type ConsoleConfig struct {
	Start  bool   `mapstructure:"start_console" yaml:"start_console"`
	Listen string `mapstructure:"console_listen" yaml:"console_listen"`
	Port   int    `mapstructure:"console_port" yaml:"console_port"`
}

// Addr returns the console listen address.
func (c ConsoleConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	Listen  string `mapstructure:"metrics_listen" yaml:"metrics_listen"`
	Path    string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// ─── Kafka ───

// KafkaConfig configures incident export.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"kafka_enabled" yaml:"kafka_enabled"`
	Brokers     []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers"`
	Topic       string   `mapstructure:"kafka_topic" yaml:"kafka_topic"`
	Compression string   `mapstructure:"kafka_compression" yaml:"kafka_compression"`
}

// CommandConfig configures the optional Kafka command channel.
type CommandConfig struct {
	Enabled       bool          `mapstructure:"command_kafka_enabled" yaml:"command_kafka_enabled"`
	Brokers       []string      `mapstructure:"command_kafka_brokers" yaml:"command_kafka_brokers"`
	Topic         string        `mapstructure:"command_kafka_topic" yaml:"command_kafka_topic"`
	GroupID       string        `mapstructure:"command_kafka_group" yaml:"command_kafka_group"`
	ResponseTopic string        `mapstructure:"command_kafka_response_topic" yaml:"command_kafka_response_topic"`
	TTL           time.Duration `mapstructure:"command_ttl" yaml:"command_ttl"`
}

// ─── Timeouts ───

// TimeoutConfig bounds call lifetimes, in seconds unless noted.
type TimeoutConfig struct {
	MaxCallRecordingTime int `mapstructure:"max_call_recording_time" yaml:"max_call_recording_time"`
	MaxCallAge           int `mapstructure:"max_call_age" yaml:"max_call_age"`
	MaxCallAgeIfError    int `mapstructure:"max_call_age_if_error" yaml:"max_call_age_if_error"`
	MaxCallRtpInactivity int `mapstructure:"max_call_rtp_inactivity" yaml:"max_call_rtp_inactivity"`
	WatchdogIntervalMS   int `mapstructure:"watchdog_interval_ms" yaml:"watchdog_interval_ms"`
}

// WatchdogInterval returns the sweep interval.
func (t TimeoutConfig) WatchdogInterval() time.Duration {
	return time.Duration(t.WatchdogIntervalMS) * time.Millisecond
}

// ─── Validation ───

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// ValidateAndApplyDefaults validates cross-key constraints and normalises paths.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log ──
	if _, err := log.ParseLevel(cfg.Process.Log.Level); err != nil {
		return invalid("%v", err)
	}
	switch strings.ToLower(cfg.Process.Log.Format) {
	case "", "pattern", "json", "text":
	default:
		return invalid("log_format %q must be pattern, json or text", cfg.Process.Log.Format)
	}
	if cfg.Process.StageStopTimeout <= 0 {
		cfg.Process.StageStopTimeout = 5 * time.Second
	}

	// ── Capture ──
	switch cfg.Capture.Source {
	case SourcePcap, SourceAfpacket:
		if cfg.Capture.Device == "" {
			return invalid("pcap_device is required for capture_source=%s", cfg.Capture.Source)
		}
	case SourceFile:
		if cfg.Capture.File == "" {
			return invalid("pcap_file is required for capture_source=file")
		}
	default:
		return invalid("capture_source %q must be pcap, afpacket or file", cfg.Capture.Source)
	}
	if cfg.Capture.MinSipSize < sipIdentLen {
		return invalid("min_sip_size must be at least %d", sipIdentLen)
	}
	if cfg.Capture.PoolSize <= 0 {
		return invalid("tp_repository_size must be positive")
	}
	if cfg.Capture.BufferSize <= 0 || cfg.Capture.SnapLen <= 0 {
		return invalid("tp_buffer_size and snap_len must be positive")
	}
	if cfg.Capture.ReplaySpeed < 0 {
		return invalid("replay_speed must not be negative")
	}
	if cfg.Audio.MemChunkSize <= 0 {
		return invalid("mem_chunk_size must be positive")
	}

	// ── Policy ──
	if cfg.Policy.SbaPause < 0 {
		return invalid("sba_pause has to be greater zero")
	}

	// ── Output ──
	out := &cfg.Output
	if out.UseSocket && out.SocketIP == "" {
		return invalid("use_socket_output_interface is true but socket_output_remote_ip is not set")
	}
	if out.UseSocket && out.SocketPort == 0 {
		return invalid("use_socket_output_interface is true but socket_output_remote_port is not set")
	}
	if out.UseSocket && out.SocketSeconds <= 0 {
		return invalid("socket_output_send_seconds must be positive")
	}
	if out.UseWave && out.WavePath == "" {
		return invalid("use_wavefile_output_interface is true but wave_output_path is not set")
	}
	if out.WavePath != "" && !strings.HasSuffix(out.WavePath, "/") {
		out.WavePath += "/"
	}
	if out.UseSocket && !out.UseDB {
		return invalid("use_socket_output_interface is true but use_viat_db is false")
	}
	if out.UseDB {
		if out.DBConnect == "" {
			return invalid("use_viat_db is true but viat_db_connect_str is not set")
		}
		if out.DBDriver != "postgres" && out.DBDriver != "mysql" {
			return invalid("viat_db_driver %q must be postgres or mysql", out.DBDriver)
		}
	}
	if out.S3Upload {
		if !out.UseWave {
			return invalid("s3_upload requires use_wavefile_output_interface")
		}
		if out.S3URI == "" {
			return invalid("s3_upload is true but s3_uri is not set")
		}
	}

	// ── Console ──
	if cfg.Console.Start && (cfg.Console.Port <= 0 || cfg.Console.Port > 65535) {
		return invalid("console_port %d out of range", cfg.Console.Port)
	}

	// ── Kafka ──
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return invalid("kafka_brokers is required when kafka_enabled=true")
	}

	if cfg.Command.Enabled {
		if len(cfg.Command.Brokers) == 0 {
			return invalid("command_kafka_brokers is required when command_kafka_enabled=true")
		}
		if cfg.Command.Topic == "" || cfg.Command.GroupID == "" {
			return invalid("command_kafka_topic and command_kafka_group are required")
		}
		if cfg.Command.TTL <= 0 {
			return invalid("command_ttl must be positive")
		}
	}

	// ── Timeouts ──
	if cfg.Timeouts.WatchdogIntervalMS <= 0 {
		return invalid("watchdog_interval_ms must be positive")
	}

	return nil
}

// YAML renders the effective configuration.
func (cfg *Config) YAML() ([]byte, error) {
	return yaml.Marshal(cfg)
}
