package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/sba"
)

// EnvPrefix prefixes environment overrides, e.g. CALLX_PCAP_DEVICE.
const EnvPrefix = "CALLX"

// Load reads path, applies overrides and the environment on top, then
// validates. An empty path yields the defaults.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	registerAliases(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// configType maps a file extension to a viper codec. Flat key = value files
// are read with the dotenv codec.
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "dotenv"
	}
}

// registerAliases accepts the historical spellings of three sba keys.
func registerAliases(v *viper.Viper) {
	v.RegisterAlias("sba_calls_duration_cumulative_max", "sba_call_duration_cumulative_max")
	v.RegisterAlias("sba_closed_by_callee_period", "sba_calls_closed_by_callee_period")
	v.RegisterAlias("sba_closed_by_callee_min_completed", "sba_calls_closed_by_callee_min_completed")
}

func setDefaults(v *viper.Viper) {
	// Process defaults
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "pattern")
	v.SetDefault("log_pattern", log.DefaultPattern)
	v.SetDefault("log_time_format", log.DefaultTimeFormat)
	v.SetDefault("log_max_size_mb", 100)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age_days", 30)
	v.SetDefault("log_compress", true)
	v.SetDefault("log_kafka_brokers", []string{})
	v.SetDefault("log_kafka_topic", "callx-logs")
	v.SetDefault("pid_file", "")
	v.SetDefault("daemonize", false)
	v.SetDefault("stage_stop_timeout", "5s")

	// Capture defaults
	v.SetDefault("capture_source", SourcePcap)
	v.SetDefault("pcap_device", "eth0")
	v.SetDefault("pcap_filter", "udp")
	v.SetDefault("pcap_file", "")
	v.SetDefault("snap_len", 65535)
	v.SetDefault("capture_timeout_ms", 500)
	v.SetDefault("afpacket_buffer_mb", 64)
	v.SetDefault("afpacket_fanout_id", 0)
	v.SetDefault("min_sip_size", 300)
	v.SetDefault("tp_repository_size", 100000)
	v.SetDefault("tp_buffer_size", 2048)
	v.SetDefault("replay_speed", 0.0)

	// Audio defaults
	v.SetDefault("mem_chunk_size", 1024)

	// Policy defaults
	v.SetDefault("sba_pause", 60)
	v.SetDefault("record_if_incident_only", false)
	v.SetDefault("record_caller", true)
	v.SetDefault("record_callee", false)

	// Output defaults
	v.SetDefault("use_wavefile_output_interface", true)
	v.SetDefault("wave_output_path", "/var/spool/callx/output/")
	v.SetDefault("use_socket_output_interface", false)
	v.SetDefault("socket_output_remote_ip", "")
	v.SetDefault("socket_output_remote_port", 0)
	v.SetDefault("socket_output_send_seconds", 6)
	v.SetDefault("use_viat_db", false)
	v.SetDefault("viat_db_driver", "postgres")
	v.SetDefault("viat_db_connect_str", "")
	v.SetDefault("s3_upload", false)
	v.SetDefault("s3_uri", "")
	v.SetDefault("s3_region", "")
	v.SetDefault("s3_delete_local", false)

	// Console defaults
	v.SetDefault("start_console", true)
	v.SetDefault("console_listen", "127.0.0.1")
	v.SetDefault("console_port", 5000)

	// Metrics defaults
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_listen", ":9091")
	v.SetDefault("metrics_path", "/metrics")

	// Kafka defaults
	v.SetDefault("kafka_enabled", false)
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_topic", "callx-incidents")
	v.SetDefault("kafka_compression", "snappy")

	v.SetDefault("command_kafka_enabled", false)
	v.SetDefault("command_kafka_brokers", []string{})
	v.SetDefault("command_kafka_topic", "callx-commands")
	v.SetDefault("command_kafka_group", "callx")
	v.SetDefault("command_kafka_response_topic", "")
	v.SetDefault("command_ttl", "5m")

	// Timeout defaults
	v.SetDefault("max_call_recording_time", 12)
	v.SetDefault("max_call_age", 3600)
	v.SetDefault("max_call_age_if_error", 30)
	v.SetDefault("max_call_rtp_inactivity", 90)
	v.SetDefault("watchdog_interval_ms", 500)

	// SBA defaults
	t := sba.DefaultThresholds()
	v.SetDefault("sba_call_attempts_period", t.CallAttemptsPeriod)
	v.SetDefault("sba_call_attempts_max", t.CallAttemptsMax)
	v.SetDefault("sba_calls_concurrent_period", t.CallsConcurrentPeriod)
	v.SetDefault("sba_calls_concurrent_max", t.CallsConcurrentMax)
	v.SetDefault("sba_call_completion_period", t.CallCompletionPeriod)
	v.SetDefault("sba_call_completion_attempts_min", t.CallCompletionAttemptsMin)
	v.SetDefault("sba_call_completion_min", t.CallCompletionMin)
	v.SetDefault("sba_call_duration_average_period", t.DurationAveragePeriod)
	v.SetDefault("sba_call_duration_average_min_completed", t.DurationAverageMinCompleted)
	v.SetDefault("sba_call_duration_average_min", t.DurationAverageMin)
	v.SetDefault("sba_call_duration_cumulative_period", t.DurationCumulativePeriod)
	v.SetDefault("sba_call_duration_cumulative_max", t.DurationCumulativeMax)
	v.SetDefault("sba_calls_closed_by_callee_period", t.ClosedByCalleePeriod)
	v.SetDefault("sba_calls_closed_by_callee_min_completed", t.ClosedByCalleeMinCompleted)
	v.SetDefault("sba_calls_closed_by_callee_max", t.ClosedByCalleeMax)
}
