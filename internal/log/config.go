package log

const (
	DefaultPattern    = "%time [%level] %field %msg\n"
	DefaultTimeFormat = "2006-01-02 15:04:05.000"
)

// Config selects level, format and appenders.
type Config struct {
	Level      string `mapstructure:"log_level" yaml:"log_level"`
	Format     string `mapstructure:"log_format" yaml:"log_format"`
	Pattern    string `mapstructure:"log_pattern" yaml:"log_pattern"`
	TimeFormat string `mapstructure:"log_time_format" yaml:"log_time_format"`

	File       string `mapstructure:"log_file" yaml:"log_file"`
	MaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	MaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
	MaxAgeDays int    `mapstructure:"log_max_age_days" yaml:"log_max_age_days"`
	Compress   bool   `mapstructure:"log_compress" yaml:"log_compress"`

	KafkaBrokers []string `mapstructure:"log_kafka_brokers" yaml:"log_kafka_brokers"`
	KafkaTopic   string   `mapstructure:"log_kafka_topic" yaml:"log_kafka_topic"`
}
