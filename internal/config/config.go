package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig       `mapstructure:"app"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	Postgres   PostgresConfig  `mapstructure:"postgres"`
	Scylla     ScyllaConfig    `mapstructure:"scylla"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Telemetry  TelemetryConfig `mapstructure:"telemetry"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	Retry      RetryConfig     `mapstructure:"retry"`
	Telephony  TelephonyConfig `mapstructure:"telephony"`
	Webhook    WebhookConfig   `mapstructure:"webhook"`
	Pipeline   PipelineConfig  `mapstructure:"pipeline"`
	Recordings RecordingConfig `mapstructure:"recordings"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	CompletedTopic  string        `mapstructure:"completed_topic"`
	EscalationTopic string        `mapstructure:"escalation_topic"`
	AlertTopic      string        `mapstructure:"alert_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	MaxBatchSize       int           `mapstructure:"max_batch_size"`
	MaxConcurrentCalls int           `mapstructure:"max_concurrent_calls"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// TelephonyConfig selects the primary provider and optionally a fallback
// used when the primary reports unavailability.
type TelephonyConfig struct {
	Primary            string        `mapstructure:"primary"`
	Fallback           string        `mapstructure:"fallback"`
	OriginationTimeout time.Duration `mapstructure:"origination_timeout"`
	AMI                AMIConfig     `mapstructure:"ami"`
	Cloud              CloudConfig   `mapstructure:"cloud"`
}

type AMIConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Secret      string        `mapstructure:"secret"`
	DialContext string        `mapstructure:"dial_context"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type CloudConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	FromNumber     string        `mapstructure:"from_number"`
	Secret         string        `mapstructure:"secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type PipelineConfig struct {
	MaxConcurrentTranscriptions int           `mapstructure:"max_concurrent_transcriptions"`
	StageTimeout                time.Duration `mapstructure:"stage_timeout"`
	Language                    string        `mapstructure:"language"`
	STTEndpoint                 string        `mapstructure:"stt_endpoint"`
	STTModel                    string        `mapstructure:"stt_model"`
	LLMEndpoint                 string        `mapstructure:"llm_endpoint"`
	LLMModel                    string        `mapstructure:"llm_model"`
	TTSEndpoint                 string        `mapstructure:"tts_endpoint"`
}

type RecordingConfig struct {
	Dir          string        `mapstructure:"dir"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("FOLLOWUP")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields so startup fails fast instead of
// surfacing missing configuration at call time.
func (c *Config) Validate() error {
	if c.Webhook.Secret == "" {
		return fmt.Errorf("config: webhook.secret is required")
	}
	switch c.Telephony.Primary {
	case "ami", "cloud":
	default:
		return fmt.Errorf("config: telephony.primary must be \"ami\" or \"cloud\", got %q", c.Telephony.Primary)
	}
	switch c.Telephony.Fallback {
	case "", "ami", "cloud":
	default:
		return fmt.Errorf("config: telephony.fallback must be \"ami\" or \"cloud\", got %q", c.Telephony.Fallback)
	}
	if c.Telephony.Fallback == c.Telephony.Primary {
		return fmt.Errorf("config: telephony.fallback must differ from primary")
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.RetryDelay <= 0 {
		c.Retry.RetryDelay = 30 * time.Minute
	}
	if c.Telephony.OriginationTimeout <= 0 {
		c.Telephony.OriginationTimeout = 30 * time.Second
	}
	if c.Scheduler.MaxConcurrentCalls <= 0 {
		c.Scheduler.MaxConcurrentCalls = 8
	}
	if c.Pipeline.MaxConcurrentTranscriptions <= 0 {
		c.Pipeline.MaxConcurrentTranscriptions = 2
	}
	if c.Pipeline.StageTimeout <= 0 {
		c.Pipeline.StageTimeout = 2 * time.Minute
	}
	if c.Recordings.Dir == "" {
		return fmt.Errorf("config: recordings.dir is required")
	}
	return nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
