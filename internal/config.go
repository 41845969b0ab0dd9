package internal

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Storage holds the relational store configuration.
	Storage StorageConfig `yaml:"storage"`
	// Webhooks contains the per-provider ingestion endpoints.
	Webhooks struct {
		AzureDevOps WebhookConfig `yaml:"azure_devops"`
		GitLab      WebhookConfig `yaml:"gitlab"`
		Bitbucket   WebhookConfig `yaml:"bitbucket"`
	} `yaml:"webhooks"`
	// Callback configures the update-job request handler endpoint.
	Callback CallbackConfig `yaml:"callback"`
	// Watermill holds configuration for the sync-trigger event bus.
	Watermill WatermillConfig `yaml:"watermill"`
	// River holds configuration for the update-job queue.
	River RiverConfig `yaml:"river"`
	// Sync tunes the Synchronizer.
	Sync SyncConfig `yaml:"sync"`
}

// Config represents the application configuration including trigger rules.
type Config struct {
	AppConfig `yaml:",inline"`
	Rules     []Rule `yaml:"rules"`
}

// WebhookConfig represents the ingestion endpoint for a single provider.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CallbackConfig configures the endpoint the external job runner calls back on.
type CallbackConfig struct {
	PathPrefix           string `yaml:"path_prefix"`
	DescriptionMaxLength int    `yaml:"description_max_length"`
}

// StorageConfig holds the GORM store configuration.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Dialect     string `yaml:"dialect"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// RiverConfig holds configuration for the update-job queue the external
// runner consumes from.
type RiverConfig struct {
	DSN         string   `yaml:"dsn"`
	Queue       string   `yaml:"queue"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

// SyncConfig tunes bulk repository synchronization.
type SyncConfig struct {
	// ThrottleEvery pauses after this many configuration-file fetches.
	ThrottleEvery int `yaml:"throttle_every"`
	// ThrottlePauseMS is the length of that pause.
	ThrottlePauseMS int64 `yaml:"throttle_pause_ms"`
	// TriggerJobs enqueues update jobs for repositories whose configuration
	// changed during a sync.
	TriggerJobs bool `yaml:"trigger_jobs"`
}

// WatermillConfig holds the configuration for the event bus.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS pub/sub.
type NATSConfig struct {
	ClusterID      string `yaml:"cluster_id"`
	ClientID       string `yaml:"client_id"`
	ClientIDSuffix string `yaml:"client_id_suffix"`
	URL            string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// RulesConfig represents the rule-specific parts of the configuration.
type RulesConfig struct {
	Rules  []Rule `yaml:"rules"`
	Logger *log.Logger
}

// LoadConfig loads the full application configuration from a YAML file.
// It expands environment variables, applies defaults, and normalizes rules.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg.AppConfig)
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized

	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 30000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 4 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Webhooks.AzureDevOps.Path == "" {
		cfg.Webhooks.AzureDevOps.Path = "/webhooks/azuredevops"
	}
	if cfg.Webhooks.GitLab.Path == "" {
		cfg.Webhooks.GitLab.Path = "/webhooks/gitlab"
	}
	if cfg.Webhooks.Bitbucket.Path == "" {
		cfg.Webhooks.Bitbucket.Path = "/webhooks/bitbucket"
	}
	if cfg.Callback.PathPrefix == "" {
		cfg.Callback.PathPrefix = "/update_jobs/"
	}
	if cfg.Callback.DescriptionMaxLength == 0 {
		cfg.Callback.DescriptionMaxLength = 4000
	}
	if cfg.Watermill.Driver == "" {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 500
	}
	if cfg.River.Queue == "" {
		cfg.River.Queue = "update_jobs"
	}
	if cfg.River.MaxAttempts == 0 {
		cfg.River.MaxAttempts = 3
	}
	if cfg.Sync.ThrottleEvery == 0 {
		cfg.Sync.ThrottleEvery = 10
	}
	if cfg.Sync.ThrottlePauseMS == 0 {
		cfg.Sync.ThrottlePauseMS = 1000
	}
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		rule.Emit = strings.TrimSpace(rule.Emit)
		if rule.When == "" || rule.Emit == "" {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		out = append(out, rule)
	}
	return out, nil
}
