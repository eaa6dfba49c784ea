package ingest

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/illmade-knight/go-ingest/pkg/source"
)

// Config is the immutable configuration for a pipeline. It is constructed
// once (typically from YAML) and passed by reference to every component at
// construction time; nothing mutates it afterwards.
type Config struct {
	// BootstrapServers seeds the Kafka client.
	BootstrapServers []string `yaml:"bootstrap_servers"`
	// SecurityProtocol is "plaintext" or "ssl".
	SecurityProtocol string `yaml:"security_protocol"`
	// ConsumerGroupID identifies this pipeline in broker logs and metrics.
	ConsumerGroupID string `yaml:"consumer_group_id"`
	// Topics maps logical stream names (documents, features, events) to
	// physical topic names.
	Topics map[string]string `yaml:"topics"`
	// Partitions maps each logical stream to the partitions this instance
	// consumes. Assignment is static; running two instances over the same
	// partition is an operator error.
	Partitions map[string][]int32 `yaml:"partitions"`
	// StartPolicy selects where to begin on partitions with no checkpoint:
	// "earliest" or "latest".
	StartPolicy string `yaml:"start_policy"`

	// MaxInFlight bounds in-flight plus retry-scheduled items per
	// partition worker.
	MaxInFlight int `yaml:"max_in_flight"`
	// MaxAttempts caps delivery attempts before dead-lettering.
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelay seeds the exponential backoff between delivery attempts.
	BaseDelay time.Duration `yaml:"base_delay"`
	// MaxDelay clamps the backoff.
	MaxDelay time.Duration `yaml:"max_delay"`

	// DedupWindow is the retention of the recently-seen key set.
	DedupWindow time.Duration `yaml:"dedup_window"`
	// DedupMaxKeys bounds the in-memory key set per partition.
	DedupMaxKeys int `yaml:"dedup_max_keys"`

	// StrictOrder allows only one delivery in flight per partition, trading
	// throughput for a per-partition ordering guarantee.
	StrictOrder bool `yaml:"strict_order"`

	// PollTimeout bounds each poll of the topic source.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// PollBatchSize is the maximum records fetched per poll.
	PollBatchSize int `yaml:"poll_batch_size"`
	// MaxSourceFailures is the number of consecutive source failures after
	// which the pipeline gives up and surfaces the error to the operator.
	MaxSourceFailures int `yaml:"max_source_failures"`
	// MetricsInterval is how often aggregate metrics are logged.
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	// CommitRetryDelay spaces retries of failed offset commits.
	CommitRetryDelay time.Duration `yaml:"commit_retry_delay"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = "plaintext"
	}
	if c.StartPolicy == "" {
		c.StartPolicy = string(source.StartEarliest)
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 32
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 15 * time.Minute
	}
	if c.DedupMaxKeys <= 0 {
		c.DedupMaxKeys = 100_000
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Second
	}
	if c.PollBatchSize <= 0 {
		c.PollBatchSize = 256
	}
	if c.MaxSourceFailures <= 0 {
		c.MaxSourceFailures = 10
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 30 * time.Second
	}
	if c.CommitRetryDelay <= 0 {
		c.CommitRetryDelay = time.Second
	}
}

// Validate ensures the configuration is coherent, otherwise returns an error.
func (c *Config) Validate() error {
	var errs []error
	if c.SecurityProtocol != "plaintext" && c.SecurityProtocol != "ssl" {
		errs = append(errs, fmt.Errorf("unrecognized security protocol %q", c.SecurityProtocol))
	}
	if !source.StartPolicy(c.StartPolicy).Valid() {
		errs = append(errs, fmt.Errorf("unrecognized start policy %q", c.StartPolicy))
	}
	if c.MaxDelay < c.BaseDelay {
		errs = append(errs, errors.New("max_delay must be at least base_delay"))
	}
	for logical, physical := range c.Topics {
		if physical == "" {
			errs = append(errs, fmt.Errorf("topic mapping for %q has an empty physical name", logical))
		}
	}
	for logical := range c.Partitions {
		if _, ok := c.Topics[logical]; !ok {
			errs = append(errs, fmt.Errorf("partition assignment for unknown stream %q", logical))
		}
	}
	return errors.Join(errs...)
}

// PhysicalTopics returns the physical topic names from the logical mapping.
func (c *Config) PhysicalTopics() []string {
	out := make([]string, 0, len(c.Topics))
	for _, physical := range c.Topics {
		out = append(out, physical)
	}
	return out
}

// PhysicalPartitions returns the partition assignment keyed by physical topic
// name, as the topic source consumes it.
func (c *Config) PhysicalPartitions() map[string][]int32 {
	out := make(map[string][]int32, len(c.Partitions))
	for logical, parts := range c.Partitions {
		physical, ok := c.Topics[logical]
		if !ok {
			continue
		}
		out[physical] = append(out[physical], parts...)
	}
	return out
}
