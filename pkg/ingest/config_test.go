package ingest_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-ingest/pkg/ingest"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Parses a full config file", func(t *testing.T) {
		// Arrange
		path := writeConfigFile(t, `
bootstrap_servers: ["kafka-1:9092", "kafka-2:9092"]
security_protocol: ssl
consumer_group_id: knowledge-ingest
topics:
  documents: ingest.documents.v1
  features: ingest.features.v1
  events: ingest.events.v1
start_policy: latest
max_in_flight: 64
max_attempts: 7
base_delay: 250ms
max_delay: 1m
dedup_window: 30m
strict_order: true
`)

		// Act
		cfg, err := ingest.LoadConfig(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.BootstrapServers)
		assert.Equal(t, "ssl", cfg.SecurityProtocol)
		assert.Equal(t, "ingest.documents.v1", cfg.Topics["documents"])
		assert.Equal(t, "latest", cfg.StartPolicy)
		assert.Equal(t, 64, cfg.MaxInFlight)
		assert.Equal(t, 7, cfg.MaxAttempts)
		assert.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
		assert.Equal(t, time.Minute, cfg.MaxDelay)
		assert.Equal(t, 30*time.Minute, cfg.DedupWindow)
		assert.True(t, cfg.StrictOrder)
	})

	t.Run("Fills defaults for unset fields", func(t *testing.T) {
		// Arrange: minimal config.
		path := writeConfigFile(t, `
bootstrap_servers: ["localhost:9092"]
topics:
  documents: ingest.documents.v1
`)

		// Act
		cfg, err := ingest.LoadConfig(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "plaintext", cfg.SecurityProtocol)
		assert.Equal(t, "earliest", cfg.StartPolicy)
		assert.Equal(t, 32, cfg.MaxInFlight)
		assert.Equal(t, 5, cfg.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.BaseDelay)
		assert.Equal(t, 30*time.Second, cfg.MaxDelay)
		assert.Equal(t, 15*time.Minute, cfg.DedupWindow)
		assert.Equal(t, 100_000, cfg.DedupMaxKeys)
		assert.False(t, cfg.StrictOrder)
	})

	t.Run("Rejects an unreadable path", func(t *testing.T) {
		_, err := ingest.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("Rejects malformed YAML", func(t *testing.T) {
		path := writeConfigFile(t, "bootstrap_servers: [unclosed")
		_, err := ingest.LoadConfig(path)
		require.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	base := func() *ingest.Config {
		cfg := &ingest.Config{
			BootstrapServers: []string{"localhost:9092"},
			Topics:           map[string]string{"documents": "ingest.documents.v1"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	t.Run("Defaults validate cleanly", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("Unknown security protocol fails", func(t *testing.T) {
		cfg := base()
		cfg.SecurityProtocol = "sasl_scram"
		require.Error(t, cfg.Validate())
	})

	t.Run("Unknown start policy fails", func(t *testing.T) {
		cfg := base()
		cfg.StartPolicy = "yesterday"
		require.Error(t, cfg.Validate())
	})

	t.Run("Max delay below base delay fails", func(t *testing.T) {
		cfg := base()
		cfg.BaseDelay = time.Minute
		cfg.MaxDelay = time.Second
		require.Error(t, cfg.Validate())
	})

	t.Run("Partition assignment for an unknown stream fails", func(t *testing.T) {
		cfg := base()
		cfg.Partitions = map[string][]int32{"features": {0}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "features")
	})

	t.Run("Empty physical topic name fails", func(t *testing.T) {
		cfg := base()
		cfg.Topics["events"] = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "events")
	})

	t.Run("Collects every problem in one error", func(t *testing.T) {
		cfg := base()
		cfg.SecurityProtocol = "bad"
		cfg.StartPolicy = "bad"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "security protocol")
		assert.Contains(t, err.Error(), "start policy")
	})
}

func TestConfig_PhysicalTopics(t *testing.T) {
	cfg := &ingest.Config{Topics: map[string]string{
		"documents": "ingest.documents.v1",
		"events":    "ingest.events.v1",
	}}

	topics := cfg.PhysicalTopics()
	assert.ElementsMatch(t, []string{"ingest.documents.v1", "ingest.events.v1"}, topics)
}

func TestConfig_PhysicalPartitions(t *testing.T) {
	cfg := &ingest.Config{
		Topics: map[string]string{
			"documents": "ingest.documents.v1",
			"events":    "ingest.events.v1",
		},
		Partitions: map[string][]int32{
			"documents": {0, 1, 2},
			"events":    {0},
		},
	}

	assert.Equal(t, map[string][]int32{
		"ingest.documents.v1": {0, 1, 2},
		"ingest.events.v1":    {0},
	}, cfg.PhysicalPartitions())
}
