// Package config handles loading and parsing of BleepStore configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the replication task engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Replication   ReplicationConfig   `yaml:"replication"`
}

// ReplicationConfig holds settings for the replication task engine: the
// log bus it consumes from, the destination sites it replicates to, and
// the metadata mirror collaborator.
type ReplicationConfig struct {
	Source SourceConfig `yaml:"source"`
	Bus    BusConfig    `yaml:"bus"`
	Sites  []SiteConfig `yaml:"sites"`
	Worker WorkerConfig `yaml:"worker"`
	Task   TaskConfig   `yaml:"task"`
	Mirror MirrorConfig `yaml:"mirror"`
}

// SourceConfig points the Source Gateway at the origin S3-compatible
// endpoint replication reads from.
type SourceConfig struct {
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
	UsePathStyle bool  `yaml:"use_path_style"`
}

// BusConfig holds NATS JetStream connection and stream settings for the
// log bus.
type BusConfig struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string `yaml:"url"`
	// StreamName is the JetStream stream holding log entries.
	StreamName string `yaml:"stream_name"`
	// Subjects lists the subjects the stream captures.
	Subjects []string `yaml:"subjects"`
	// WorkerConsumerName is the durable consumer name the worker harness
	// uses; MirrorConsumerName is the mirror processor's, kept distinct so
	// each gets its own redelivery cursor over the same stream.
	WorkerConsumerName string `yaml:"worker_consumer_name"`
	MirrorConsumerName string `yaml:"mirror_consumer_name"`
	// AckWaitSeconds and MaxDeliver bound in-flight redelivery.
	AckWaitSeconds int `yaml:"ack_wait_seconds"`
	MaxDeliver     int `yaml:"max_deliver"`
	// StatusTopic and MetricsTopic are the Status Publisher's output
	// subjects.
	StatusTopic  string `yaml:"status_topic"`
	MetricsTopic string `yaml:"metrics_topic"`
}

// SiteConfig names one destination replication site and the backend
// family/gateway settings used to reach it.
type SiteConfig struct {
	// Name is the site identifier carried in ObjectEntry.ReplicationInfo.Sites.
	Name string `yaml:"name"`
	// StorageType selects the DestinationGateway family: "generic" (native
	// S3 MPU), "gcp" (GCS Compose-based assembly), "azure" (Block Blob
	// staging).
	StorageType string `yaml:"storage_type"`
	// Hosts lists candidate endpoint hosts for the Retry Runner's
	// HostPicker to rotate across on target-origin failures.
	Hosts []string `yaml:"hosts"`
	AWS   AWSConfig `yaml:"aws"`
	GCP   GCPConfig `yaml:"gcp"`
	Azure AzureConfig `yaml:"azure"`
}

// WorkerConfig bounds the Worker Harness's fan-out concurrency.
type WorkerConfig struct {
	// Concurrency is the max number of in-flight entries the harness
	// processes at once (default 10), distinct from Task.Concurrency's
	// per-task part-level parallelism.
	Concurrency int `yaml:"concurrency"`
}

// TaskConfig bounds a single Replication Task's part-level concurrency and
// retry behavior.
type TaskConfig struct {
	// Concurrency is the max number of parts transferred in parallel
	// within one task (default 10, spec ceiling).
	Concurrency int `yaml:"concurrency"`
	// MaxRetries, MinBackoffMs, MaxBackoffMs, BackoffFactor parameterize
	// the Retry Runner's exponential backoff curve.
	MaxRetries    int     `yaml:"max_retries"`
	MinBackoffMs  int     `yaml:"min_backoff_ms"`
	MaxBackoffMs  int     `yaml:"max_backoff_ms"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// MirrorConfig parameterizes the Metadata Mirror Processor.
type MirrorConfig struct {
	// Enabled toggles whether the mirror collaborator runs alongside the
	// worker harness.
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"` // "dynamodb" or "firestore"
	DataStoreName      string   `yaml:"data_store_name"`
	DataStoreType      string   `yaml:"data_store_type"`
	HandleBucketEvents bool     `yaml:"handle_bucket_events"`
	DynamoDB           DynamoDBConfig  `yaml:"dynamodb"`
	Firestore          FirestoreConfig `yaml:"firestore"`
}

// ObservabilityConfig holds settings for metrics and health check endpoints.
type ObservabilityConfig struct {
	// Metrics enables the /metrics Prometheus endpoint.
	Metrics bool `yaml:"metrics"`
	// HealthCheck is loaded from the config file, but cmd/replicator serves
	// no health or readiness endpoint; only /metrics is exposed.
	HealthCheck bool `yaml:"health_check"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is the log output format: "text" or "json".
	Format string `yaml:"format"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Region          string `yaml:"region"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // Graceful shutdown timeout in seconds (default: 30).
	MaxObjectSize   int64  `yaml:"max_object_size"`  // Maximum object size in bytes (default: 5 GiB).
}

// DynamoDBConfig holds DynamoDB-specific metadata store settings.
type DynamoDBConfig struct {
	// Table is the DynamoDB table name.
	Table string `yaml:"table"`
	// Region is the AWS region.
	Region string `yaml:"region"`
	// EndpointURL is a custom DynamoDB endpoint (for local testing).
	EndpointURL string `yaml:"endpoint_url"`
}

// FirestoreConfig holds Firestore-specific metadata store settings.
type FirestoreConfig struct {
	// ProjectID is the GCP project ID.
	ProjectID string `yaml:"project_id"`
	// Collection is the Firestore collection prefix.
	Collection string `yaml:"collection"`
	// CredentialsFile is the path to a service account JSON file.
	CredentialsFile string `yaml:"credentials_file"`
}

// AWSConfig holds AWS S3 gateway backend settings.
type AWSConfig struct {
	// Bucket is the S3 bucket name.
	Bucket string `yaml:"bucket"`
	// Region is the AWS region.
	Region string `yaml:"region"`
	// Prefix is the optional key prefix for all objects.
	Prefix string `yaml:"prefix"`
	// EndpointURL is a custom S3-compatible endpoint (e.g. MinIO, LocalStack).
	EndpointURL string `yaml:"endpoint_url"`
	// UsePathStyle forces path-style URL addressing.
	UsePathStyle bool `yaml:"use_path_style"`
	// AccessKeyID is an explicit AWS access key (falls back to env/credential chain).
	AccessKeyID string `yaml:"access_key_id"`
	// SecretAccessKey is an explicit AWS secret key (falls back to env/credential chain).
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GCPConfig holds GCP Cloud Storage gateway backend settings.
type GCPConfig struct {
	// Bucket is the GCS bucket name.
	Bucket string `yaml:"bucket"`
	// Project is the GCP project ID.
	Project string `yaml:"project"`
	// Prefix is the optional key prefix for all objects.
	Prefix string `yaml:"prefix"`
	// CredentialsFile is the path to a service account JSON file.
	CredentialsFile string `yaml:"credentials_file"`
}

// AzureConfig holds Azure Blob Storage gateway backend settings.
type AzureConfig struct {
	// Container is the Azure container name.
	Container string `yaml:"container"`
	// Account is the Azure storage account name.
	Account string `yaml:"account"`
	// AccountURL is the full Azure storage account URL.
	AccountURL string `yaml:"account_url"`
	// Prefix is the optional key prefix for all objects.
	Prefix string `yaml:"prefix"`
	// ConnectionString is an alternative to account-based auth.
	ConnectionString string `yaml:"connection_string"`
	// UseManagedIdentity enables Azure managed identity auth.
	UseManagedIdentity bool `yaml:"use_managed_identity"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to bleepstore.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Try fallback paths
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "bleepstore.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "bleepstore.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9000,
			Region:          "us-east-1",
			ShutdownTimeout: 30,
			MaxObjectSize:   5368709120, // 5 GiB
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
		Replication: ReplicationConfig{
			Bus: BusConfig{
				URL:                "nats://localhost:4222",
				StreamName:         "replication-log",
				Subjects:           []string{"replication.log.>"},
				WorkerConsumerName: "replication-worker",
				MirrorConsumerName: "replication-mirror",
				AckWaitSeconds:     30,
				MaxDeliver:         5,
				StatusTopic:        "replication.status",
				MetricsTopic:       "replication.metrics",
			},
			Worker: WorkerConfig{Concurrency: 10},
			Task: TaskConfig{
				Concurrency:   10,
				MaxRetries:    5,
				MinBackoffMs:  100,
				MaxBackoffMs:  30000,
				BackoffFactor: 2,
			},
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.Region == "" {
		cfg.Server.Region = "us-east-1"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.MaxObjectSize == 0 {
		cfg.Server.MaxObjectSize = 5368709120 // 5 GiB
	}
	if cfg.Replication.Bus.URL == "" {
		cfg.Replication.Bus.URL = "nats://localhost:4222"
	}
	if cfg.Replication.Bus.StreamName == "" {
		cfg.Replication.Bus.StreamName = "replication-log"
	}
	if len(cfg.Replication.Bus.Subjects) == 0 {
		cfg.Replication.Bus.Subjects = []string{"replication.log.>"}
	}
	if cfg.Replication.Bus.WorkerConsumerName == "" {
		cfg.Replication.Bus.WorkerConsumerName = "replication-worker"
	}
	if cfg.Replication.Bus.MirrorConsumerName == "" {
		cfg.Replication.Bus.MirrorConsumerName = "replication-mirror"
	}
	if cfg.Replication.Bus.AckWaitSeconds == 0 {
		cfg.Replication.Bus.AckWaitSeconds = 30
	}
	if cfg.Replication.Bus.MaxDeliver == 0 {
		cfg.Replication.Bus.MaxDeliver = 5
	}
	if cfg.Replication.Bus.StatusTopic == "" {
		cfg.Replication.Bus.StatusTopic = "replication.status"
	}
	if cfg.Replication.Bus.MetricsTopic == "" {
		cfg.Replication.Bus.MetricsTopic = "replication.metrics"
	}
	if cfg.Replication.Worker.Concurrency == 0 {
		cfg.Replication.Worker.Concurrency = 10
	}
	if cfg.Replication.Task.Concurrency == 0 {
		cfg.Replication.Task.Concurrency = 10
	}
	if cfg.Replication.Task.MaxRetries == 0 {
		cfg.Replication.Task.MaxRetries = 5
	}
	if cfg.Replication.Task.MinBackoffMs == 0 {
		cfg.Replication.Task.MinBackoffMs = 100
	}
	if cfg.Replication.Task.MaxBackoffMs == 0 {
		cfg.Replication.Task.MaxBackoffMs = 30000
	}
	if cfg.Replication.Task.BackoffFactor == 0 {
		cfg.Replication.Task.BackoffFactor = 2
	}
}
