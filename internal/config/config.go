package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the artifactflow server.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Storage      StorageConfig
	Engine       EngineConfig
	Orchestrator OrchestratorConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
	CORSAllowedOrigins []string
}

type DatabaseConfig struct {
	Backend         string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Provider     string
	InputBucket  string
	OutputBucket string
	UploadTTL    time.Duration
	DownloadTTL  time.Duration
	VerifyInput  bool
	S3           S3Config
	MinIO        MinIOConfig
	GCS          GCSConfig
}

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

type GCSConfig struct {
	ServiceAccount string
	PrivateKeyFile string
}

type EngineConfig struct {
	Provider     string
	QueryTimeout time.Duration
	StartTimeout time.Duration
	Glue         GlueConfig
	Workflows    WorkflowsConfig
}

type GlueConfig struct {
	Region  string
	JobName string
}

type WorkflowsConfig struct {
	ProjectID  string
	Location   string
	WorkflowID string
}

type OrchestratorConfig struct {
	AcceptedExtension    string
	OutputExtension      string
	TriggerLease         time.Duration
	StateWriteRetries    int
	ReconcileInterval    time.Duration
	ReconcileConcurrency int
	TerminalCacheTTL     time.Duration
}

// StateWriteMaxInterval caps the backoff between retries of the RUNNING write.
const StateWriteMaxInterval = 2 * time.Second

// StateWriteBudget is the longest a trigger may spend retrying its RUNNING write.
func (o OrchestratorConfig) StateWriteBudget() time.Duration {
	return time.Duration(o.StateWriteRetries) * StateWriteMaxInterval
}

var validStoreBackends = map[string]bool{
	"postgres": true,
	"memory":   true,
}

var validStorageProviders = map[string]bool{
	"s3":    true,
	"minio": true,
	"gcs":   true,
}

var validEngineProviders = map[string]bool{
	"glue":      true,
	"workflows": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	region := envString("AWS_REGION", "us-east-1")
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("ETL_PORT", 8080),
			Env:                envString("ETL_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Backend:         envString("STORE_BACKEND", "postgres"),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Provider:     envString("STORAGE_PROVIDER", "s3"),
			InputBucket:  os.Getenv("INPUT_BUCKET"),
			OutputBucket: os.Getenv("OUTPUT_BUCKET"),
			UploadTTL:    envDurationSecs("UPLOAD_URL_TTL_SECS", time.Hour),
			DownloadTTL:  envDurationSecs("DOWNLOAD_URL_TTL_SECS", time.Hour),
			VerifyInput:  envBool("VERIFY_INPUT_UPLOADED", false),
			S3: S3Config{
				Region:    region,
				Endpoint:  os.Getenv("S3_ENDPOINT"),
				AccessKey: os.Getenv("S3_ACCESS_KEY"),
				SecretKey: os.Getenv("S3_SECRET_KEY"),
			},
			MinIO: MinIOConfig{
				Endpoint:  envString("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				UseSSL:    envBool("MINIO_USE_SSL", false),
				Region:    envString("MINIO_REGION", "us-east-1"),
			},
			GCS: GCSConfig{
				ServiceAccount: os.Getenv("GCS_SERVICE_ACCOUNT"),
				PrivateKeyFile: os.Getenv("GCS_PRIVATE_KEY_FILE"),
			},
		},
		Engine: EngineConfig{
			Provider:     envString("ENGINE_PROVIDER", "glue"),
			QueryTimeout: envDuration("ENGINE_QUERY_TIMEOUT", 5*time.Second),
			StartTimeout: envDuration("ENGINE_START_TIMEOUT", 30*time.Second),
			Glue: GlueConfig{
				Region:  region,
				JobName: os.Getenv("GLUE_JOB_NAME"),
			},
			Workflows: WorkflowsConfig{
				ProjectID:  os.Getenv("WORKFLOWS_PROJECT_ID"),
				Location:   envString("WORKFLOWS_LOCATION", "us-central1"),
				WorkflowID: os.Getenv("WORKFLOWS_WORKFLOW_ID"),
			},
		},
		Orchestrator: OrchestratorConfig{
			AcceptedExtension:    envString("ACCEPTED_EXTENSION", ".parquet"),
			OutputExtension:      envString("OUTPUT_EXTENSION", ".json"),
			TriggerLease:         envDuration("TRIGGER_LEASE", 2*time.Minute),
			StateWriteRetries:    envInt("STATE_WRITE_RETRIES", 5),
			ReconcileInterval:    envDuration("RECONCILE_INTERVAL", 0),
			ReconcileConcurrency: envInt("RECONCILE_CONCURRENCY", 4),
			TerminalCacheTTL:     envDuration("TERMINAL_CACHE_TTL", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validStoreBackends[c.Database.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of postgres, memory; got %q", c.Database.Backend)
	}
	if c.Database.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validStorageProviders[c.Storage.Provider] {
		return fmt.Errorf("STORAGE_PROVIDER must be one of s3, minio, gcs; got %q", c.Storage.Provider)
	}
	if c.Storage.InputBucket == "" {
		return fmt.Errorf("INPUT_BUCKET is required")
	}
	if c.Storage.OutputBucket == "" {
		return fmt.Errorf("OUTPUT_BUCKET is required")
	}
	if c.Storage.UploadTTL <= 0 || c.Storage.DownloadTTL <= 0 {
		return fmt.Errorf("UPLOAD_URL_TTL_SECS and DOWNLOAD_URL_TTL_SECS must be positive")
	}
	if c.Storage.Provider == "minio" && (c.Storage.MinIO.AccessKey == "" || c.Storage.MinIO.SecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when STORAGE_PROVIDER is minio")
	}
	if c.Storage.Provider == "gcs" && (c.Storage.GCS.ServiceAccount == "" || c.Storage.GCS.PrivateKeyFile == "") {
		return fmt.Errorf("GCS_SERVICE_ACCOUNT and GCS_PRIVATE_KEY_FILE are required when STORAGE_PROVIDER is gcs")
	}

	if !validEngineProviders[c.Engine.Provider] {
		return fmt.Errorf("ENGINE_PROVIDER must be one of glue, workflows; got %q", c.Engine.Provider)
	}
	if c.Engine.Provider == "glue" && c.Engine.Glue.JobName == "" {
		return fmt.Errorf("GLUE_JOB_NAME is required when ENGINE_PROVIDER is glue")
	}
	if c.Engine.Provider == "workflows" && (c.Engine.Workflows.ProjectID == "" || c.Engine.Workflows.WorkflowID == "") {
		return fmt.Errorf("WORKFLOWS_PROJECT_ID and WORKFLOWS_WORKFLOW_ID are required when ENGINE_PROVIDER is workflows")
	}

	if !strings.HasPrefix(c.Orchestrator.AcceptedExtension, ".") {
		return fmt.Errorf("ACCEPTED_EXTENSION must start with a dot, got %q", c.Orchestrator.AcceptedExtension)
	}
	if !strings.HasPrefix(c.Orchestrator.OutputExtension, ".") {
		return fmt.Errorf("OUTPUT_EXTENSION must start with a dot, got %q", c.Orchestrator.OutputExtension)
	}
	if c.Engine.StartTimeout <= 0 {
		return fmt.Errorf("ENGINE_START_TIMEOUT must be positive")
	}
	if c.Orchestrator.StateWriteRetries < 1 {
		return fmt.Errorf("STATE_WRITE_RETRIES must be at least 1")
	}
	// A claim must outlive the start call plus the RUNNING write, otherwise a
	// second trigger can reclaim the job while the first run is still starting.
	if minLease := c.Engine.StartTimeout + c.Orchestrator.StateWriteBudget(); c.Orchestrator.TriggerLease <= minLease {
		return fmt.Errorf("TRIGGER_LEASE must exceed ENGINE_START_TIMEOUT plus the state write budget (%s), got %s",
			minLease, c.Orchestrator.TriggerLease)
	}
	if c.Orchestrator.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
