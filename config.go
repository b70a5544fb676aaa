package filesync

import (
	"fmt"
	"strings"

	"github.com/gobeaver/beaver-kit/config"
	"github.com/sirupsen/logrus"
)

// Config holds engine tuning and backend credentials. It is loaded from the
// environment; with the default beaver-kit prefix the variables are named
// BEAVER_FILESYNC_*.
type Config struct {
	// External sort batch size: number of listing lines sorted in memory
	// before a chunk is spilled to disk.
	SortBatchSize int `env:"FILESYNC_SORT_BATCH_SIZE,default:32000"`

	// Worker count for the apply phase when parallel mode is requested
	ParallelWorkers int `env:"FILESYNC_PARALLEL_WORKERS,default:8"`

	// Directory for sorted listings and sort chunks (empty = OS temp dir)
	TempDir string `env:"FILESYNC_TEMP_DIR"`

	// Transfer retries for transient errors
	MaxRetries int `env:"FILESYNC_MAX_RETRIES,default:5"`

	LogLevel string `env:"FILESYNC_LOG_LEVEL,default:info"`

	// S3 driver configuration
	S3Region          string `env:"FILESYNC_S3_REGION,default:us-east-1"`
	S3Endpoint        string `env:"FILESYNC_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"FILESYNC_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"FILESYNC_S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle  bool   `env:"FILESYNC_S3_FORCE_PATH_STYLE,default:false"`

	// GCS driver configuration
	GCSCredentialsFile string `env:"FILESYNC_GCS_CREDENTIALS_FILE"` // Path to service account JSON
	GCSEndpoint        string `env:"FILESYNC_GCS_ENDPOINT"`

	// Azure Blob Storage driver configuration
	AzureAccountName string `env:"FILESYNC_AZURE_ACCOUNT_NAME"`
	AzureAccountKey  string `env:"FILESYNC_AZURE_ACCOUNT_KEY"`
	AzureEndpoint    string `env:"FILESYNC_AZURE_ENDPOINT"` // Optional custom endpoint

	// SFTP driver configuration
	SFTPPort       int    `env:"FILESYNC_SFTP_PORT,default:22"`
	SFTPUsername   string `env:"FILESYNC_SFTP_USERNAME"`
	SFTPPassword   string `env:"FILESYNC_SFTP_PASSWORD"`
	SFTPPrivateKey string `env:"FILESYNC_SFTP_PRIVATE_KEY"` // Path to private key file
}

// LoadConfig returns config loaded from environment
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadConfigWithPrefix loads config using a custom environment prefix
func LoadConfigWithPrefix(prefix string) (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: prefix}); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the tuning values.
func (c *Config) Validate() error {
	if c.SortBatchSize <= 0 {
		return fmt.Errorf("FILESYNC_SORT_BATCH_SIZE must be positive, got %d", c.SortBatchSize)
	}
	if c.ParallelWorkers <= 0 {
		return fmt.Errorf("FILESYNC_PARALLEL_WORKERS must be positive, got %d", c.ParallelWorkers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("FILESYNC_MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if _, err := logrus.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("FILESYNC_LOG_LEVEL: %w", err)
	}
	return nil
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
