package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on minimal images

	"github.com/kelseyhightower/envconfig"

	"github.com/italolelis/dgi_archiver/internal/portal"
)

const (
	DestinationGDrive = "gdrive"
	DestinationS3     = "s3"
)

// Config struct for environment variables.
type Config struct {
	Destination string `envconfig:"DESTINATION" default:"gdrive"`

	DriveFolderID      string `envconfig:"DRIVE_FOLDER_ID"`
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleRefreshToken string `envconfig:"GOOGLE_REFRESH_TOKEN"`
	GoogleCredentials  string `envconfig:"GOOGLE_DRIVE_CREDENTIALS"`

	S3 struct {
		Endpoint  string `split_words:"true"`
		AccessKey string `split_words:"true"`
		SecretKey string `split_words:"true"`
		Bucket    string `split_words:"true"`
		Prefix    string `split_words:"true"`
		Region    string `split_words:"true" default:"us-east-1"`
		UseSSL    bool   `split_words:"true" default:"true"`
	}

	PortalURLTemplate string `envconfig:"PORTAL_URL_TEMPLATE" default:"https://teledeclaration-dgi.cm/UploadedFiles/AttachedFiles/ArchiveListecontribuable/FICHIER%20{month}%20{year}.xlsx"`
	UserAgent         string `envconfig:"USER_AGENT"`

	RetentionYears  int           `envconfig:"RETENTION_YEARS" default:"5"`
	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"5s"`
	RetryMaxDelay   time.Duration `envconfig:"RETRY_MAX_DELAY" default:"1m"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"60s"`
	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"2m"`
	BatchSize       int           `envconfig:"BATCH_SIZE" default:"10"`
	BatchPause      time.Duration `envconfig:"BATCH_PAUSE" default:"1s"`
	StagingDir      string        `envconfig:"STAGING_DIR" default:"/tmp/dgi_downloads"`
	Timezone        string        `envconfig:"TIMEZONE" default:"Africa/Douala"`
	Schedule        string        `envconfig:"SCHEDULE" default:"0 6 2 * *"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	// Web serves /metrics and /healthz in schedule mode.
	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"false"`
	OTLPEndpoint     string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure     bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
	PushgatewayURL   string `envconfig:"PUSHGATEWAY_URL"`
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// Validate checks the values that cannot be expressed as struct tags.
func (c *Config) Validate() error {
	var errs []error

	switch c.Destination {
	case DestinationGDrive:
		if c.DriveFolderID == "" {
			errs = append(errs, errors.New("DRIVE_FOLDER_ID is required for the gdrive destination"))
		}

		hasOAuth := c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRefreshToken != ""
		if !hasOAuth && c.GoogleCredentials == "" {
			errs = append(errs, errors.New("either GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REFRESH_TOKEN or GOOGLE_DRIVE_CREDENTIALS are required for the gdrive destination"))
		}
	case DestinationS3:
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT and S3_BUCKET are required for the s3 destination"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DESTINATION %q, expected %s or %s", c.Destination, DestinationGDrive, DestinationS3))
	}

	if _, err := portal.NewLocator(c.PortalURLTemplate); err != nil {
		errs = append(errs, err)
	}

	if err := ValidateRetentionYears(c.RetentionYears); err != nil {
		errs = append(errs, err)
	}

	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts))
	}

	if c.RetryBaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_BASE_DELAY must be positive, got %s", c.RetryBaseDelay))
	}

	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("RETRY_MAX_DELAY must be at least RETRY_BASE_DELAY, got %s", c.RetryMaxDelay))
	}

	if c.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must not be negative, got %d", c.BatchSize))
	}

	if c.StagingDir == "" {
		errs = append(errs, errors.New("STAGING_DIR is required"))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateRetentionYears rejects windows shorter than one year.
func ValidateRetentionYears(years int) error {
	if years < 1 {
		return fmt.Errorf("RETENTION_YEARS must be at least 1, got %d", years)
	}

	return nil
}

// Location returns the time zone months are computed in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}

	return loc, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
