// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const envPrefix = "UPLOAD_EXPORT_"

// Config holds all configuration for uploadctl.
type Config struct {
	// Database
	DBDriver   string // mysql, postgres or sqlite
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBDatabase string // database name, or file path for sqlite
	DBSSLMode  string // postgres only
	DBTable    string
	DBTimeout  int // seconds

	// Optional: resolve DBPassword from AWS Secrets Manager
	DBSecretsManagerSecret string
	DBSecretRegion         string

	// Export
	BatchSize     int           // Default: 1000
	ExportTimeout time.Duration // Default: 30m

	// CSV Options
	CSVDelimiter string // Default: ","
	CSVUseCRLF   bool

	// Object storage
	StorageBackend     string // s3 or minio
	S3Bucket           string
	AWSRegion          string
	S3Endpoint         string // custom endpoint (R2, LocalStack, MinIO host)
	S3ForcePathStyle   bool
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	MinioUseSSL        bool
	PublicURL          string // base URL objects are served from
	PartSizeMB         int    // Default: 5
	UploadConcurrency  int    // Default: 3

	// Logging & metrics
	LogDir      string
	LogName     string
	LogStdout   bool
	Debug       bool
	MetricsFile string

	// Output Control
	Quiet bool
}

// Default values.
const (
	DefaultDriver            = "mysql"
	DefaultTable             = "uploads"
	DefaultBatchSize         = 1000
	DefaultExportTimeout     = 30 * time.Minute
	DefaultStorageBackend    = "s3"
	DefaultPartSizeMB        = 5
	DefaultUploadConcurrency = 3
	DefaultConfigFile        = "upload-export.yaml"
)

// LoadConfig loads configuration from CLI flags, environment variables, and YAML file.
// Priority: CLI flags > environment variables > YAML file > defaults.
// It returns the arguments left after the global flags (the command and its flags).
func LoadConfig(args []string) (*Config, []string, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("uploadctl", flag.ContinueOnError)

	dbDriver := fs.String("db-driver", "", "Database driver: mysql, postgres or sqlite (default: mysql)")
	dbHost := fs.String("db-host", "", "Database host[:port]")
	dbPort := fs.Int("db-port", 0, "Database port (default: 3306 for mysql, 5432 for postgres)")
	dbUser := fs.String("db-user", "", "Database username")
	dbPassword := fs.String("db-password", "", "Database password")
	dbAuth := fs.String("db-auth", "", "Database auth file path (JSON with user and password)")
	dbDatabase := fs.String("db-database", "", "Database name, or file path for sqlite")
	dbSSLMode := fs.String("db-sslmode", "", "Postgres sslmode (default: disable)")
	dbTable := fs.String("db-table", "", "Uploads table name (default: uploads)")
	dbTimeout := fs.Int("db-timeout", 0, "Database statement timeout in seconds (default: 5)")
	dbSecret := fs.String("db-secret", "", "AWS Secrets Manager secret holding the database password")
	dbSecretRegion := fs.String("db-secret-region", "", "AWS region for Secrets Manager")

	batchSize := fs.Int("batch-size", 0, "Rows fetched per cursor round-trip (default: 1000)")
	exportTimeout := fs.Duration("export-timeout", 0, "Upper bound for a whole export (default: 30m)")
	csvDelimiter := fs.String("csv-delimiter", "", "CSV field delimiter (default: ,)")
	csvCRLF := fs.Bool("csv-crlf", false, "Terminate CSV lines with CRLF")

	storageBackend := fs.String("storage", "", "Object storage backend: s3 or minio (default: s3)")
	s3Bucket := fs.String("s3-bucket", "", "Bucket name")
	awsRegion := fs.String("aws-region", "", "AWS region")
	s3Endpoint := fs.String("s3-endpoint", "", "Custom S3 endpoint (R2, LocalStack, MinIO)")
	s3PathStyle := fs.Bool("s3-path-style", false, "Use path-style bucket addressing")
	awsAccessKey := fs.String("aws-access-key-id", "", "AWS access key ID")
	awsSecretKey := fs.String("aws-secret-access-key", "", "AWS secret access key")
	awsSessionToken := fs.String("aws-session-token", "", "AWS session token")
	minioSSL := fs.Bool("minio-ssl", false, "Use TLS for the MinIO endpoint")
	publicURL := fs.String("public-url", "", "Public base URL objects are served from")
	partSize := fs.Int("part-size-mb", 0, "Multipart part size in MiB (default: 5)")
	uploadConcurrency := fs.Int("upload-concurrency", 0, "Concurrent part uploads (default: 3)")

	logDir := fs.String("log-dir", "", "Log directory (default: /tmp)")
	logName := fs.String("log-name", "", "Log file name without extension (default: uploadctl)")
	logStdout := fs.Bool("log-stdout", false, "Log to stdout instead of a file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	quiet := fs.Bool("quiet", false, "Only print the result")
	configFile := fs.String("config-file", DefaultConfigFile, "Config file path (default: "+DefaultConfigFile+")")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	// Load from YAML file if it exists
	if *configFile != "" {
		if err := loadFromYAML(cfg, *configFile); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, nil, err
	}

	// Override with CLI flags (highest priority)
	setString(&cfg.DBDriver, *dbDriver)
	setString(&cfg.DBHost, *dbHost)
	setInt(&cfg.DBPort, *dbPort)
	setString(&cfg.DBUser, *dbUser)
	setString(&cfg.DBPassword, *dbPassword)
	if *dbAuth != "" {
		if err := cfg.ReadDBAuth(*dbAuth); err != nil {
			return nil, nil, fmt.Errorf("failed to read database auth file: %w", err)
		}
	}
	setString(&cfg.DBDatabase, *dbDatabase)
	setString(&cfg.DBSSLMode, *dbSSLMode)
	setString(&cfg.DBTable, *dbTable)
	setInt(&cfg.DBTimeout, *dbTimeout)
	setString(&cfg.DBSecretsManagerSecret, *dbSecret)
	setString(&cfg.DBSecretRegion, *dbSecretRegion)
	setInt(&cfg.BatchSize, *batchSize)
	if *exportTimeout > 0 {
		cfg.ExportTimeout = *exportTimeout
	}
	setString(&cfg.CSVDelimiter, *csvDelimiter)
	if *csvCRLF {
		cfg.CSVUseCRLF = true
	}
	setString(&cfg.StorageBackend, *storageBackend)
	setString(&cfg.S3Bucket, *s3Bucket)
	setString(&cfg.AWSRegion, *awsRegion)
	setString(&cfg.S3Endpoint, *s3Endpoint)
	if *s3PathStyle {
		cfg.S3ForcePathStyle = true
	}
	setString(&cfg.AWSAccessKeyID, *awsAccessKey)
	setString(&cfg.AWSSecretAccessKey, *awsSecretKey)
	setString(&cfg.AWSSessionToken, *awsSessionToken)
	if *minioSSL {
		cfg.MinioUseSSL = true
	}
	setString(&cfg.PublicURL, *publicURL)
	setInt(&cfg.PartSizeMB, *partSize)
	setInt(&cfg.UploadConcurrency, *uploadConcurrency)
	setString(&cfg.LogDir, *logDir)
	setString(&cfg.LogName, *logName)
	if *logStdout {
		cfg.LogStdout = true
	}
	if *debug {
		cfg.Debug = true
	}
	setString(&cfg.MetricsFile, *metricsFile)
	if *quiet {
		cfg.Quiet = true
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, fs.Args(), nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.DBDriver == "" {
		c.DBDriver = DefaultDriver
	}
	if c.DBTable == "" {
		c.DBTable = DefaultTable
	}
	if c.DBPort == 0 {
		switch c.DBDriver {
		case "mysql":
			c.DBPort = 3306
		case "postgres":
			c.DBPort = 5432
		}
	}
	if c.DBDatabase == "" {
		switch c.DBDriver {
		case "sqlite":
			c.DBDatabase = "uploads.db"
		default:
			c.DBDatabase = "uploads"
		}
	}
	if c.DBTimeout == 0 {
		c.DBTimeout = 5
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ExportTimeout == 0 {
		c.ExportTimeout = DefaultExportTimeout
	}
	if c.CSVDelimiter == "" {
		c.CSVDelimiter = ","
	}
	if c.StorageBackend == "" {
		c.StorageBackend = DefaultStorageBackend
	}
	if c.PartSizeMB == 0 {
		c.PartSizeMB = DefaultPartSizeMB
	}
	if c.UploadConcurrency == 0 {
		c.UploadConcurrency = DefaultUploadConcurrency
	}
	if c.LogName == "" {
		c.LogName = "uploadctl"
	}
}

// Validate checks the database, export and logging settings.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "postgres":
		if c.DBHost == "" {
			return fmt.Errorf("db-host is required for %s", c.DBDriver)
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported db-driver %q (must be mysql, postgres or sqlite)", c.DBDriver)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be positive, got %d", c.BatchSize)
	}
	if c.ExportTimeout < 0 {
		return fmt.Errorf("export-timeout cannot be negative")
	}
	if utf8.RuneCountInString(c.CSVDelimiter) != 1 {
		return fmt.Errorf("csv-delimiter must be a single character, got %q", c.CSVDelimiter)
	}

	if c.DBSecretsManagerSecret != "" && c.DBSecretRegion == "" {
		return fmt.Errorf("db-secret-region is required when db-secret is set")
	}

	return nil
}

// ValidateStorage checks the object storage settings. Only commands that
// write objects need them.
func (c *Config) ValidateStorage() error {
	switch c.StorageBackend {
	case "s3":
		if c.AWSRegion == "" {
			return fmt.Errorf("aws-region is required")
		}
	case "minio":
		if c.S3Endpoint == "" {
			return fmt.Errorf("s3-endpoint is required for the minio backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q (must be s3 or minio)", c.StorageBackend)
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("s3-bucket is required")
	}
	if c.PublicURL == "" {
		return fmt.Errorf("public-url is required")
	}
	if u, err := url.Parse(c.PublicURL); err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("public-url must be an absolute URL, got %q", c.PublicURL)
	}
	if c.PartSizeMB < 5 {
		return fmt.Errorf("part-size-mb must be at least 5, got %d", c.PartSizeMB)
	}
	if c.UploadConcurrency < 1 {
		return fmt.Errorf("upload-concurrency must be positive, got %d", c.UploadConcurrency)
	}

	return nil
}

// Delimiter returns the CSV delimiter as a rune.
func (c *Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.CSVDelimiter)
	return r
}

// DBAddress returns host:port for network databases.
func (c *Config) DBAddress() string {
	if _, _, err := net.SplitHostPort(c.DBHost); err == nil || c.DBPort == 0 {
		return c.DBHost
	}
	return net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort))
}

// ReadDBAuth reads database credentials from an auth file (JSON format).
func (c *Config) ReadDBAuth(authFile string) error {
	if authFile == "" {
		return nil
	}

	data, err := os.ReadFile(authFile)
	if err != nil {
		return fmt.Errorf("failed to read auth file: %w", err)
	}

	var auth struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}

	if err := json.Unmarshal(data, &auth); err != nil {
		return fmt.Errorf("failed to parse auth file: %w", err)
	}

	c.DBUser = auth.User
	c.DBPassword = auth.Password
	return nil
}

// fileConfig mirrors Config in the YAML file.
type fileConfig struct {
	DB struct {
		Driver         string `yaml:"driver"`
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		User           string `yaml:"user"`
		Password       string `yaml:"password"`
		Database       string `yaml:"database"`
		SSLMode        string `yaml:"sslmode"`
		Table          string `yaml:"table"`
		Timeout        int    `yaml:"timeout"`
		SecretsManager string `yaml:"secret"`
		SecretRegion   string `yaml:"secret_region"`
	} `yaml:"db"`
	Export struct {
		BatchSize    int    `yaml:"batch_size"`
		Timeout      string `yaml:"timeout"`
		CSVDelimiter string `yaml:"csv_delimiter"`
		CSVUseCRLF   bool   `yaml:"csv_crlf"`
	} `yaml:"export"`
	Storage struct {
		Backend           string `yaml:"backend"`
		Bucket            string `yaml:"bucket"`
		Region            string `yaml:"region"`
		Endpoint          string `yaml:"endpoint"`
		ForcePathStyle    bool   `yaml:"force_path_style"`
		AccessKeyID       string `yaml:"access_key_id"`
		SecretAccessKey   string `yaml:"secret_access_key"`
		MinioUseSSL       bool   `yaml:"minio_ssl"`
		PublicURL         string `yaml:"public_url"`
		PartSizeMB        int    `yaml:"part_size_mb"`
		UploadConcurrency int    `yaml:"upload_concurrency"`
	} `yaml:"storage"`
	Log struct {
		Dir    string `yaml:"dir"`
		Name   string `yaml:"name"`
		Stdout bool   `yaml:"stdout"`
		Debug  bool   `yaml:"debug"`
	} `yaml:"log"`
	MetricsFile string `yaml:"metrics_file"`
}

// loadFromYAML loads configuration from a YAML file.
func loadFromYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	setString(&cfg.DBDriver, fc.DB.Driver)
	setString(&cfg.DBHost, fc.DB.Host)
	setInt(&cfg.DBPort, fc.DB.Port)
	setString(&cfg.DBUser, fc.DB.User)
	setString(&cfg.DBPassword, fc.DB.Password)
	setString(&cfg.DBDatabase, fc.DB.Database)
	setString(&cfg.DBSSLMode, fc.DB.SSLMode)
	setString(&cfg.DBTable, fc.DB.Table)
	setInt(&cfg.DBTimeout, fc.DB.Timeout)
	setString(&cfg.DBSecretsManagerSecret, fc.DB.SecretsManager)
	setString(&cfg.DBSecretRegion, fc.DB.SecretRegion)

	setInt(&cfg.BatchSize, fc.Export.BatchSize)
	if fc.Export.Timeout != "" {
		d, err := time.ParseDuration(fc.Export.Timeout)
		if err != nil {
			return fmt.Errorf("export.timeout: %w", err)
		}
		cfg.ExportTimeout = d
	}
	setString(&cfg.CSVDelimiter, fc.Export.CSVDelimiter)
	cfg.CSVUseCRLF = fc.Export.CSVUseCRLF

	setString(&cfg.StorageBackend, fc.Storage.Backend)
	setString(&cfg.S3Bucket, fc.Storage.Bucket)
	setString(&cfg.AWSRegion, fc.Storage.Region)
	setString(&cfg.S3Endpoint, fc.Storage.Endpoint)
	cfg.S3ForcePathStyle = fc.Storage.ForcePathStyle
	setString(&cfg.AWSAccessKeyID, fc.Storage.AccessKeyID)
	setString(&cfg.AWSSecretAccessKey, fc.Storage.SecretAccessKey)
	cfg.MinioUseSSL = fc.Storage.MinioUseSSL
	setString(&cfg.PublicURL, fc.Storage.PublicURL)
	setInt(&cfg.PartSizeMB, fc.Storage.PartSizeMB)
	setInt(&cfg.UploadConcurrency, fc.Storage.UploadConcurrency)

	setString(&cfg.LogDir, fc.Log.Dir)
	setString(&cfg.LogName, fc.Log.Name)
	cfg.LogStdout = fc.Log.Stdout
	cfg.Debug = fc.Log.Debug
	setString(&cfg.MetricsFile, fc.MetricsFile)

	return nil
}

// loadFromEnv loads configuration from UPLOAD_EXPORT_* environment variables.
func loadFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"DB_DRIVER":             &cfg.DBDriver,
		"DB_HOST":               &cfg.DBHost,
		"DB_USER":               &cfg.DBUser,
		"DB_PASSWORD":           &cfg.DBPassword,
		"DB_DATABASE":           &cfg.DBDatabase,
		"DB_SSLMODE":            &cfg.DBSSLMode,
		"DB_TABLE":              &cfg.DBTable,
		"DB_SECRET":             &cfg.DBSecretsManagerSecret,
		"DB_SECRET_REGION":      &cfg.DBSecretRegion,
		"CSV_DELIMITER":         &cfg.CSVDelimiter,
		"STORAGE":               &cfg.StorageBackend,
		"S3_BUCKET":             &cfg.S3Bucket,
		"AWS_REGION":            &cfg.AWSRegion,
		"S3_ENDPOINT":           &cfg.S3Endpoint,
		"AWS_ACCESS_KEY_ID":     &cfg.AWSAccessKeyID,
		"AWS_SECRET_ACCESS_KEY": &cfg.AWSSecretAccessKey,
		"AWS_SESSION_TOKEN":     &cfg.AWSSessionToken,
		"PUBLIC_URL":            &cfg.PublicURL,
		"LOG_DIR":               &cfg.LogDir,
		"METRICS_FILE":          &cfg.MetricsFile,
	}
	for key, dst := range strs {
		if val := os.Getenv(envPrefix + key); val != "" {
			*dst = val
		}
	}

	ints := map[string]*int{
		"DB_PORT":            &cfg.DBPort,
		"DB_TIMEOUT":         &cfg.DBTimeout,
		"BATCH_SIZE":         &cfg.BatchSize,
		"PART_SIZE_MB":       &cfg.PartSizeMB,
		"UPLOAD_CONCURRENCY": &cfg.UploadConcurrency,
	}
	for key, dst := range ints {
		if val := os.Getenv(envPrefix + key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"CSV_CRLF":      &cfg.CSVUseCRLF,
		"S3_PATH_STYLE": &cfg.S3ForcePathStyle,
		"MINIO_SSL":     &cfg.MinioUseSSL,
		"LOG_STDOUT":    &cfg.LogStdout,
		"DEBUG":         &cfg.Debug,
	}
	for key, dst := range bools {
		if val := os.Getenv(envPrefix + key); val != "" {
			*dst = val == "true" || val == "1"
		}
	}

	if val := os.Getenv(envPrefix + "EXPORT_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %sEXPORT_TIMEOUT: %w", envPrefix, err)
		}
		cfg.ExportTimeout = d
	}

	return nil
}

func setString(dst *string, val string) {
	if val = strings.TrimSpace(val); val != "" {
		*dst = val
	}
}

func setInt(dst *int, val int) {
	if val > 0 {
		*dst = val
	}
}
