package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/mrisync/internal/sync/match"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/ghodss/yaml"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.yaml"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "MRISYNC_"
)

// Store backends
const (
	StoreDrive = "drive"
	StoreS3    = "s3"
)

// Fingerprint modes used in update mode
const (
	FingerprintSizeMTime = "size-mtime"
	FingerprintMD5       = "md5"
)

// Config holds application configuration. The file may be YAML or JSON;
// keys follow the json tags.
type Config struct {
	// Store selects the remote backend (drive, s3)
	Store string `json:"store"`

	// MRIPath is the local root of the tree to mirror
	MRIPath string `json:"mriPath,omitempty"`

	// FolderID is the destination folder id (Drive) or bucket[/prefix] (S3)
	FolderID string `json:"folderId,omitempty"`

	// JWTConfig is the path to the service account JSON key
	JWTConfig string `json:"jwtConfig,omitempty"`

	// Impersonate is an optional subject for domain-wide delegation
	Impersonate string `json:"impersonate,omitempty"`

	// DirPatterns holds one list of expressions per directory level
	DirPatterns [][]string `json:"dirPatterns,omitempty"`

	// SequencePatterns filter leaf files by identifying name
	SequencePatterns []string `json:"sequencePatterns,omitempty"`

	// FilePatterns pre-filter leaf files by raw file name
	FilePatterns []string `json:"filePatterns,omitempty"`

	// ExcludePatterns are glob patterns never synced (added to the defaults)
	ExcludePatterns []string `json:"excludePatterns,omitempty"`

	// UpdateFiles enables fingerprint comparison of existing remote files
	UpdateFiles bool `json:"updateFiles"`

	// Fingerprint is size-mtime or md5
	Fingerprint string `json:"fingerprint"`

	// DICOMSeries derives the identifying name from the DICOM SeriesDescription
	DICOMSeries bool `json:"dicomSeries"`

	// AllLevels plans files in every visited directory, not only the deepest level
	AllLevels bool `json:"allLevels"`

	// Concurrency bounds parallel uploads
	Concurrency int `json:"concurrency"`

	// WalkConcurrency bounds parallel subtree walks
	WalkConcurrency int `json:"walkConcurrency"`

	// MaxRetries is the maximum number of retries for API calls
	MaxRetries int `json:"maxRetries"`

	// RetryBaseDelay is the base delay for exponential backoff in milliseconds
	RetryBaseDelay int `json:"retryBaseDelay"`

	// RequestTimeout is the per-request timeout in seconds
	RequestTimeout int `json:"requestTimeout"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `json:"logLevel"`

	// ColorOutput enables color on terminals
	ColorOutput bool `json:"colorOutput"`

	// OutputFormat controls the run summary format (table, json)
	OutputFormat types.OutputFormat `json:"outputFormat"`

	AWS AWSConfig `json:"aws"`
}

// AWSConfig configures the S3 backend
type AWSConfig struct {
	Profile        string `json:"profile,omitempty"`
	Region         string `json:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	ForcePathStyle bool   `json:"forcePathStyle,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Store:           StoreDrive,
		Fingerprint:     FingerprintSizeMTime,
		Concurrency:     utils.DefaultConcurrency,
		WalkConcurrency: utils.DefaultWalkConcurrency,
		MaxRetries:      utils.DefaultMaxRetries,
		RetryBaseDelay:  utils.DefaultRetryDelayMs,
		RequestTimeout:  300, // 5 minutes, uploads of large series
		LogLevel:        "normal",
		ColorOutput:     true,
		OutputFormat:    types.OutputFormatTable,
	}
}

// UMMAPDefaults applies the patterns used for the UMMAP MRI archive:
// two levels of subject and series folders, GE raw file names and
// T1/T2 FLAIR sagittal series. Sequence patterns already set are kept.
func (c *Config) UMMAPDefaults() {
	level := []string{`^hlp17umm\d{5}_\d{5}$|^s\d{5}$`}
	c.DirPatterns = [][]string{level, level}
	c.FilePatterns = []string{`^i\d+\.MRDC\.\d+$`}
	c.DICOMSeries = true
	if len(c.SequencePatterns) == 0 {
		c.SequencePatterns = []string{`^t1sag.*$|^t2flairsag.*$`}
	}
}

// Load loads configuration with precedence: env vars > config file > defaults.
// CLI flags are applied by the caller on top of the result. An empty path
// means the default location, where a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile reads a YAML or JSON config file over the current values
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	strs := map[string]*string{
		"STORE":       &c.Store,
		"MRI_PATH":    &c.MRIPath,
		"FOLDER_ID":   &c.FolderID,
		"JWT_CONFIG":  &c.JWTConfig,
		"IMPERSONATE": &c.Impersonate,
		"FINGERPRINT": &c.Fingerprint,
		"LOG_LEVEL":   &c.LogLevel,
		"AWS_PROFILE": &c.AWS.Profile,
		"AWS_REGION":  &c.AWS.Region,
		"S3_ENDPOINT": &c.AWS.Endpoint,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CONCURRENCY":      &c.Concurrency,
		"WALK_CONCURRENCY": &c.WalkConcurrency,
		"MAX_RETRIES":      &c.MaxRetries,
		"RETRY_BASE_DELAY": &c.RetryBaseDelay,
		"REQUEST_TIMEOUT":  &c.RequestTimeout,
	}
	for key, dst := range ints {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %q is not an integer", EnvPrefix, key, v)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"UPDATE_FILES":        &c.UpdateFiles,
		"DICOM_SERIES":        &c.DICOMSeries,
		"ALL_LEVELS":          &c.AllLevels,
		"COLOR_OUTPUT":        &c.ColorOutput,
		"S3_FORCE_PATH_STYLE": &c.AWS.ForcePathStyle,
	}
	for key, dst := range bools {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = parseBool(v)
		}
	}

	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.OutputFormat = types.OutputFormat(v)
	}
	return nil
}

// Save writes the configuration as YAML to path
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if c.Store != StoreDrive && c.Store != StoreS3 {
		return fmt.Errorf("invalid store: %s (must be 'drive' or 's3')", c.Store)
	}

	if c.Fingerprint != FingerprintSizeMTime && c.Fingerprint != FingerprintMD5 {
		return fmt.Errorf("invalid fingerprint: %s (must be 'size-mtime' or 'md5')", c.Fingerprint)
	}

	if c.OutputFormat != types.OutputFormatJSON && c.OutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.OutputFormat)
	}

	if c.Concurrency < 1 || c.Concurrency > utils.MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d, got: %d", utils.MaxConcurrency, c.Concurrency)
	}

	if c.WalkConcurrency < 1 || c.WalkConcurrency > utils.MaxConcurrency {
		return fmt.Errorf("walk concurrency must be between 1 and %d, got: %d", utils.MaxConcurrency, c.WalkConcurrency)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got: %d", c.MaxRetries)
	}

	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return fmt.Errorf("retry base delay must be between 100ms and 60000ms, got: %d", c.RetryBaseDelay)
	}

	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return fmt.Errorf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout)
	}

	validLogLevels := []string{"quiet", "normal", "verbose", "debug"}
	isValid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ValidateRun checks that everything a sync run needs is present
func (c *Config) ValidateRun() error {
	if c.MRIPath == "" {
		return fmt.Errorf("local MRI path is required (--mri-path)")
	}
	if c.FolderID == "" {
		return fmt.Errorf("destination folder id is required (--folder-id)")
	}
	if c.Store == StoreDrive && c.JWTConfig == "" {
		return fmt.Errorf("service account JWT config is required for the drive store (--jwt-cfg)")
	}
	if len(c.DirPatterns) == 0 {
		return fmt.Errorf("at least one directory level pattern is required (--dir-regex)")
	}
	for i, level := range c.DirPatterns {
		if len(level) == 0 {
			return fmt.Errorf("directory level %d has no patterns", i+1)
		}
	}
	if len(c.SequencePatterns) == 0 {
		return fmt.Errorf("at least one sequence pattern is required (--sequence-regex)")
	}
	return c.Validate()
}

// Patterns is the compiled form of the pattern lists in Config
type Patterns struct {
	Levels    match.Levels
	Sequences match.PatternSet
	Files     match.PatternSet
}

// CompilePatterns compiles every pattern list
func (c *Config) CompilePatterns() (*Patterns, error) {
	levels, err := match.CompileLevels(c.DirPatterns)
	if err != nil {
		return nil, fmt.Errorf("directory patterns: %w", err)
	}
	sequences, err := match.Compile(c.SequencePatterns)
	if err != nil {
		return nil, fmt.Errorf("sequence patterns: %w", err)
	}
	files, err := match.Compile(c.FilePatterns)
	if err != nil {
		return nil, fmt.Errorf("file patterns: %w", err)
	}
	return &Patterns{Levels: levels, Sequences: sequences, Files: files}, nil
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetConfigPath returns the path to the default config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "mrisync"), nil
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
