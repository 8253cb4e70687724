package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/mrisync/internal/sync/match"
	"github.com/dl-alexandre/mrisync/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store != StoreDrive {
		t.Errorf("Expected default store 'drive', got '%s'", cfg.Store)
	}
	if cfg.Fingerprint != FingerprintSizeMTime {
		t.Errorf("Expected default fingerprint 'size-mtime', got '%s'", cfg.Fingerprint)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", cfg.Concurrency)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.OutputFormat != types.OutputFormatTable {
		t.Errorf("Expected output format 'table', got '%s'", cfg.OutputFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"valid default config", func(*Config) {}, ""},
		{"invalid store", func(c *Config) { c.Store = "box" }, "invalid store"},
		{"invalid fingerprint", func(c *Config) { c.Fingerprint = "sha1" }, "invalid fingerprint"},
		{"invalid output format", func(c *Config) { c.OutputFormat = "xml" }, "invalid output format"},
		{"concurrency too low", func(c *Config) { c.Concurrency = 0 }, "concurrency must be between"},
		{"walk concurrency too high", func(c *Config) { c.WalkConcurrency = 65 }, "walk concurrency must be between"},
		{"max retries too high", func(c *Config) { c.MaxRetries = 11 }, "max retries"},
		{"retry delay too low", func(c *Config) { c.RetryBaseDelay = 50 }, "retry base delay"},
		{"request timeout zero", func(c *Config) { c.RequestTimeout = 0 }, "request timeout"},
		{"invalid log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func validRunConfig() *Config {
	cfg := DefaultConfig()
	cfg.MRIPath = "/data/mri"
	cfg.FolderID = "folder-root"
	cfg.JWTConfig = "/etc/mrisync/key.json"
	cfg.DirPatterns = [][]string{{`^hlp17umm\d{5}_\d{5}$`}, {`^s\d{5}$`}}
	cfg.SequencePatterns = []string{`^t1sag.*$`}
	return cfg
}

func TestValidateRun(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"complete", func(*Config) {}, ""},
		{"missing path", func(c *Config) { c.MRIPath = "" }, "--mri-path"},
		{"missing folder", func(c *Config) { c.FolderID = "" }, "--folder-id"},
		{"missing jwt for drive", func(c *Config) { c.JWTConfig = "" }, "--jwt-cfg"},
		{"s3 needs no jwt", func(c *Config) { c.JWTConfig = ""; c.Store = StoreS3 }, ""},
		{"no levels", func(c *Config) { c.DirPatterns = nil }, "--dir-regex"},
		{"empty level", func(c *Config) { c.DirPatterns = [][]string{{`^a$`}, {}} }, "level 2"},
		{"no sequences", func(c *Config) { c.SequencePatterns = nil }, "--sequence-regex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRunConfig()
			tt.mutate(cfg)
			err := cfg.ValidateRun()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.errorMsg, err)
			}
		})
	}
}

func TestCompilePatterns(t *testing.T) {
	cfg := validRunConfig()
	cfg.FilePatterns = []string{`^i\d+\.MRDC\.\d+$`}

	patterns, err := cfg.CompilePatterns()
	if err != nil {
		t.Fatalf("CompilePatterns() error = %v", err)
	}
	if patterns.Levels.Depth() != 2 {
		t.Errorf("Expected 2 levels, got %d", patterns.Levels.Depth())
	}
	if !patterns.Files.Matches("i1234.MRDC.7") {
		t.Error("File pattern should match GE raw file name")
	}

	cfg.SequencePatterns = []string{`(`}
	_, err = cfg.CompilePatterns()
	if err == nil {
		t.Fatal("Expected error for malformed sequence pattern")
	}
	if !strings.Contains(err.Error(), "sequence patterns") {
		t.Errorf("Error should name the pattern list, got %v", err)
	}
}

func TestCompilePatterns_BadLevelIsPatternError(t *testing.T) {
	cfg := validRunConfig()
	cfg.DirPatterns = [][]string{{`[`}}

	_, err := cfg.CompilePatterns()
	var perr *match.PatternError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *match.PatternError, got %T", err)
	}
	if perr.Level != 1 {
		t.Errorf("Expected level 1, got %d", perr.Level)
	}
}

func TestUMMAPDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UMMAPDefaults()

	patterns, err := cfg.CompilePatterns()
	if err != nil {
		t.Fatalf("CompilePatterns() error = %v", err)
	}
	if !patterns.Levels.Match(1, "hlp17umm00001_00001") || !patterns.Levels.Match(2, "s00003") {
		t.Error("UMMAP levels should match subject and series folders")
	}
	if !patterns.Sequences.Matches("t2flairsag") {
		t.Error("UMMAP sequences should match t2flairsag")
	}
	if !cfg.DICOMSeries {
		t.Error("UMMAP defaults should enable DICOM series naming")
	}

	cfg = DefaultConfig()
	cfg.SequencePatterns = []string{`^t1sag$`}
	cfg.UMMAPDefaults()
	if len(cfg.SequencePatterns) != 1 || cfg.SequencePatterns[0] != `^t1sag$` {
		t.Errorf("Explicit sequence patterns should be kept, got %v", cfg.SequencePatterns)
	}
}

func TestConfigDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 2500
	cfg.RequestTimeout = 90

	if got := cfg.GetRetryBaseDelay(); got != 2500*time.Millisecond {
		t.Errorf("GetRetryBaseDelay() = %v", got)
	}
	if got := cfg.GetRequestTimeout(); got != 90*time.Second {
		t.Errorf("GetRequestTimeout() = %v", got)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := validRunConfig()
	cfg.UpdateFiles = true
	cfg.Fingerprint = FingerprintMD5
	cfg.AWS.Region = "us-east-2"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.UpdateFiles || loaded.Fingerprint != FingerprintMD5 {
		t.Errorf("Loaded config lost update settings: %+v", loaded)
	}
	if len(loaded.DirPatterns) != 2 || loaded.DirPatterns[1][0] != `^s\d{5}$` {
		t.Errorf("Loaded dir patterns = %v", loaded.DirPatterns)
	}
	if loaded.AWS.Region != "us-east-2" {
		t.Errorf("Loaded AWS region = %q", loaded.AWS.Region)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mrisync.yaml")
	content := `
store: s3
folderId: mri-archive/ummap
dirPatterns:
  - ['^hlp17umm\d{5}_\d{5}$']
  - ['^dicom$']
  - ['^s\d{5}$']
sequencePatterns: ['^t1sag.*$']
concurrency: 8
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store != StoreS3 || cfg.FolderID != "mri-archive/ummap" {
		t.Errorf("Unexpected store settings: %s %s", cfg.Store, cfg.FolderID)
	}
	if len(cfg.DirPatterns) != 3 || cfg.DirPatterns[1][0] != "^dicom$" {
		t.Errorf("Unexpected dir patterns: %v", cfg.DirPatterns)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Expected concurrency 8, got %d", cfg.Concurrency)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Unset keys should keep defaults, got max retries %d", cfg.MaxRetries)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_DIR", t.TempDir())

	if _, err := Load(""); err != nil {
		t.Errorf("Missing default config should not be an error: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Missing explicit config should be an error")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_DIR", t.TempDir())
	t.Setenv(EnvPrefix+"STORE", "s3")
	t.Setenv(EnvPrefix+"CONCURRENCY", "16")
	t.Setenv(EnvPrefix+"UPDATE_FILES", "yes")
	t.Setenv(EnvPrefix+"OUTPUT_FORMAT", "json")
	t.Setenv(EnvPrefix+"AWS_REGION", "eu-west-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store != StoreS3 {
		t.Errorf("Expected store s3, got %s", cfg.Store)
	}
	if cfg.Concurrency != 16 {
		t.Errorf("Expected concurrency 16, got %d", cfg.Concurrency)
	}
	if !cfg.UpdateFiles {
		t.Error("Expected update files from env")
	}
	if cfg.OutputFormat != types.OutputFormatJSON {
		t.Errorf("Expected json output, got %s", cfg.OutputFormat)
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("Expected region from env, got %s", cfg.AWS.Region)
	}
}

func TestLoadFromEnv_BadInteger(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_DIR", t.TempDir())
	t.Setenv(EnvPrefix+"MAX_RETRIES", "three")

	if _, err := Load(""); err == nil {
		t.Error("Expected error for non-integer env value")
	}
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"true", "1", "YES", " on "} {
		if !parseBool(in) {
			t.Errorf("parseBool(%q) = false", in)
		}
	}
	for _, in := range []string{"false", "0", "no", ""} {
		if parseBool(in) {
			t.Errorf("parseBool(%q) = true", in)
		}
	}
}
