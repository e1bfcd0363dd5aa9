package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.RateLimit.MaxCallsPerHour != 120 {
		t.Errorf("Expected default max calls per hour to be 120, got %d", config.RateLimit.MaxCallsPerHour)
	}
	if config.RateLimit.BackoffBase != time.Second {
		t.Errorf("Expected default backoff base to be 1s, got %v", config.RateLimit.BackoffBase)
	}
	if config.Download.ConcurrentDownloads != 3 {
		t.Errorf("Expected default concurrent downloads to be 3, got %d", config.Download.ConcurrentDownloads)
	}
	if config.Cluster.HashDistanceThreshold != 10 {
		t.Errorf("Expected default hash distance threshold to be 10, got %d", config.Cluster.HashDistanceThreshold)
	}
	if config.Attention.UnderreportedThreshold != 5.0 {
		t.Errorf("Expected default underreported threshold to be 5.0, got %f", config.Attention.UnderreportedThreshold)
	}
	if config.Pipeline.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts to be 3, got %d", config.Pipeline.MaxAttempts)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("DREDGE_LISTING_URL", "https://example.gov/vault/releases")
	os.Setenv("DREDGE_DATA_DIR", "/tmp/dredge-test")
	os.Setenv("DREDGE_CALLS_PER_HOUR", "40")
	os.Setenv("DREDGE_MAX_DOWNLOADS", "25")
	os.Setenv("DREDGE_HASH_THRESHOLD", "6")
	os.Setenv("DREDGE_PACE_INTERVAL", "250ms")
	os.Setenv("DREDGE_LOG_LEVEL", "debug")

	defer func() {
		os.Unsetenv("DREDGE_LISTING_URL")
		os.Unsetenv("DREDGE_DATA_DIR")
		os.Unsetenv("DREDGE_CALLS_PER_HOUR")
		os.Unsetenv("DREDGE_MAX_DOWNLOADS")
		os.Unsetenv("DREDGE_HASH_THRESHOLD")
		os.Unsetenv("DREDGE_PACE_INTERVAL")
		os.Unsetenv("DREDGE_LOG_LEVEL")
	}()

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}

	if config.Listing.URL != "https://example.gov/vault/releases" {
		t.Errorf("Expected listing URL from env, got %s", config.Listing.URL)
	}
	if config.Pipeline.DataDir != "/tmp/dredge-test" {
		t.Errorf("Expected data dir /tmp/dredge-test, got %s", config.Pipeline.DataDir)
	}
	if config.RateLimit.MaxCallsPerHour != 40 {
		t.Errorf("Expected max calls per hour 40, got %d", config.RateLimit.MaxCallsPerHour)
	}
	if config.Download.MaxDownloadCount != 25 {
		t.Errorf("Expected max downloads 25, got %d", config.Download.MaxDownloadCount)
	}
	if config.Cluster.HashDistanceThreshold != 6 {
		t.Errorf("Expected hash threshold 6, got %d", config.Cluster.HashDistanceThreshold)
	}
	if config.RateLimit.PaceInterval != 250*time.Millisecond {
		t.Errorf("Expected pace interval 250ms, got %v", config.RateLimit.PaceInterval)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", config.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
listing:
  url: https://example.gov/vault
  media_extensions: [".jpg", ".png"]
rate_limit:
  max_calls_per_hour: 30
  resource_overrides:
    media: 80
cluster:
  hash_distance_threshold: 12
attention:
  underreported_threshold: 2.5
`
	path := filepath.Join(t.TempDir(), "dredge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	config := DefaultConfig()
	if err := config.LoadFromFile(path); err != nil {
		t.Fatalf("Failed to load config file: %v", err)
	}

	if config.Listing.URL != "https://example.gov/vault" {
		t.Errorf("Expected listing URL from file, got %s", config.Listing.URL)
	}
	if config.RateLimit.MaxCallsPerHour != 30 {
		t.Errorf("Expected max calls per hour 30, got %d", config.RateLimit.MaxCallsPerHour)
	}
	if got := config.CallsPerHour("media"); got != 80 {
		t.Errorf("Expected media override 80, got %d", got)
	}
	if got := config.CallsPerHour("listing"); got != 30 {
		t.Errorf("Expected default cap 30 for listing, got %d", got)
	}
	if config.Cluster.HashDistanceThreshold != 12 {
		t.Errorf("Expected hash threshold 12, got %d", config.Cluster.HashDistanceThreshold)
	}
	if config.Attention.UnderreportedThreshold != 2.5 {
		t.Errorf("Expected underreported threshold 2.5, got %f", config.Attention.UnderreportedThreshold)
	}
	// Defaults not mentioned in the file must survive.
	if config.Fetch.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", config.Fetch.MaxRetries)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero calls per hour",
			mutate:  func(c *Config) { c.RateLimit.MaxCallsPerHour = 0 },
			wantErr: "max calls per hour",
		},
		{
			name:    "ceiling below base",
			mutate:  func(c *Config) { c.RateLimit.BackoffCeiling = c.RateLimit.BackoffBase / 2 },
			wantErr: "backoff ceiling",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Cluster.HashDistanceThreshold = 65 },
			wantErr: "hash distance threshold",
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Pipeline.MaxAttempts = 0 },
			wantErr: "max attempts",
		},
		{
			name: "source without placeholder",
			mutate: func(c *Config) {
				c.Attention.Sources = []AttentionSourceConfig{{
					Name:      "forum",
					Kind:      SourceKindJSONList,
					CountPath: "data.children",
				}}
			},
			wantErr: "placeholder",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateForRunRequiresListingURL(t *testing.T) {
	config := DefaultConfig()

	if err := config.ValidateForRun(); err == nil {
		t.Error("Expected error when listing URL is missing")
	}

	config.Listing.URL = "https://example.gov/vault"
	if err := config.ValidateForRun(); err != nil {
		t.Errorf("Expected run config to validate, got %v", err)
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()

	config.MergeCommandLineFlags(map[string]interface{}{
		"listing-url":   "https://example.gov/flagged",
		"data-dir":      "/tmp/flagged",
		"max-downloads": 7,
		"json-logs":     true,
	})

	if config.Listing.URL != "https://example.gov/flagged" {
		t.Errorf("Expected flag listing URL, got %s", config.Listing.URL)
	}
	if config.Pipeline.DataDir != "/tmp/flagged" {
		t.Errorf("Expected flag data dir, got %s", config.Pipeline.DataDir)
	}
	if config.Download.MaxDownloadCount != 7 {
		t.Errorf("Expected flag max downloads 7, got %d", config.Download.MaxDownloadCount)
	}
	if config.Logging.Format != "json" {
		t.Errorf("Expected json log format, got %s", config.Logging.Format)
	}
}
