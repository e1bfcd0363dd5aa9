package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	dredgeerrors "dredge/pkg/errors"
)

// Config holds all configuration options for the dredge pipeline
type Config struct {
	// Remote listing to discover media from
	Listing ListingConfig `yaml:"listing" json:"listing"`

	// Rate limiting configuration, per external resource key
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Outbound request settings
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Near-duplicate clustering
	Cluster ClusterConfig `yaml:"cluster" json:"cluster"`

	// Public attention estimation
	Attention AttentionConfig `yaml:"attention" json:"attention"`

	// Pipeline state and output locations
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ListingConfig describes the remote listing that seeds the manifest
type ListingConfig struct {
	URL             string   `yaml:"url" json:"url"`
	BaseURL         string   `yaml:"base_url" json:"base_url"`
	MediaExtensions []string `yaml:"media_extensions" json:"media_extensions"`
	ResourceKey     string   `yaml:"resource_key" json:"resource_key"`
}

// RateLimitConfig holds the rolling-window caps and backoff schedule
type RateLimitConfig struct {
	// MaxCallsPerHour caps calls to any resource key within a trailing hour.
	MaxCallsPerHour int `yaml:"max_calls_per_hour" json:"max_calls_per_hour"`
	// ResourceOverrides replaces the default cap for specific resource keys.
	ResourceOverrides map[string]int `yaml:"resource_overrides" json:"resource_overrides"`
	BackoffBase       time.Duration  `yaml:"backoff_base" json:"backoff_base"`
	BackoffCeiling    time.Duration  `yaml:"backoff_ceiling" json:"backoff_ceiling"`
	// PaceInterval spaces consecutive outbound calls regardless of key.
	PaceInterval time.Duration `yaml:"pace_interval" json:"pace_interval"`
}

// FetchConfig holds outbound HTTP behavior
type FetchConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	UserAgents []string      `yaml:"user_agents" json:"user_agents"`
}

// DownloadConfig holds download-stage configuration
type DownloadConfig struct {
	Directory           string        `yaml:"directory" json:"directory"`
	MaxDownloadCount    int           `yaml:"max_download_count" json:"max_download_count"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
}

// ClusterConfig holds duplicate-detection tuning
type ClusterConfig struct {
	// HashDistanceThreshold links two records when their perceptual hashes
	// differ in at most this many bits.
	HashDistanceThreshold int `yaml:"hash_distance_threshold" json:"hash_distance_threshold"`
}

// AttentionSourceKind selects how a mention source counts results
type AttentionSourceKind string

const (
	// SourceKindJSONList counts elements of a JSON array at count_path.
	SourceKindJSONList AttentionSourceKind = "json_list"
	// SourceKindSelectorCount counts HTML elements matching count_selector,
	// or extracts a number via result_regex from the first match.
	SourceKindSelectorCount AttentionSourceKind = "selector_count"
)

// AttentionSourceConfig describes one remote mention source
type AttentionSourceConfig struct {
	Name          string              `yaml:"name" json:"name"`
	Kind          AttentionSourceKind `yaml:"kind" json:"kind"`
	URLTemplate   string              `yaml:"url_template" json:"url_template"`
	CountPath     string              `yaml:"count_path" json:"count_path"`
	CountSelector string              `yaml:"count_selector" json:"count_selector"`
	ResultRegex   string              `yaml:"result_regex" json:"result_regex"`
	Weight        float64             `yaml:"weight" json:"weight"`
	ResourceKey   string              `yaml:"resource_key" json:"resource_key"`
}

// AttentionConfig holds the mention sources and scoring threshold
type AttentionConfig struct {
	Sources []AttentionSourceConfig `yaml:"sources" json:"sources"`
	// UnderreportedThreshold marks records whose weighted mention score
	// falls below it as under-discussed.
	UnderreportedThreshold float64 `yaml:"underreported_threshold" json:"underreported_threshold"`
}

// PipelineConfig holds state-store and output locations plus retry policy
type PipelineConfig struct {
	DataDir        string `yaml:"data_dir" json:"data_dir"`
	DBFile         string `yaml:"db_file" json:"db_file"`
	ManifestFile   string `yaml:"manifest_file" json:"manifest_file"`
	ClustersFile   string `yaml:"clusters_file" json:"clusters_file"`
	CandidatesFile string `yaml:"candidates_file" json:"candidates_file"`
	SummaryFile    string `yaml:"summary_file" json:"summary_file"`
	// MaxAttempts is the per-item retry budget for a stage before the item
	// is permanently failed and reported.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// DBPath returns the state database location under the data directory.
func (p *PipelineConfig) DBPath() string {
	return filepath.Join(p.DataDir, p.DBFile)
}

// ManifestPath returns the exported manifest CSV location.
func (p *PipelineConfig) ManifestPath() string {
	return filepath.Join(p.DataDir, p.ManifestFile)
}

// ClustersPath returns the exported cluster CSV location.
func (p *PipelineConfig) ClustersPath() string {
	return filepath.Join(p.DataDir, p.ClustersFile)
}

// CandidatesPath returns the exported candidates CSV location.
func (p *PipelineConfig) CandidatesPath() string {
	return filepath.Join(p.DataDir, p.CandidatesFile)
}

// SummaryPath returns the run summary JSON location.
func (p *PipelineConfig) SummaryPath() string {
	return filepath.Join(p.DataDir, p.SummaryFile)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// Resource keys used by the built-in stages when none are configured.
const (
	DefaultListingKey = "listing"
	DefaultMediaKey   = "media"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listing: ListingConfig{
			MediaExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
			ResourceKey:     DefaultListingKey,
		},
		RateLimit: RateLimitConfig{
			MaxCallsPerHour: 120,
			BackoffBase:     time.Second,
			BackoffCeiling:  5 * time.Minute,
			PaceInterval:    time.Second,
		},
		Fetch: FetchConfig{
			MaxRetries: 3,
			Timeout:    30 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
				"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
			},
		},
		Download: DownloadConfig{
			Directory:           "", // resolved under data_dir when empty
			MaxDownloadCount:    100,
			ConcurrentDownloads: 3,
			Timeout:             60 * time.Second,
		},
		Cluster: ClusterConfig{
			HashDistanceThreshold: 10,
		},
		Attention: AttentionConfig{
			Sources:                nil,
			UnderreportedThreshold: 5.0,
		},
		Pipeline: PipelineConfig{
			DataDir:        "./data",
			DBFile:         "dredge.db",
			ManifestFile:   "manifest.csv",
			ClustersFile:   "clusters.csv",
			CandidatesFile: "candidates.csv",
			SummaryFile:    "run_summary.json",
			MaxAttempts:    3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			File:   "",
		},
	}
}

// MediaDir returns the download directory, defaulting to <data_dir>/media.
func (c *Config) MediaDir() string {
	if c.Download.Directory != "" {
		return c.Download.Directory
	}
	return filepath.Join(c.Pipeline.DataDir, "media")
}

// CallsPerHour returns the window cap for a resource key, honoring overrides.
func (c *Config) CallsPerHour(resourceKey string) int {
	if v, ok := c.RateLimit.ResourceOverrides[resourceKey]; ok && v > 0 {
		return v
	}
	return c.RateLimit.MaxCallsPerHour
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if listingURL := os.Getenv("DREDGE_LISTING_URL"); listingURL != "" {
		c.Listing.URL = listingURL
	}
	if baseURL := os.Getenv("DREDGE_BASE_URL"); baseURL != "" {
		c.Listing.BaseURL = baseURL
	}
	if dataDir := os.Getenv("DREDGE_DATA_DIR"); dataDir != "" {
		c.Pipeline.DataDir = dataDir
	}
	if cph := os.Getenv("DREDGE_CALLS_PER_HOUR"); cph != "" {
		var val int
		fmt.Sscanf(cph, "%d", &val)
		if val > 0 {
			c.RateLimit.MaxCallsPerHour = val
		}
	}
	if maxDownloads := os.Getenv("DREDGE_MAX_DOWNLOADS"); maxDownloads != "" {
		var val int
		fmt.Sscanf(maxDownloads, "%d", &val)
		if val >= 0 {
			c.Download.MaxDownloadCount = val
		}
	}
	if concurrent := os.Getenv("DREDGE_CONCURRENT_DOWNLOADS"); concurrent != "" {
		var val int
		fmt.Sscanf(concurrent, "%d", &val)
		if val > 0 {
			c.Download.ConcurrentDownloads = val
		}
	}
	if threshold := os.Getenv("DREDGE_HASH_THRESHOLD"); threshold != "" {
		var val int
		fmt.Sscanf(threshold, "%d", &val)
		if val >= 0 {
			c.Cluster.HashDistanceThreshold = val
		}
	}
	if pace := os.Getenv("DREDGE_PACE_INTERVAL"); pace != "" {
		if d, err := time.ParseDuration(pace); err == nil && d >= 0 {
			c.RateLimit.PaceInterval = d
		}
	}
	if logLevel := os.Getenv("DREDGE_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("DREDGE_LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"dredge.yaml",
		"dredge.yml",
		".dredge.yaml",
		".dredge.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "dredge", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "dredge", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.MaxCallsPerHour <= 0 {
		errs = append(errs, errors.New("max calls per hour must be positive"))
	}
	for key, cap := range c.RateLimit.ResourceOverrides {
		if cap <= 0 {
			errs = append(errs, fmt.Errorf("rate limit override for %q must be positive", key))
		}
	}
	if c.RateLimit.BackoffBase <= 0 {
		errs = append(errs, errors.New("backoff base must be positive"))
	}
	if c.RateLimit.BackoffCeiling < c.RateLimit.BackoffBase {
		errs = append(errs, errors.New("backoff ceiling must be at least the backoff base"))
	}
	if c.RateLimit.PaceInterval < 0 {
		errs = append(errs, errors.New("pace interval cannot be negative"))
	}

	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}

	if c.Download.MaxDownloadCount < 0 {
		errs = append(errs, errors.New("max download count cannot be negative"))
	}
	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 16 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 16"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.Cluster.HashDistanceThreshold < 0 || c.Cluster.HashDistanceThreshold > 64 {
		errs = append(errs, errors.New("hash distance threshold must be between 0 and 64"))
	}

	for i, src := range c.Attention.Sources {
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("attention source %d has no name", i))
		}
		switch src.Kind {
		case SourceKindJSONList:
			if src.CountPath == "" {
				errs = append(errs, fmt.Errorf("attention source %q needs count_path", src.Name))
			}
		case SourceKindSelectorCount:
			if src.CountSelector == "" {
				errs = append(errs, fmt.Errorf("attention source %q needs count_selector", src.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("attention source %q has unknown kind %q", src.Name, src.Kind))
		}
		if !strings.Contains(src.URLTemplate, "%s") {
			errs = append(errs, fmt.Errorf("attention source %q url_template needs a %%s query placeholder", src.Name))
		}
		if src.Weight < 0 {
			errs = append(errs, fmt.Errorf("attention source %q weight cannot be negative", src.Name))
		}
	}
	if c.Attention.UnderreportedThreshold < 0 {
		errs = append(errs, errors.New("underreported threshold cannot be negative"))
	}

	if c.Pipeline.DataDir == "" {
		errs = append(errs, errors.New("data directory is required"))
	}
	if c.Pipeline.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validLogFormats := map[string]bool{
		"auto": true, "json": true, "console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateForRun adds the checks a full pipeline run needs on top of
// Validate. Inspection commands work without a listing URL; a run does not.
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Listing.URL == "" {
		return errors.New("listing url is required (set listing.url or DREDGE_LISTING_URL)")
	}
	if len(c.Listing.MediaExtensions) == 0 {
		return errors.New("at least one media extension is required")
	}
	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if listingURL, ok := flags["listing-url"].(string); ok && listingURL != "" {
		c.Listing.URL = listingURL
	}
	if dataDir, ok := flags["data-dir"].(string); ok && dataDir != "" {
		c.Pipeline.DataDir = dataDir
	}
	if maxDownloads, ok := flags["max-downloads"].(int); ok && maxDownloads >= 0 {
		c.Download.MaxDownloadCount = maxDownloads
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Download.ConcurrentDownloads = concurrent
	}
	if threshold, ok := flags["hash-threshold"].(int); ok && threshold >= 0 {
		c.Cluster.HashDistanceThreshold = threshold
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if jsonLogs, ok := flags["json-logs"].(bool); ok && jsonLogs {
		c.Logging.Format = "json"
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".dredge.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, dredgeerrors.Wrap(dredgeerrors.ErrorTypeConfig, "load config file", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, dredgeerrors.Wrap(dredgeerrors.ErrorTypeConfig, "load environment", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, dredgeerrors.Wrap(dredgeerrors.ErrorTypeConfig, "configuration validation failed", err)
	}

	return config, nil
}
