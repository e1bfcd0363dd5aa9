package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dredge/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage dredge configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (DREDGE_*)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'dredge.yaml'
unless a different path is specified with the --config flag.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging all sources:
  - Command line flags
  - Environment variables
  - Configuration file
  - Default values`,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration for a pipeline run",
	Long: `Load the configuration and run the full pre-run checks: YAML syntax,
required fields (listing url), value ranges (caps, threshold, worker
counts), and path accessibility.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# Dredge configuration file
#
# Every option can also be set through environment variables prefixed
# with DREDGE_, for example DREDGE_LISTING_URL or DREDGE_DATA_DIR.

# Remote listing that seeds the media manifest
listing:
  # Page whose links are scanned for media files (required)
  url: "https://example.com/media/"

  # Extensions that count as media
  media_extensions: [".jpg", ".jpeg", ".png", ".gif", ".webp"]

# Rate limiting against remote hosts
rate_limit:
  # Calls allowed per resource key within a trailing hour
  max_calls_per_hour: 120

  # Per-key overrides, e.g. a stricter cap for a mention source
  resource_overrides: {}

  # Exponential backoff after consecutive failures of one key
  backoff_base: 1s
  backoff_ceiling: 5m

  # Minimum spacing between any two outbound calls
  pace_interval: 1s

# Outbound request behavior
fetch:
  max_retries: 3
  timeout: 30s

# Download stage
download:
  # 0 means no cap
  max_download_count: 0
  concurrent_downloads: 3
  timeout: 60s

# Near-duplicate grouping
cluster:
  # Perceptual hashes within this many differing bits are duplicates (0-64)
  hash_distance_threshold: 10

# Public attention estimation; leave sources empty to skip the stage
attention:
  underreported_threshold: 50
  sources: []
  # Example source:
  # - name: forum
  #   kind: selector_count
  #   url_template: "https://forum.example.com/search?q={query}"
  #   count_selector: "div.result"
  #   weight: 1.0
  #   resource_key: forum

# State database and export locations
pipeline:
  data_dir: "./dredge-data"
  max_attempts: 3

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: "info"

  # Log format: console, json
  format: "console"

  # Log file path (optional); empty logs to stderr only
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "dredge.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("writing configuration file: %w", err)
	}

	fmt.Println("Configuration file created:", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the file and set listing.url")
	fmt.Println("2. Run 'dredge config validate' to check it")
	fmt.Println("3. Start the pipeline with 'dredge run'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("formatting configuration: %w", err)
	}
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (DREDGE_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (auto-detected)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}
	if err := cfg.ValidateForRun(); err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Listing URL: %s\n", cfg.Listing.URL)
	fmt.Printf("  Data directory: %s\n", cfg.Pipeline.DataDir)
	fmt.Printf("  Concurrent downloads: %d\n", cfg.Download.ConcurrentDownloads)
	fmt.Printf("  Rate limit: %d calls/hour\n", cfg.RateLimit.MaxCallsPerHour)
	fmt.Printf("  Hash distance threshold: %d\n", cfg.Cluster.HashDistanceThreshold)
	fmt.Printf("  Attention sources: %d\n", len(cfg.Attention.Sources))
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
