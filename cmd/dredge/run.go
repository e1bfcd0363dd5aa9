package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dredge/internal/pipeline"
	"dredge/internal/store"
	"dredge/pkg/attention"
	"dredge/pkg/config"
	"dredge/pkg/fetch"
	"dredge/pkg/logger"
	"dredge/pkg/ratelimit"
	"dredge/pkg/storage"
)

var (
	// Run command flags
	listingURL     string
	dataDir        string
	maxDownloads   int
	concurrent     int
	hashThreshold  int
	forceRecluster bool
	rescore        bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: discover, download, fingerprint, score, cluster, export",
	Long: `Run every pipeline stage in order, resuming from checkpoints.

Items that already completed a stage are skipped; items that failed are
retried until the per-item attempt budget is exhausted, then reported in
the run summary without blocking the rest of the manifest. Re-running
after full completion is a cheap no-op that only rewrites the CSV views.`,
	Example: `  # Run against the configured listing
  dredge run

  # Point at a listing and cap the download count
  dredge run --listing-url https://example.com/media/ --max-downloads 100

  # Re-derive clusters after changing the distance threshold
  dredge run --hash-threshold 6 --force-recluster`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&listingURL, "listing-url", "", "listing page to discover media from")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for state, media, and exports")
	runCmd.Flags().IntVar(&maxDownloads, "max-downloads", -1, "maximum items to download (0 = unlimited)")
	runCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	runCmd.Flags().IntVar(&hashThreshold, "hash-threshold", -1, "max hash distance for near-duplicates (0-64)")
	runCmd.Flags().BoolVar(&forceRecluster, "force-recluster", false, "discard the stored cluster view before running")
	runCmd.Flags().BoolVar(&rescore, "rescore", false, "re-run mention scoring for all records")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	flags := globalFlags()
	if listingURL != "" {
		flags["listing-url"] = listingURL
	}
	if dataDir != "" {
		flags["data-dir"] = dataDir
	}
	if maxDownloads >= 0 {
		flags["max-downloads"] = maxDownloads
	}
	if concurrent > 0 {
		flags["concurrent"] = concurrent
	}
	if hashThreshold >= 0 {
		flags["hash-threshold"] = hashThreshold
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return err
	}
	if err := cfg.ValidateForRun(); err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("dredge starting")

	if err := os.MkdirAll(cfg.Pipeline.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.Open(cfg.Pipeline.DBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	if forceRecluster {
		// The partition is derived state and recomputed every run; dropping
		// it up front guarantees no stale grouping survives even if this
		// run aborts before the cluster stage.
		if err := st.ReplaceClusters(nil); err != nil {
			return err
		}
		log.Info("Stored cluster view discarded")
	}
	if rescore {
		if err := st.ResetStage(pipeline.StageMentions); err != nil {
			return err
		}
		log.Info("Mention-score checkpoints discarded, all records will be re-scored")
	}

	deps, err := buildDeps(cfg, st, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := pipeline.New(cfg, st, pipeline.DefaultStages(deps), log)
	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	if !summary.OK() {
		return errors.New(summary.StatusLine())
	}
	fmt.Println(summary.StatusLine())
	return nil
}

// buildDeps wires the shared collaborators every stage draws from. The
// two fetch clients share one limiter so listing, mention, and media
// calls count against the same hourly windows.
func buildDeps(cfg *config.Config, st *store.Store, log logger.Logger) (pipeline.Deps, error) {
	limiter := ratelimit.New(ratelimit.Options{
		Window:         time.Hour,
		DefaultCap:     cfg.RateLimit.MaxCallsPerHour,
		KeyCaps:        cfg.RateLimit.ResourceOverrides,
		BackoffBase:    cfg.RateLimit.BackoffBase,
		BackoffCeiling: cfg.RateLimit.BackoffCeiling,
		PaceInterval:   cfg.RateLimit.PaceInterval,
	}, log)

	client := fetch.NewClient(fetch.Options{
		Timeout:    cfg.Fetch.Timeout,
		MaxRetries: cfg.Fetch.MaxRetries,
		UserAgents: cfg.Fetch.UserAgents,
	}, limiter, log)
	mediaClient := fetch.NewClient(fetch.Options{
		Timeout:    cfg.Download.Timeout,
		MaxRetries: cfg.Fetch.MaxRetries,
		UserAgents: cfg.Fetch.UserAgents,
	}, limiter, log)

	blobs, err := storage.NewManager(cfg.MediaDir())
	if err != nil {
		return pipeline.Deps{}, err
	}

	var estimator *attention.Estimator
	if len(cfg.Attention.Sources) > 0 {
		estimator, err = attention.NewEstimator(cfg.Attention, client, log)
		if err != nil {
			return pipeline.Deps{}, err
		}
	}

	return pipeline.Deps{
		Config:     cfg,
		Store:      st,
		Fetch:      client,
		MediaFetch: mediaClient,
		Blobs:      blobs,
		Attention:  estimator,
		Logger:     log,
	}, nil
}
