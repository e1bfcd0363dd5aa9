package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dredge/internal/store"
	"dredge/pkg/config"
	"dredge/pkg/manifest"
	"dredge/pkg/models"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Regenerate the manifest, cluster, and candidate CSV views",
	Long: `Rewrite the CSV views from the current state database without running
any pipeline stage. Useful after 'dredge import' or when a view file was
deleted or edited by hand.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Pipeline.DBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ListMedia()
	if err != nil {
		return err
	}
	clusters, err := st.ListClusters()
	if err != nil {
		return err
	}

	var candidates []models.MediaRecord
	for _, rec := range records {
		if rec.Meta(models.MetaCandidate) == "true" {
			candidates = append(candidates, rec)
		}
	}

	if err := manifest.WriteManifest(cfg.Pipeline.ManifestPath(), records); err != nil {
		return err
	}
	if err := manifest.WriteClusters(cfg.Pipeline.ClustersPath(), clusters); err != nil {
		return err
	}
	if err := manifest.WriteCandidates(cfg.Pipeline.CandidatesPath(), candidates); err != nil {
		return err
	}

	fmt.Printf("exported %d record(s), %d cluster(s), %d candidate(s)\n",
		len(records), len(clusters), len(candidates))
	return nil
}
