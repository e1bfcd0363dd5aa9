package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"dredge/internal/pipeline"
	"dredge/internal/store"
	"dredge/pkg/config"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-stage checkpoint progress and store totals",
	Long: `Show how far the pipeline has progressed: per-stage checkpoint counts
(pending, in progress, done, failed), manifest totals, and the current
cluster summary. Reads the state database only; never touches the network.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Pipeline.DBPath()); err != nil {
		return fmt.Errorf("no state database at %s; run 'dredge run' first", cfg.Pipeline.DBPath())
	}

	st, err := store.Open(cfg.Pipeline.DBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Stage", "Pending", "In Progress", "Done", "Failed"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	for _, stage := range pipeline.StageNames() {
		counts, err := st.StageCounts(stage)
		if err != nil {
			return err
		}
		tw.AppendRow(table.Row{stage, counts.Pending, counts.InProgress, counts.Done, counts.Failed})
	}
	tw.Render()

	totals, err := st.Totals()
	if err != nil {
		return err
	}
	clusters, multi, err := st.CountClusters()
	if err != nil {
		return err
	}

	sw := table.NewWriter()
	sw.SetOutputMirror(os.Stdout)
	sw.SetStyle(table.StyleRounded)
	sw.AppendRows([]table.Row{
		{"Media records", strconv.Itoa(totals.Records)},
		{"Downloaded", strconv.Itoa(totals.Downloaded)},
		{"Fingerprinted", strconv.Itoa(totals.Fingerprinted)},
		{"Stored size", humanize.Bytes(uint64(totals.Bytes))},
		{"Clusters", strconv.Itoa(clusters)},
		{"Duplicate groups", strconv.Itoa(multi)},
	})
	sw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
	})
	sw.Render()

	return nil
}
