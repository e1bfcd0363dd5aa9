package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dredge/internal/store"
	"dredge/pkg/config"
	"dredge/pkg/manifest"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <manifest.csv>",
	Short: "Merge rows from an external manifest CSV into the store",
	Long: `Merge media rows from a collaborator-produced manifest CSV into the
state database. Rows are matched by id: known records keep their
download and fingerprint progress, unknown records are added as pending
and picked up by the next 'dredge run'.`,
	Example: `  dredge import shared-manifest.csv`,
	Args:    cobra.ExactArgs(1),
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	records, err := manifest.ReadManifest(args[0])
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Pipeline.DBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	added, existing := 0, 0
	for i := range records {
		rec, err := st.GetMedia(records[i].ID)
		if err != nil {
			return err
		}
		if rec != nil {
			existing++
		} else {
			added++
		}
		if err := st.UpsertMedia(&records[i]); err != nil {
			return err
		}
	}

	fmt.Printf("imported %d record(s): %d new, %d already known\n",
		len(records), added, existing)
	return nil
}
