package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/wetneb/dissemin/internal/catalog"
)

func init() {
	rootCmd.AddCommand(mergeCmd)
}

var mergeCmd = &cobra.Command{
	Use:   "merge <primary-id> <secondary-id>",
	Short: "Merge a duplicate paper into another",
	Long: `Merge a duplicate paper into another.

The records of the secondary paper move to the primary one, authors only
known to the secondary are appended, and the secondary is deleted.

Example:
  dissemin merge 1c9c6a4e-0d5e-4bd8-9a43-2f0f6f0e5a11 5b7d2c1f-8e4a-4d2b-b1a6-0c3e9f7d8a22`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

// MergeResult is the response for the merge command.
type MergeResult struct {
	Status     string `json:"status"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	Records    int    `json:"records"`
	Authors    int    `json:"authors"`
	Visibility string `json:"visibility"`
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db := mustOpenStore(ctx)
	defer db.Close()

	merged, err := newEngine(db).Merge(ctx, args[0], args[1])
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			exitWithError(ExitNotFound, "%v", err)
		}
		exitWithError(ExitError, "merging papers: %v", err)
	}

	if humanOutput {
		outputHuman("Merged into %s: %s (%d records, %d authors)\n",
			merged.ID, truncate(merged.Title, 60), len(merged.Records), len(merged.Authors))
		return nil
	}
	return outputJSON(MergeResult{
		Status:     "merged",
		ID:         merged.ID,
		Title:      merged.Title,
		Records:    len(merged.Records),
		Authors:    len(merged.Authors),
		Visibility: merged.Visibility.String(),
	})
}
