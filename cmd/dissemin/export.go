package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wetneb/dissemin/internal/bibtex"
	"github.com/wetneb/dissemin/internal/storage"
)

var (
	exportFormat string
	exportOutput string
)

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "jsonl", "Export format (jsonl, bibtex)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(restoreCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the catalog",
	Long: `Export every paper of the catalog.

Examples:
  dissemin export -o catalog.jsonl
  dissemin export --format bibtex > catalog.bib`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file.jsonl>",
	Short: "Load a JSONL snapshot into an empty catalog",
	Long: `Load a JSONL snapshot written by 'dissemin export' into the catalog.

The restore runs in one transaction: a paper that already exists aborts it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "jsonl" && exportFormat != "bibtex" {
		exitWithError(ExitError, "unknown format: %s", exportFormat)
	}

	ctx := cmd.Context()
	db := mustOpenStore(ctx)
	defer db.Close()

	papers, err := db.Papers(ctx)
	if err != nil {
		exitWithError(ExitError, "listing papers: %v", err)
	}

	out := os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			exitWithError(ExitError, "creating %s: %v", exportOutput, err)
		}
		defer f.Close()
		out = f
	}

	// Exports are always written as data, never wrapped in JSON status.
	switch exportFormat {
	case "bibtex":
		_, err = fmt.Fprint(out, bibtex.ToBibTeXList(papers))
	default:
		err = storage.WriteJSONL(out, papers)
	}
	if err != nil {
		exitWithError(ExitError, "writing export: %v", err)
	}
	if exportOutput != "" {
		logger.Info("exported catalog", "papers", len(papers), "path", exportOutput, "format", exportFormat)
	}
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	papers, err := storage.ReadAll(args[0])
	if err != nil {
		exitWithError(ExitDataError, "reading snapshot: %v", err)
	}

	ctx := cmd.Context()
	db := mustOpenStore(ctx)
	defer db.Close()

	count, err := db.Restore(ctx, papers)
	if err != nil {
		exitWithError(ExitDataError, "restoring snapshot: %v", err)
	}

	if humanOutput {
		outputHuman("Restored %d papers from %s\n", count, args[0])
		return nil
	}
	return outputJSON(StatusResponse{Status: "restored", Path: args[0], Count: count})
}
