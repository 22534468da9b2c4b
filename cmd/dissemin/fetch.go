package main

import (
	"github.com/spf13/cobra"

	"github.com/wetneb/dissemin/internal/ingest"
	"github.com/wetneb/dissemin/internal/metrics"
	"github.com/wetneb/dissemin/internal/resilience"
)

var (
	fetchUser  string
	fetchNoDOI bool
	fetchMax   int
)

func init() {
	fetchCmd.Flags().StringVar(&fetchUser, "user", "", "Account owning the researcher, notified of ignored works")
	fetchCmd.Flags().BoolVar(&fetchNoDOI, "no-doi", false, "Do not look DOIs up on Crossref")
	fetchCmd.Flags().IntVar(&fetchMax, "max", 0, "Stop after this many papers (0 for all)")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <orcid>",
	Short: "Fetch the papers of one ORCID profile",
	Long: `Fetch the papers of one ORCID profile from the live registry and save
them in the catalog.

Registry failures are reported as a fetch with no papers.

Examples:
  dissemin fetch 0000-0002-1825-0097
  dissemin fetch https://orcid.org/0000-0002-1825-0097 --user alice --human`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db := mustOpenStore(ctx)
	defer db.Close()

	executor := resilience.NewExecutor(cfg.Resilience, logger)
	sink, closeSink := newNotifier(db, executor)
	defer closeSink()

	client := newORCIDClient(executor)
	source := &ingest.Source{
		Engine:     newEngine(db),
		Pipeline:   newPipeline(client, sink, !fetchNoDOI),
		Profiles:   client,
		Logger:     logger,
		Metrics:    metrics.NewImportMetrics(),
		MaxResults: fetchMax,
	}

	out, err := source.FetchAndSave(ctx, args[0], fetchUser, !fetchNoDOI)
	if err != nil {
		exitWithError(ExitError, "saving papers: %v", err)
	}

	if humanOutput {
		if out.Papers == 0 {
			outputHuman("No papers found for %s", out.ORCID)
			if out.Reason != "" {
				outputHuman(" (%s)", out.Reason)
			}
			outputHuman("\n")
			return nil
		}
		outputHuman("%s: %d papers saved (%d new), %d works skipped\n", out.ORCID, out.Papers, out.Created, out.Skipped)
		return nil
	}
	return outputJSON(out)
}
