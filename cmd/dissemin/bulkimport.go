package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wetneb/dissemin/internal/bulkimport"
	"github.com/wetneb/dissemin/internal/ingest"
	"github.com/wetneb/dissemin/internal/metrics"
	"github.com/wetneb/dissemin/internal/resilience"
)

var (
	bulkSummaries   string
	bulkActivities  string
	bulkNoPapers    bool
	bulkNoDOI       bool
	bulkStartFrom   string
	bulkWorkers     int
	bulkOnError     string
	bulkMetricsAddr string
)

func init() {
	bulkImportCmd.Flags().StringVar(&bulkSummaries, "summaries", "", "Directory of extracted profile summaries, one folder per archive folder")
	bulkImportCmd.Flags().StringVar(&bulkActivities, "activities", "", "Activities archive (.tar.gz, .tgz, .tar.zst or .tar)")
	bulkImportCmd.Flags().BoolVar(&bulkNoPapers, "no-papers", false, "Only create researchers, do not import their papers")
	bulkImportCmd.Flags().BoolVar(&bulkNoDOI, "no-doi", false, "Do not look DOIs up on Crossref")
	bulkImportCmd.Flags().StringVar(&bulkStartFrom, "start-from", "", "Resume at this folder, skipping the ones before it")
	bulkImportCmd.Flags().IntVar(&bulkWorkers, "workers", 0, "Profiles imported concurrently per folder (default from config)")
	bulkImportCmd.Flags().StringVar(&bulkOnError, "on-unexpected-error", "", "abort or continue on unexpected profile errors (default from config)")
	bulkImportCmd.Flags().StringVar(&bulkMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, such as :9090")
	bulkImportCmd.MarkFlagRequired("summaries")
	bulkImportCmd.MarkFlagRequired("activities")
	rootCmd.AddCommand(bulkImportCmd)
}

var bulkImportCmd = &cobra.Command{
	Use:   "orcid-bulk-import",
	Short: "Import an ORCID activities dump",
	Long: `Import an ORCID activities dump.

The archive is streamed folder by folder. Works of the current folder are
extracted to a temporary directory, the profiles of that folder are read
from the summaries directory and imported, then the directory is removed.

Examples:
  dissemin orcid-bulk-import --summaries summaries/ --activities activities.tar.gz
  dissemin orcid-bulk-import --summaries summaries/ --activities activities.tar.gz --start-from 042
  dissemin orcid-bulk-import --summaries summaries/ --activities activities.tar.zst --no-papers`,
	Args: cobra.NoArgs,
	RunE: runBulkImport,
}

// BulkImportResult is the response for the orcid-bulk-import command.
type BulkImportResult struct {
	Status string `json:"status"`
	bulkimport.Stats
	Duration string `json:"duration"`
}

func runBulkImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := cfg.Import.Workers
	if bulkWorkers > 0 {
		workers = bulkWorkers
	}
	policyName := cfg.Import.OnUnexpectedError
	if bulkOnError != "" {
		policyName = bulkOnError
	}
	policy, err := bulkimport.ParsePolicy(policyName)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}
	if info, err := os.Stat(bulkSummaries); err != nil || !info.IsDir() {
		exitWithError(ExitDataError, "summaries directory not found: %s", bulkSummaries)
	}

	result, code := bulkImport(ctx, bulkimport.Options{
		SummariesDir: bulkSummaries,
		StartFrom:    bulkStartFrom,
		FetchPapers:  !bulkNoPapers,
		UseDOI:       !bulkNoDOI,
		Workers:      workers,
		OnUnexpected: policy,
		TempDir:      cfg.Import.TempDir,
		Logger:       logger,
	})

	if humanOutput {
		outputHuman("%s after %s\n", result.Status, result.Duration)
		outputHuman("  folders:  %d seen, %d skipped, %d imported\n", result.FoldersSeen, result.FoldersSkipped, result.FoldersImported)
		outputHuman("  profiles: %d read, %d invalid, %d failed\n", result.Profiles, result.InvalidProfiles, result.FailedProfiles)
		outputHuman("  papers:   %d saved, %d works skipped\n", result.Papers, result.SkippedWorks)
	} else {
		outputJSON(result)
	}
	if code != ExitSuccess {
		os.Exit(code)
	}
	return nil
}

// bulkImport runs the archive through a machine built from opts and
// returns the result with its exit code. Every resource it opens is
// closed before it returns.
func bulkImport(ctx context.Context, opts bulkimport.Options) (BulkImportResult, int) {
	stream, closer, err := bulkimport.OpenArchive(bulkActivities)
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}
	defer closer.Close()

	db := mustOpenStore(ctx)
	defer db.Close()

	executor := resilience.NewExecutor(cfg.Resilience, logger)
	sink, closeSink := newNotifier(db, executor)
	defer closeSink()

	opts.Metrics = metrics.NewImportMetrics()
	addr := bulkMetricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		srv := serveMetrics(addr, opts.Metrics)
		defer srv.Shutdown(context.Background())
	}

	opts.Handler = &ingest.Source{
		Engine:   newEngine(db),
		Pipeline: newPipeline(nil, sink, opts.UseDOI),
		Logger:   logger,
		Metrics:  opts.Metrics,
	}

	start := time.Now()
	stats, runErr := bulkimport.NewMachine(opts).Run(ctx, stream)
	result := BulkImportResult{
		Status:   "done",
		Stats:    stats,
		Duration: time.Since(start).Round(time.Second).String(),
	}
	if runErr == nil {
		return result, ExitSuccess
	}

	logger.Error("import stopped", "error", runErr)
	switch {
	case bulkimport.IsArchiveError(runErr):
		result.Status = "archive error"
		return result, ExitDataError
	case errors.Is(runErr, context.Canceled):
		result.Status = "interrupted"
	default:
		result.Status = "aborted"
	}
	return result, ExitError
}

// serveMetrics exposes m on addr until Shutdown.
func serveMetrics(addr string, m *metrics.ImportMetrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}
