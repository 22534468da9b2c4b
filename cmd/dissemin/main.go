// Package main provides the dissemin CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wetneb/dissemin/internal/catalog"
	"github.com/wetneb/dissemin/internal/config"
	"github.com/wetneb/dissemin/internal/crossref"
	"github.com/wetneb/dissemin/internal/logging"
	"github.com/wetneb/dissemin/internal/notify"
	"github.com/wetneb/dissemin/internal/orcid"
	"github.com/wetneb/dissemin/internal/reconcile"
	"github.com/wetneb/dissemin/internal/resilience"
	"github.com/wetneb/dissemin/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
	logLevel    string

	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dissemin",
	Short: "Build a deduplicated paper catalog from ORCID and Crossref",
	Long: `dissemin ingests the works listed on ORCID profiles, resolves them
against Crossref and stores them in a deduplicated catalog of papers.

Core features:
  - Interactive fetch of one ORCID profile
  - Bulk import of ORCID activities dumps, folder by folder, with resume
  - Post-hoc merge of duplicate papers
  - Catalog export to JSONL or BibTeX

The catalog lives in SQLite by default, or PostgreSQL.
All commands output JSON by default.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/dissemin/config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.Version = Version
}

// setup loads .env, the config file and the logger before any command.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		exitWithError(ExitConfigError, "loading .env: %v", err)
	}

	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.Global()
	}
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger = logging.New(cfg.Log.Format, level, os.Stderr)
	slog.SetDefault(logger)
	return nil
}

// mustOpenStore opens the catalog database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenStore(ctx context.Context) *storage.DB {
	if cfg.Database.Driver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			exitWithError(ExitConfigError, "creating data directory: %v", err)
		}
	}
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		exitWithError(ExitConfigError, "opening %s database: %v", cfg.Database.Driver, err)
	}
	return db
}

// newORCIDClient builds the registry client of the configured instance.
func newORCIDClient(executor *resilience.Executor) *orcid.Client {
	return orcid.NewClient(
		orcid.WithInstance(cfg.ORCIDBaseDomain),
		orcid.WithBaseURL(cfg.ORCIDAPI()),
		orcid.WithRateLimit(cfg.ORCIDRateLimit),
		orcid.WithExecutor(executor),
		orcid.WithLogger(logger),
	)
}

// newPipeline wires the reconciliation pipeline. useDOI false leaves the
// Crossref client out.
func newPipeline(works orcid.WorkFetcher, sink notify.Sink, useDOI bool) *reconcile.Pipeline {
	p := &reconcile.Pipeline{
		Works:    works,
		Notifier: sink,
		Instance: cfg.ORCIDBaseDomain,
		Logger:   logger,
	}
	if useDOI {
		opts := []crossref.ClientOption{
			crossref.WithBaseURL(cfg.CrossrefURL),
			crossref.WithPester(crossref.NewPester(cfg.Resilience.RetryMaxAttempts, cfg.HTTPTimeout)),
			crossref.WithRateLimit(cfg.CrossrefRateLimit),
			crossref.WithLogger(logger),
		}
		if cfg.CrossrefMailto != "" {
			opts = append(opts, crossref.WithMailto(cfg.CrossrefMailto))
		}
		if cfg.DOIProxyURL != "" {
			opts = append(opts, crossref.WithProxyURL(cfg.DOIProxyURL))
		}
		p.Metadata = crossref.NewClient(opts...)
	}
	return p
}

// newNotifier stores notifications in the catalog and, when NATS is
// configured, publishes them too. The returned func closes the NATS
// connection.
func newNotifier(db *storage.DB, executor *resilience.Executor) (notify.Sink, func()) {
	sinks := notify.Fanout{db.Notifications()}
	if cfg.NATS.URL == "" {
		return sinks, func() {}
	}
	ns, err := notify.DialNATS(cfg.NATS.URL, cfg.NATS.Subject, notify.NATSOptions{
		Executor: executor,
		Logger:   logger,
	})
	if err != nil {
		logger.Warn("notifications will not be published", "url", cfg.Redacted().NATS.URL, "error", err)
		return sinks, func() {}
	}
	return append(sinks, ns), func() {
		if err := ns.Close(); err != nil {
			logger.Warn("closing nats connection", "error", err)
		}
	}
}

func newEngine(db *storage.DB) *catalog.Engine {
	return catalog.NewEngine(db, logger)
}
