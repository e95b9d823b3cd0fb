// Package cmd defines and implements the CLI commands for the sitemirror executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/app"
	"github.com/JakeFAU/sitemirror/internal/config"
	"github.com/JakeFAU/sitemirror/internal/logging"
	"github.com/JakeFAU/sitemirror/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. Tests inject a fake through newApp.
type App interface {
	Logger() *zap.Logger
	RunID() string
	Store() app.Store
	Config() config.Config
	Operation(ctx context.Context, reporter pipeline.Reporter) (*pipeline.Operation, error)
	Close() error
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// flagKeys maps persistent flags to the config keys they override.
var flagKeys = map[string]string{
	"start":       "crawl.start_uris",
	"restrict":    "crawl.restrictions",
	"concurrency": "crawl.concurrency",
	"store":       "store.driver",
	"store-dir":   "store.dir",
	"output":      "output.driver",
	"output-dir":  "output.dir",
	"proxies":     "proxy.enabled",
	"serve":       "server.enabled",
	"port":        "server.port",
	"progress":    "progress.enabled",
	"log-level":   "logging.level",
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sitemirror",
		Short: "Mirror a website into a local or cloud tree.",
		Long: `sitemirror downloads every reachable page of a site within the configured
restrictions, rewrites cross-links to the mirror's own paths and writes the
result to a filesystem or a GCS bucket. State is checkpointed so an
interrupted run resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand: loads config and injects the app.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, config.WithFlags(cmd.Flags(), flagKeys))
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.StringSlice("start", nil, "start URI (repeatable)")
	flags.StringSlice("restrict", nil, "restriction such as prefix:https://example.com/docs/ (repeatable)")
	flags.Int("concurrency", 0, "items handled in parallel")
	flags.String("store", "", "state store driver: memory, fs, sqlite or postgres")
	flags.String("store-dir", "", "directory of the fs or sqlite store")
	flags.String("output", "", "output driver: fs or gcs")
	flags.String("output-dir", "", "root directory of the fs output")
	flags.Bool("proxies", false, "route downloads through the stored proxy pool")
	flags.Bool("serve", false, "expose health, metrics and status over HTTP while running")
	flags.Int("port", 0, "status server port")
	flags.Bool("progress", false, "render live progress on stderr")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	cmd.AddCommand(
		newCrawlCmd(),
		newPhaseCmd(pipeline.PhaseDownload, "Download pending items and discover links"),
		newPhaseCmd(pipeline.PhaseProcess, "Compute the mirror URI of every downloaded item"),
		newPhaseCmd(pipeline.PhaseWrite, "Rewrite links and write processed items to the output"),
		newProxyCmd(),
		newClearCmd(),
		newStatusCmd(),
	)
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// phase; state is checkpointed before exit.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted; progress saved")
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
