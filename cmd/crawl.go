package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/api"
	"github.com/JakeFAU/sitemirror/internal/pipeline"
	"github.com/JakeFAU/sitemirror/internal/progress"
)

const consoleCloseTimeout = 2 * time.Second

// newCrawlCmd runs download, process and write in order.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run all phases: download, process, write",
		Long: `Downloads every reachable item from the start URIs, computes mirror
paths and writes the rewritten tree. Items finished by a previous run are
skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperation(cmd, func(ctx context.Context, op *pipeline.Operation) ([]pipeline.Summary, error) {
				return op.Run(ctx)
			})
		},
	}
}

// newPhaseCmd runs a single phase against the stored state.
func newPhaseCmd(phase pipeline.Phase, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(phase),
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperation(cmd, func(ctx context.Context, op *pipeline.Operation) ([]pipeline.Summary, error) {
				var (
					s   pipeline.Summary
					err error
				)
				switch phase {
				case pipeline.PhaseDownload:
					s, err = op.Download(ctx)
				case pipeline.PhaseProcess:
					s, err = op.Process(ctx)
				case pipeline.PhaseWrite:
					s, err = op.Write(ctx)
				default:
					return nil, fmt.Errorf("unknown phase %q", phase)
				}
				return []pipeline.Summary{s}, err
			})
		},
	}
}

// runOperation builds the pipeline, attaches the optional progress console
// and status server, runs fn and prints the phase summaries.
func runOperation(cmd *cobra.Command, fn func(context.Context, *pipeline.Operation) ([]pipeline.Summary, error)) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	var (
		reporter pipeline.Reporter
		console  *progress.Console
	)
	if cfg.Progress.Enabled {
		console = progress.NewConsole(progress.Config{Out: cmd.ErrOrStderr(), RunID: appInstance.RunID()})
		reporter = console
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), consoleCloseTimeout)
			defer cancel()
			if cerr := console.Close(closeCtx); cerr != nil {
				logger.Warn("progress console did not stop", zap.Error(cerr))
			}
		}()
	}

	op, err := appInstance.Operation(ctx, reporter)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srvCtx, stopServer := context.WithCancel(ctx)
		srvErr := make(chan error, 1)
		srv := api.NewServer(op, api.Options{
			RunID:  appInstance.RunID(),
			APIKey: cfg.Server.APIKey,
			Logger: logger.Named("api"),
		})
		go func() { srvErr <- srv.Serve(srvCtx, fmt.Sprintf(":%d", cfg.Server.Port)) }()
		defer func() {
			stopServer()
			if serr := <-srvErr; serr != nil {
				logger.Warn("status server stopped with error", zap.Error(serr))
			}
		}()
	}

	summaries, err := fn(ctx, op)
	if console == nil {
		for _, s := range summaries {
			fmt.Fprintln(cmd.OutOrStdout(), s.String())
		}
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", cmd.Name(), err)
	}
	return nil
}
