package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seriesresolver/internal/diag"
	"seriesresolver/pkg/pipeline"
)

var debounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Resolve a directory again whenever its contents settle after a change",
	Long: `Resolves the directories once, then watches them and runs a new resolution
after files stop changing for the debounce window. Failed runs are reported and
watching continues.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	addResolveFlags(watchCmd)
	watchCmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "Quiet period before resolving again")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	resolve := func(ctx context.Context) {
		params := paramsFromFlags(cmd, args)
		summary, err := pipeline.NewPipeline(params, logger).Process(ctx)
		switch {
		case err == nil:
			printSummary(out, summary, params.OutputFile)
		case errors.Is(err, diag.ErrNoViableConfiguration):
			warnColor.Fprintf(out, "%v\n", err)
		case errors.Is(err, context.Canceled):
		default:
			errorColor.Fprintf(out, "error: %v\n", err)
		}
		fmt.Fprintln(out)
	}

	w, err := pipeline.NewWatcher(args, debounce, logger, func(ctx context.Context, paths []string) {
		logger.Info("inputs changed", zap.Int("paths", len(paths)))
		resolve(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to watch inputs: %w", err)
	}

	resolve(ctx)
	subtleColor.Fprintf(out, "watching %d directories, Ctrl-C to stop\n", len(w.Watched()))
	return w.Run(ctx)
}
