// Command seriesresolve groups DICOM files into ordered volume blocks, picks
// the configuration that explains them with the fewest blocks and writes it
// out for reuse.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seriesresolver/internal/logging"
	"seriesresolver/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config

	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed, color.Bold)
	labelColor  = color.New(color.FgBlue, color.Bold)
	subtleColor = color.New(color.Faint)
)

// errVerification marks a run whose configuration did not survive the
// round trip; main maps it to exit status 2.
var errVerification = errors.New("round-trip verification failed")

var rootCmd = &cobra.Command{
	Use:   "seriesresolve",
	Short: "Resolve DICOM files into ordered volume blocks",
	Long: `seriesresolve tries a registry of grouping/sorting configurations against a
set of DICOM files, keeps the one that explains them with the fewest blocks and
writes it as a YAML document that reproduces the same grouping later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(verbose || cfg.Output.Verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "seriesresolve.yaml", "Application config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(builtinsCmd)
	rootCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errVerification) {
			errorColor.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		errorColor.Fprintln(os.Stderr, fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}
