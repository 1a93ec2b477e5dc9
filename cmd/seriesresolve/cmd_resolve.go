package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"seriesresolver/internal/diag"
	"seriesresolver/pkg/analysis"
	"seriesresolver/pkg/pipeline"
)

var (
	manifestPath string
	outputPath   string
	diagLogPath  string
	workers      int
	partial      bool
	extraConfigs []string
	exclusive    bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [paths...]",
	Short: "Select the configuration that best explains the input files",
	Long: `Analyzes the input files with every registered configuration, keeps the
qualified run with the fewest blocks, writes the winning configuration and
re-checks it after a round trip through the serializer.

Inputs are DICOM files or directories. With --manifest, header values come from
a YAML manifest instead:

  files:
    slice-001.dcm:
      SeriesInstanceUID: 1.2.3
      InstanceNumber: "1"

Exit status is 1 on failure and 2 when round-trip verification reports
mismatches.`,
	RunE: runResolve,
}

func init() {
	addResolveFlags(resolveCmd)
	resolveCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML manifest of header values")
	resolveCmd.Flags().StringSliceVar(&extraConfigs, "with", nil, "Additional serialized configurations to try")
	resolveCmd.Flags().BoolVar(&exclusive, "exclusive", false, "Try only the --with configurations")
}

// addResolveFlags registers the flags shared by resolve and watch.
func addResolveFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Where to write the winning configuration (overrides config)")
	cmd.Flags().StringVar(&diagLogPath, "diagnostics", "", "JSON diagnostic log (overrides config)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Configurations analyzed in parallel (overrides config)")
	cmd.Flags().BoolVar(&partial, "partial", false, "Accept runs that leave files unassigned")
}

// paramsFromFlags merges the application config with the command flags.
func paramsFromFlags(cmd *cobra.Command, args []string) *pipeline.Params {
	params := pipeline.ParamsFromConfig(cfg)
	params.Inputs = args
	params.Manifest = manifestPath
	if cmd.Flags().Changed("output") {
		params.OutputFile = outputPath
	}
	if cmd.Flags().Changed("diagnostics") {
		params.DiagnosticLog = diagLogPath
	}
	if workers > 0 {
		params.Workers = workers
	}
	if partial {
		params.PartialCoverage = true
	}
	params.ConfigurationFiles = append(append([]string{}, params.ConfigurationFiles...), extraConfigs...)
	if exclusive {
		params.Exclusive = true
	}
	return params
}

func runResolve(cmd *cobra.Command, args []string) error {
	if manifestPath == "" && len(args) == 0 {
		return fmt.Errorf("no inputs: pass DICOM paths or --manifest")
	}

	params := paramsFromFlags(cmd, args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p := pipeline.NewPipeline(params, logger)
	summary, err := p.Process(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSummary(out, summary, params.OutputFile)
	if len(summary.Verification) > 0 {
		return fmt.Errorf("%w: %d mismatches", errVerification, len(summary.Verification))
	}
	return nil
}

func printSummary(w io.Writer, s *pipeline.Summary, outputFile string) {
	res := s.Result()
	headerColor.Fprintln(w, "Resolution")
	fmt.Fprintf(w, "  run:           %s\n", s.RunID)
	fmt.Fprintf(w, "  configuration: %s\n", labelColor.Sprint(s.Configuration().Label()))
	fmt.Fprintf(w, "  fingerprint:   %s\n", s.Fingerprint)
	fmt.Fprintf(w, "  files:         %d\n", res.FileCount())
	fmt.Fprintf(w, "  blocks:        %d\n", len(res.Blocks))
	if len(res.Unassigned) > 0 {
		warnColor.Fprintf(w, "  unassigned:    %d\n", len(res.Unassigned))
	}
	if outputFile != "" {
		fmt.Fprintf(w, "  written to:    %s\n", outputFile)
	}

	fmt.Fprintln(w)
	headerColor.Fprintln(w, "Candidates")
	for _, c := range s.Selection.Candidates {
		mark := okColor.Sprint("ok  ")
		if !c.Qualified {
			mark = subtleColor.Sprint("skip")
		}
		line := fmt.Sprintf("  %s %-36s blocks=%d unassigned=%d", mark, c.Label(), len(c.Result.Blocks), len(c.Result.Unassigned))
		if c.Reason != "" {
			line += subtleColor.Sprintf(" (%s)", c.Reason)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	headerColor.Fprintln(w, "Blocks")
	for _, b := range res.Blocks {
		fmt.Fprintf(w, "  %s  %d files", labelColor.Sprint(b.ID()), b.Len())
		var tags []string
		for _, name := range []string{analysis.DerivedNumberOfTimeSteps, analysis.DerivedSpacingBetweenSlices, analysis.DerivedGantryTilt} {
			if v, ok := b.Tag(name); ok {
				tags = append(tags, name+"="+v)
			}
		}
		if len(tags) > 0 {
			fmt.Fprintf(w, "  %s", subtleColor.Sprint(strings.Join(tags, " ")))
		}
		fmt.Fprintln(w)
		for _, e := range b.ValidationErrors {
			warnColor.Fprintf(w, "    ! %s\n", e.Message)
		}
	}

	if ds := s.Diagnostics(); len(ds) > 0 {
		fmt.Fprintln(w)
		headerColor.Fprintln(w, "Diagnostics")
		for _, d := range ds {
			c := warnColor
			if d.Severity == diag.SevError {
				c = errorColor
			}
			c.Fprintf(w, "  %s: %s\n", d.Kind, d.Message)
		}
	}
}
