// Package pipeline wires the resolver end to end: collect inputs, select the
// configuration that explains them best, persist it and verify the round trip.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/logging"
	"seriesresolver/internal/models"
	"seriesresolver/pkg/analysis"
	"seriesresolver/pkg/config"
	"seriesresolver/pkg/dicomtags"
	"seriesresolver/pkg/registry"
	"seriesresolver/pkg/serialization"
	"seriesresolver/pkg/verification"
)

// Params holds the resolution parameters.
type Params struct {
	// Inputs are DICOM files or directories walked recursively. Ignored when
	// Manifest is set.
	Inputs []string

	// Manifest is a YAML file of pre-extracted header values used instead of
	// decoding DICOM files.
	Manifest string

	// Workers bounds how many configurations are analyzed in parallel.
	Workers int

	// PartialCoverage keeps runs that leave files unassigned eligible. The
	// zero value requires every file to be assigned.
	PartialCoverage bool

	// Tolerances override the geometry tolerances of the built-ins.
	Tolerances map[string]float64

	// ConfigurationFiles are serialized configurations registered next to the
	// built-ins; with Exclusive set they replace them.
	ConfigurationFiles []string
	Exclusive          bool

	// OutputFile receives the serialized winning configuration. Empty skips
	// writing.
	OutputFile string

	// DiagnosticLog receives every diagnostic as JSON lines. Empty skips it.
	DiagnosticLog string
}

// ParamsFromConfig builds Params from the application configuration.
func ParamsFromConfig(cfg *config.Config) *Params {
	return &Params{
		Workers:            cfg.Processing.Workers,
		PartialCoverage:    !cfg.Processing.RequireTotalCoverage,
		Tolerances:         cfg.ToleranceOverrides(),
		ConfigurationFiles: cfg.Configurations.Files,
		Exclusive:          cfg.Configurations.Exclusive,
		OutputFile:         cfg.Output.ConfigurationFile,
		DiagnosticLog:      cfg.Output.DiagnosticLog,
	}
}

// Summary is the outcome of one Process call.
type Summary struct {
	RunID      string
	Selection  *registry.Selection
	Serialized string

	// Fingerprint identifies the serialized configuration text.
	Fingerprint string

	// Verification holds the round-trip mismatches; empty means the
	// configuration reproduced every block.
	Verification []diag.Diagnostic

	Duration time.Duration
}

// Configuration returns the winning configuration.
func (s *Summary) Configuration() *analysis.Configuration { return s.Selection.Configuration }

// Result returns the winning analysis.
func (s *Summary) Result() *analysis.AnalysisResult { return s.Selection.Result }

// Diagnostics returns the winning analysis diagnostics followed by the
// verification diagnostics.
func (s *Summary) Diagnostics() []diag.Diagnostic {
	out := append([]diag.Diagnostic{}, s.Result().Diagnostics...)
	return append(out, s.Verification...)
}

// Pipeline runs one resolution.
//
// The process consists of several steps:
// 1. Collecting input files
// 2. Building the configuration registry
// 3. Selecting the best configuration
// 4. Serializing and persisting the winner
// 5. Verifying the round trip
// 6. Writing the diagnostic log
type Pipeline struct {
	params *Params
	logger *zap.Logger
	runID  string

	files []*models.FileDescriptor
}

// NewPipeline creates a pipeline; a nil logger disables logging.
func NewPipeline(params *Params, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	return &Pipeline{
		params: params,
		logger: logger.With(zap.String("run", runID)),
		runID:  runID,
	}
}

// RunID identifies this run in logs and the diagnostic log.
func (p *Pipeline) RunID() string { return p.runID }

// Process runs the complete pipeline. When no configuration qualifies the
// returned error wraps diag.ErrNoViableConfiguration and the diagnostic log,
// if any, records why.
func (p *Pipeline) Process(ctx context.Context) (*Summary, error) {
	start := time.Now()

	// Step 1: Collect input files
	p.logger.Info("step 1: collecting inputs")
	if err := p.collect(); err != nil {
		return nil, fmt.Errorf("failed to collect inputs: %w", err)
	}
	if len(p.files) == 0 {
		return nil, fmt.Errorf("failed to collect inputs: no files found")
	}
	p.logger.Info("inputs collected", zap.Int("files", len(p.files)))

	// Step 2: Build the registry
	p.logger.Info("step 2: building configuration registry")
	reg, err := p.buildRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	// Step 3: Select the best configuration
	p.logger.Info("step 3: selecting configuration", zap.Int("candidates", reg.Len()))
	sel, err := reg.SelectBest(ctx, p.files)
	if err != nil {
		if errors.Is(err, diag.ErrNoViableConfiguration) {
			d := registry.NoViable(sel, p.files)
			if logErr := p.writeDiagnostics("", []diag.Diagnostic{d}); logErr != nil {
				p.logger.Warn("failed to write diagnostic log", zap.Error(logErr))
			}
		}
		return nil, err
	}

	summary := &Summary{RunID: p.runID, Selection: sel}

	// Step 4: Serialize and persist
	p.logger.Info("step 4: serializing configuration", zap.String("configuration", sel.Label()))
	summary.Serialized, err = serialization.Serialize(sel.Configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize configuration: %w", err)
	}
	summary.Fingerprint = serialization.Fingerprint(summary.Serialized)
	if p.params.OutputFile != "" {
		if err := serialization.WriteDocument(p.params.OutputFile, summary.Serialized); err != nil {
			return nil, fmt.Errorf("failed to write configuration: %w", err)
		}
	}

	// Step 5: Verify
	p.logger.Info("step 5: verifying round trip")
	summary.Verification = verification.New(p.logger).VerifyRoundTrip(sel.Configuration, sel.Result)

	// Step 6: Diagnostic log
	if err := p.writeDiagnostics(sel.Label(), summary.Diagnostics()); err != nil {
		return nil, err
	}

	summary.Duration = time.Since(start)
	p.logger.Info("resolution finished",
		zap.String("configuration", sel.Label()),
		zap.Int("blocks", len(sel.Result.Blocks)),
		zap.Int("unassigned", len(sel.Result.Unassigned)),
		zap.Int("mismatches", len(summary.Verification)),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (p *Pipeline) collect() error {
	if p.params.Manifest != "" {
		m, err := dicomtags.LoadManifest(p.params.Manifest)
		if err != nil {
			return err
		}
		p.files = m.Files()
		return nil
	}
	handles, err := dicomtags.Collect(p.params.Inputs...)
	if err != nil {
		return err
	}
	p.files = models.NewFileSet(handles, dicomtags.NewFileReader(p.logger))
	return nil
}

func (p *Pipeline) buildRegistry() (*registry.Registry, error) {
	opts := []registry.Option{
		registry.WithLogger(p.logger),
		registry.WithWorkers(p.params.Workers),
		registry.WithBuiltinTolerances(p.params.Tolerances),
	}
	if p.params.PartialCoverage {
		opts = append(opts, registry.WithPartialCoverage())
	}
	if p.params.Exclusive {
		opts = append(opts, registry.WithoutBuiltins())
	}
	reg := registry.New(opts...)
	for _, path := range p.params.ConfigurationFiles {
		cfg, err := serialization.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (p *Pipeline) writeDiagnostics(label string, ds []diag.Diagnostic) error {
	if p.params.DiagnosticLog == "" || len(ds) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.params.DiagnosticLog), 0755); err != nil {
		return fmt.Errorf("failed to create diagnostic log directory: %w", err)
	}
	l, err := logging.NewDiagnosticLog(p.params.DiagnosticLog)
	if err != nil {
		return err
	}
	l.Write(p.runID, label, ds)
	return l.Close()
}
