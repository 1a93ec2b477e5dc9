// Package verification checks that a configuration reproduces its own
// grouping after a trip through the serializer.
package verification

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"seriesresolver/internal/diag"
	"seriesresolver/pkg/analysis"
	"seriesresolver/pkg/serialization"
)

// Verifier re-derives a configuration from its serialized text and
// re-analyzes every block of a result in isolation.
type Verifier struct {
	analyzer *analysis.Analyzer
	logger   *zap.Logger
}

// New creates a verifier; a nil logger disables logging.
func New(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{analyzer: analysis.NewAnalyzer(logger), logger: logger}
}

// VerifyRoundTrip is New(nil).VerifyRoundTrip.
func VerifyRoundTrip(cfg *analysis.Configuration, result *analysis.AnalysisResult) []diag.Diagnostic {
	return New(nil).VerifyRoundTrip(cfg, result)
}

// VerifyRoundTrip returns one RoundTripMismatch diagnostic per problem found.
// An empty result means every block was reproduced exactly. The diagnostics
// are advisory; callers decide whether to treat them as fatal.
func (v *Verifier) VerifyRoundTrip(cfg *analysis.Configuration, result *analysis.AnalysisResult) []diag.Diagnostic {
	var out []diag.Diagnostic

	original, err := serialization.Serialize(cfg)
	if err != nil {
		return append(out, diag.New(diag.RoundTripMismatch, diag.StageSerialization,
			fmt.Sprintf("configuration %s cannot be serialized: %v", cfg.Label(), err)))
	}

	for _, block := range result.Blocks {
		// Each block gets its own trip through the serializer.
		restored, err := serialization.Deserialize(original)
		if err != nil {
			out = append(out, diag.New(diag.RoundTripMismatch, diag.StageSerialization,
				fmt.Sprintf("block %s: serialized configuration cannot be read back: %v", block.ID(), err),
				block.Handles()...).WithFragment(original))
			continue
		}
		if !restored.Equal(cfg) {
			out = append(out, diag.New(diag.RoundTripMismatch, diag.StageSerialization,
				fmt.Sprintf("block %s: restored configuration differs: %s", block.ID(), cfg.Diff(restored)),
				block.Handles()...).WithFragment(original))
			continue
		}
		reserialized, err := serialization.Serialize(restored)
		if err != nil || reserialized != original {
			out = append(out, diag.New(diag.RoundTripMismatch, diag.StageSerialization,
				fmt.Sprintf("block %s: serialized text is not stable; restored text:\n%s", block.ID(), reserialized),
				block.Handles()...).WithFragment(original))
			continue
		}

		rerun := v.analyzer.Run(restored, block.Files)
		if d := compareBlock(block, rerun); d != nil {
			detail := fmt.Sprintf("%s; original configuration:\n%s\nrestored configuration:\n%s", d.Message, original, reserialized)
			d.Message = detail
			out = append(out, d.WithFragment(original))
		}
	}

	v.logger.Debug("round-trip verification finished",
		zap.String("configuration", cfg.Label()),
		zap.String("fingerprint", serialization.Fingerprint(original)),
		zap.Int("blocks", len(result.Blocks)),
		zap.Int("mismatches", len(out)))
	return out
}

func compareBlock(block *analysis.BlockDescriptor, rerun *analysis.AnalysisResult) *diag.Diagnostic {
	want := block.Handles()
	var msg string
	switch {
	case len(rerun.Blocks) != 1:
		msg = fmt.Sprintf("block %s re-analyzed alone produced %d blocks and %d unassigned files, expected exactly one block",
			block.ID(), len(rerun.Blocks), len(rerun.Unassigned))
	case len(rerun.Unassigned) != 0:
		msg = fmt.Sprintf("block %s re-analyzed alone left %d files unassigned", block.ID(), len(rerun.Unassigned))
	default:
		got := rerun.Blocks[0].Handles()
		if diff := cmp.Diff(want, got); diff != "" {
			msg = fmt.Sprintf("block %s re-analyzed alone changed membership or order (-original +rerun):\n%s", block.ID(), diff)
		}
	}
	if msg == "" {
		return nil
	}
	d := diag.New(diag.RoundTripMismatch, diag.StageVerification, msg, want...)
	return &d
}
