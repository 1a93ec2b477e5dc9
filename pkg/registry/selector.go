package registry

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
	"seriesresolver/pkg/analysis"
)

// Candidate is the outcome of one configuration during a selection.
type Candidate struct {
	Configuration *analysis.Configuration
	Result        *analysis.AnalysisResult

	// Qualified is false when the run was disqualified; Reason says why.
	Qualified bool
	Reason    string
}

// Label returns the candidate's configuration label.
func (c Candidate) Label() string { return c.Configuration.Label() }

// Selection is the winner of SelectBest plus every candidate considered,
// ordered by label.
type Selection struct {
	Configuration *analysis.Configuration
	Result        *analysis.AnalysisResult
	Candidates    []Candidate
}

// Label returns the winning configuration label.
func (s *Selection) Label() string { return s.Configuration.Label() }

// SelectBest analyzes files with every registered configuration and returns
// the qualified run with the fewest blocks. Ties are broken by lexical label
// order so the choice is reproducible.
func (r *Registry) SelectBest(ctx context.Context, files []*models.FileDescriptor) (*Selection, error) {
	configs := r.Configurations()
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: registry is empty", diag.ErrNoViableConfiguration)
	}

	analyzer := analysis.NewAnalyzer(r.logger)
	results := make([]*analysis.AnalysisResult, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	workers := r.workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(min(workers, len(configs)))
	for i, cfg := range configs {
		i, cfg := i, cfg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = analyzer.Run(cfg, files)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Ranking starts only after every branch finished.
	sel := &Selection{Candidates: make([]Candidate, len(configs))}
	best := -1
	for i, cfg := range configs {
		c := Candidate{Configuration: cfg, Result: results[i], Qualified: true}
		switch {
		case len(c.Result.Blocks) == 0:
			c.Qualified, c.Reason = false, "no blocks"
		case !r.partialCoverage && !c.Result.Covered():
			c.Qualified, c.Reason = false, fmt.Sprintf("%d unassigned files", len(c.Result.Unassigned))
		}
		sel.Candidates[i] = c
		r.logger.Debug("candidate analyzed",
			zap.String("configuration", cfg.Label()),
			zap.Int("blocks", len(c.Result.Blocks)),
			zap.Int("unassigned", len(c.Result.Unassigned)),
			zap.Bool("qualified", c.Qualified),
			zap.String("reason", c.Reason))

		if c.Qualified && (best < 0 || better(c, sel.Candidates[best])) {
			best = i
		}
	}

	if best < 0 {
		reasons := make([]string, len(sel.Candidates))
		for i, c := range sel.Candidates {
			reasons[i] = c.Label() + ": " + c.Reason
		}
		return sel, fmt.Errorf("%w: %s", diag.ErrNoViableConfiguration, strings.Join(reasons, "; "))
	}
	sel.Configuration = sel.Candidates[best].Configuration
	sel.Result = sel.Candidates[best].Result
	r.logger.Info("configuration selected",
		zap.String("configuration", sel.Label()),
		zap.Int("blocks", len(sel.Result.Blocks)),
		zap.Int("candidates", len(configs)))
	return sel, nil
}

// better reports whether a ranks strictly before b. Candidates arrive in
// label order, so equal ranks keep the lexically smaller label.
func better(a, b Candidate) bool {
	if ua, ub := len(a.Result.Unassigned), len(b.Result.Unassigned); ua != ub {
		return ua < ub
	}
	if na, nb := len(a.Result.Blocks), len(b.Result.Blocks); na != nb {
		return na < nb
	}
	return a.Label() < b.Label()
}

// NoViable builds the diagnostic reported when SelectBest fails with
// diag.ErrNoViableConfiguration.
func NoViable(sel *Selection, files []*models.FileDescriptor) diag.Diagnostic {
	var b strings.Builder
	b.WriteString("every configuration was disqualified")
	if sel != nil {
		for _, c := range sel.Candidates {
			fmt.Fprintf(&b, "; %s: %s", c.Label(), c.Reason)
		}
	}
	return diag.New(diag.NoViableConfiguration, diag.StageSelection, b.String(), models.Handles(files)...)
}
