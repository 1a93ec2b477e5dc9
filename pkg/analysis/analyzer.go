package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
	"seriesresolver/pkg/criterion"
)

// Analyzer applies one Configuration to a file set. It holds no per-run
// state, so one Analyzer may serve concurrent runs.
type Analyzer struct {
	logger *zap.Logger
}

// NewAnalyzer creates an analyzer; a nil logger disables logging.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger}
}

type run struct {
	cfg    *Configuration
	log    *zap.Logger
	result *AnalysisResult
}

func (r *run) demote(files []*models.FileDescriptor, d diag.Diagnostic) {
	r.result.Unassigned = append(r.result.Unassigned, files...)
	r.result.Diagnostics = append(r.result.Diagnostics, d)
	r.log.Debug("demoted files",
		zap.Int("files", len(files)),
		zap.Object("diagnostic", d))
}

// Run resolves files into blocks. The result depends only on cfg and the
// set of files, not on their order in the slice.
func (a *Analyzer) Run(cfg *Configuration, files []*models.FileDescriptor) *AnalysisResult {
	r := &run{
		cfg:    cfg,
		log:    a.logger.With(zap.String("configuration", cfg.Label())),
		result: &AnalysisResult{ConfigurationLabel: cfg.Label()},
	}

	// Step 1: one partition holding every file, in canonical order
	input := append([]*models.FileDescriptor(nil), files...)
	models.SortByHandle(input)
	var partitions [][]*models.FileDescriptor
	if len(input) > 0 {
		partitions = append(partitions, input)
	}

	// Step 2: refine partitions with each grouping criterion
	for step, c := range cfg.spec.Grouping {
		var next [][]*models.FileDescriptor
		for _, p := range partitions {
			ref := refine(c, p)
			next = append(next, ref.Groups...)
			for _, iso := range ref.Isolated {
				r.demote(iso.Files, iso.Diagnostic)
			}
		}
		sort.SliceStable(next, func(i, j int) bool {
			return next[i][0].Handle() < next[j][0].Handle()
		})
		partitions = next
		r.log.Debug("grouping step",
			zap.Int("step", step+1),
			zap.String("criterion", c.String()),
			zap.Int("partitions", len(partitions)))
	}

	// Steps 3 and 4: order each partition, split repeated positions into time
	// steps when condensing, then derive and check geometry
	for _, p := range partitions {
		ordered, d := r.order(p)
		if d != nil {
			r.demote(p, *d)
			continue
		}
		stacks, d := r.timeSteps(ordered)
		if d != nil {
			r.demote(p, *d)
			continue
		}
		block, d := r.describe(stacks)
		if d != nil {
			r.demote(p, *d)
			continue
		}
		r.result.Blocks = append(r.result.Blocks, block)
	}

	// Step 5
	r.result.canonicalize()
	r.log.Debug("analysis finished",
		zap.Int("blocks", len(r.result.Blocks)),
		zap.Int("unassigned", len(r.result.Unassigned)),
		zap.Int("diagnostics", len(r.result.Diagnostics)))
	return r.result
}

func refine(c criterion.Criterion, p []*models.FileDescriptor) criterion.Refinement {
	switch c := c.(type) {
	case criterion.EqualTag:
		return c.Refine(p)
	case criterion.EqualGeometry:
		return c.Refine(p)
	case criterion.CountBound:
		return c.Refine(p)
	case criterion.MonotonicTag, criterion.PositionAlongNormal:
		panic(fmt.Sprintf("analysis: %s is not a grouping criterion", c.Kind()))
	default:
		panic(fmt.Sprintf("analysis: unhandled criterion %T", c))
	}
}

// order applies the sorting chain. Each key criterion only reorders runs the
// previous criteria left tied; runs still tied after the whole chain are a
// SortKeyConflict.
func (r *run) order(p []*models.FileDescriptor) ([]*models.FileDescriptor, *diag.Diagnostic) {
	order := append([]*models.FileDescriptor(nil), p...)
	var ties [][2]int
	if len(order) > 1 {
		ties = [][2]int{{0, len(order)}}
	}
	var last criterion.Criterion

	for _, c := range r.cfg.spec.Sorting {
		var keysOf func([]*models.FileDescriptor) ([]float64, *diag.Diagnostic)
		switch c := c.(type) {
		case criterion.CountBound:
			if d := c.Check(order, diag.StageSorting); d != nil {
				return nil, d
			}
			continue
		case criterion.MonotonicTag:
			keysOf = c.Keys
		case criterion.PositionAlongNormal:
			keysOf = c.Keys
		case criterion.EqualTag, criterion.EqualGeometry:
			panic(fmt.Sprintf("analysis: %s is not a sorting criterion", c.Kind()))
		default:
			panic(fmt.Sprintf("analysis: unhandled criterion %T", c))
		}

		last = c
		var next [][2]int
		for _, t := range ties {
			seg := order[t[0]:t[1]]
			keys, d := keysOf(seg)
			if d != nil {
				return nil, d
			}
			o := criterion.OrderBy(seg, keys)
			copy(seg, o.Files)
			for _, st := range o.Ties {
				next = append(next, [2]int{t[0] + st[0], t[0] + st[1]})
			}
		}
		ties = next
	}

	if last != nil && len(ties) > 0 {
		d := criterion.SortConflict(last, criterion.Ordering{Files: order, Ties: ties})
		d.Message = fmt.Sprintf("%s; sorting chain [%s] cannot break the tie", d.Message, r.sortingChain())
		return nil, &d
	}
	return order, nil
}

func (r *run) sortingChain() string {
	parts := make([]string, len(r.cfg.spec.Sorting))
	for i, c := range r.cfg.spec.Sorting {
		parts[i] = c.String()
	}
	return strings.Join(parts, " > ")
}

// timeSteps splits an ordered partition into stacks that each visit every
// slice position once. Without condensing the partition is its own single
// stack. The k-th file at each position belongs to time step k, so the
// sorting criteria after the position decide the temporal order.
func (r *run) timeSteps(ordered []*models.FileDescriptor) ([][]*models.FileDescriptor, *diag.Diagnostic) {
	if !r.cfg.spec.Condense || len(ordered) < 2 {
		return [][]*models.FileDescriptor{ordered}, nil
	}
	keys, d := r.cfg.spec.Sorting[0].(criterion.PositionAlongNormal).Keys(ordered)
	if d != nil {
		return nil, d
	}

	var runs [][2]int
	start := 0
	for i := 1; i <= len(ordered); i++ {
		if i < len(ordered) && criterion.Tied(keys[i-1], keys[i]) {
			continue
		}
		runs = append(runs, [2]int{start, i})
		start = i
	}
	steps := runs[0][1] - runs[0][0]
	for _, span := range runs[1:] {
		if n := span[1] - span[0]; n != steps {
			d := diag.New(diag.GeometryInconsistent, diag.StageGeometry,
				fmt.Sprintf("slice positions repeat unevenly: %d time steps at the first position, %d at another", steps, n),
				models.Handles(ordered[span[0]:span[1]])...)
			return nil, &d
		}
	}

	stacks := make([][]*models.FileDescriptor, steps)
	for k := range stacks {
		stacks[k] = make([]*models.FileDescriptor, len(runs))
		for i, span := range runs {
			stacks[k][i] = ordered[span[0]+k]
		}
	}
	return stacks, nil
}

// describe builds the block for the time steps of a partition and verifies
// that each step forms a consistent stack. Position-derived tags come from the
// first step.
func (r *run) describe(stacks [][]*models.FileDescriptor) (*BlockDescriptor, *diag.Diagnostic) {
	files := make([]*models.FileDescriptor, 0, len(stacks)*len(stacks[0]))
	for _, s := range stacks {
		files = append(files, s...)
	}
	b := &BlockDescriptor{
		ConfigurationLabel: r.cfg.Label(),
		Files:              files,
		DerivedTags:        map[string]string{DerivedNumberOfSlices: strconv.Itoa(len(stacks[0]))},
	}
	if r.cfg.spec.Condense {
		b.DerivedTags[DerivedNumberOfTimeSteps] = strconv.Itoa(len(stacks))
	}
	first := files[0]

	for _, c := range r.cfg.spec.Grouping {
		switch c := c.(type) {
		case criterion.EqualTag:
			if v, ok := first.Lookup(c.Tag); ok {
				b.DerivedTags[c.Tag.DisplayName()] = v
			}
		case criterion.EqualGeometry:
			for _, t := range []models.Tag{models.ImageOrientationPatient, models.PixelSpacing, models.Rows, models.Columns} {
				if v, ok := first.Lookup(t); ok {
					b.DerivedTags[t.DisplayName()] = v
				}
			}
		case criterion.CountBound:
		default:
			panic(fmt.Sprintf("analysis: unhandled criterion %T", c))
		}
	}

	for k, stack := range stacks {
		positions, normal, ok := stackGeometry(stack)
		if !ok {
			b.ValidationErrors = append(b.ValidationErrors, diag.Warning(diag.GeometryInconsistent, diag.StageGeometry,
				"position or orientation unavailable for some slices; spacing not verified",
				models.Handles(files)...))
			return b, nil
		}
		if k == 0 {
			b.DerivedTags[DerivedOrigin] = formatVec(positions[0])
			b.DerivedTags[DerivedSliceNormal] = formatVec(normal)
		}
		if len(stack) < 2 {
			continue
		}

		gaps := make([]float64, len(positions)-1)
		for i := 1; i < len(positions); i++ {
			gaps[i-1] = r3.Dot(r3.Sub(positions[i], positions[i-1]), normal)
		}
		if d := r.checkSpacing(stack, gaps); d != nil {
			return nil, d
		}
		if d := r.checkOrigins(stack, positions, gaps); d != nil {
			return nil, d
		}
		if k > 0 {
			continue
		}

		b.DerivedTags[DerivedSpacingBetweenSlices] = strconv.FormatFloat(meanAbs(gaps), 'g', -1, 64)
		dir := r3.Unit(r3.Sub(positions[1], positions[0]))
		cos := math.Min(1, math.Abs(r3.Dot(dir, normal)))
		if tilt := math.Acos(cos) * 180 / math.Pi; tilt > 1e-3 {
			b.DerivedTags[DerivedGantryTilt] = strconv.FormatFloat(tilt, 'f', 3, 64)
		}
	}
	return b, nil
}

func meanAbs(v []float64) float64 {
	abs := make([]float64, len(v))
	for i, x := range v {
		abs[i] = math.Abs(x)
	}
	return stat.Mean(abs, nil)
}

func (r *run) checkSpacing(files []*models.FileDescriptor, gaps []float64) *diag.Diagnostic {
	tol := r.cfg.Tolerance(ToleranceSpacing)
	for i, g := range gaps {
		if math.Abs(g) <= criterion.KeyEpsilon {
			d := diag.New(diag.GeometryInconsistent, diag.StageGeometry,
				"consecutive slices share the same position",
				files[i].Handle(), files[i+1].Handle())
			return &d
		}
		if (g > 0) != (gaps[0] > 0) {
			d := diag.New(diag.GeometryInconsistent, diag.StageGeometry,
				"slice order is not monotonic along the slice normal",
				files[i].Handle(), files[i+1].Handle())
			return &d
		}
	}

	abs := make([]float64, len(gaps))
	for i, g := range gaps {
		abs[i] = math.Abs(g)
	}
	mean := meanAbs(gaps)
	dev := make([]float64, len(abs))
	for i, a := range abs {
		dev[i] = math.Abs(a - mean)
	}
	if worst := floats.Max(dev); worst > tol {
		i := floats.MaxIdx(dev)
		d := diag.New(diag.GeometryInconsistent, diag.StageGeometry,
			fmt.Sprintf("inter-slice distance %.4g deviates %.4g mm from mean %.4g (tolerance %g)", abs[i], worst, mean, tol),
			files[i].Handle(), files[i+1].Handle())
		d = d.WithFragment(fmt.Sprintf("%s: %g", ToleranceSpacing, tol))
		return &d
	}
	return nil
}

// originTolerance is the absolute origin tolerance, or the adaptive fraction
// of the mean inter-slice distance when one is configured. The second result
// names the setting for diagnostics.
func (r *run) originTolerance(gaps []float64) (float64, string) {
	if frac, ok := r.cfg.spec.Tolerances[ToleranceOriginAdaptive]; ok {
		return frac * meanAbs(gaps), fmt.Sprintf("%s: %g", ToleranceOriginAdaptive, frac)
	}
	tol := r.cfg.Tolerance(ToleranceOrigin)
	return tol, fmt.Sprintf("%s: %g", ToleranceOrigin, tol)
}

func (r *run) checkOrigins(files []*models.FileDescriptor, positions []r3.Vec, gaps []float64) *diag.Diagnostic {
	if len(positions) < 3 {
		return nil
	}
	tol, setting := r.originTolerance(gaps)
	dir := r3.Unit(r3.Sub(positions[1], positions[0]))
	for i := 2; i < len(positions); i++ {
		off := r3.Norm(r3.Cross(r3.Sub(positions[i], positions[0]), dir))
		if off > tol {
			d := diag.New(diag.GeometryInconsistent, diag.StageGeometry,
				fmt.Sprintf("slice origin lies %.4g mm off the stack axis (tolerance %.4g)", off, tol),
				files[i].Handle())
			d = d.WithFragment(setting)
			return &d
		}
	}
	return nil
}

// stackGeometry returns the positions of files and the normal of the first
// file, or ok == false when any of them is unavailable.
func stackGeometry(files []*models.FileDescriptor) ([]r3.Vec, r3.Vec, bool) {
	normal, ok := criterion.Normal(files[0])
	if !ok {
		return nil, r3.Vec{}, false
	}
	positions := make([]r3.Vec, len(files))
	for i, f := range files {
		p, ok := criterion.Position(f)
		if !ok {
			return nil, r3.Vec{}, false
		}
		positions[i] = p
	}
	return positions, normal, true
}

func formatVec(v r3.Vec) string {
	return strings.Join([]string{
		strconv.FormatFloat(v.X, 'g', -1, 64),
		strconv.FormatFloat(v.Y, 'g', -1, 64),
		strconv.FormatFloat(v.Z, 'g', -1, 64),
	}, `\`)
}
