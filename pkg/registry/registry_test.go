package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
	"seriesresolver/internal/testutil"
	"seriesresolver/pkg/analysis"
	"seriesresolver/pkg/criterion"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBuiltins(t *testing.T) {
	configs := Builtins(nil)
	require.Len(t, configs, 6)
	for i := 1; i < len(configs); i++ {
		assert.Less(t, configs[i-1].Label(), configs[i].Label())
	}
	for _, c := range configs {
		assert.NotEmpty(t, c.Description(), c.Label())
		assert.Empty(t, c.Tolerances(), c.Label())
	}

	tuned := Builtins(map[string]float64{analysis.ToleranceSpacing: 0.5})
	for _, c := range tuned {
		assert.Equal(t, 0.5, c.Tolerance(analysis.ToleranceSpacing))
	}

	// fresh copies every call
	assert.NotSame(t, configs[0], Builtins(nil)[0])
	assert.True(t, configs[0].Equal(Builtins(nil)[0]))
}

func TestRegister(t *testing.T) {
	r := New(WithLogger(zaptest.NewLogger(t)))
	require.Equal(t, 6, r.Len())

	same, ok := r.Lookup(LabelSeriesInstance)
	require.True(t, ok)
	assert.NoError(t, r.Register(Builtins(nil)[2]))
	assert.Equal(t, 6, r.Len())

	clash := analysis.NewBuilder(same.Label()).
		GroupBy(criterion.EqualTag{Tag: models.SeriesNumber}).
		MustBuild()
	assert.ErrorIs(t, r.Register(clash), diag.ErrDuplicateLabel)

	// a new description alone does not change what the label resolves to
	redescribed := analysis.NewBuilder(same.Label()).
		Describe("same chains, other words").
		GroupBy(same.Grouping()...).
		SortBy(same.Sorting()...).
		MustBuild()
	require.NoError(t, r.Register(redescribed))
	assert.Equal(t, 6, r.Len())
	kept, _ := r.Lookup(same.Label())
	assert.Same(t, same, kept)

	alias := analysis.NewBuilder("alias").
		GroupBy(same.Grouping()...).
		SortBy(same.Sorting()...).
		MustBuild()
	require.NoError(t, r.Register(alias))
	assert.Equal(t, 7, r.Len())
	assert.Equal(t, "alias", r.Labels()[0])

	empty := New(WithoutBuiltins())
	assert.Zero(t, empty.Len())
	assert.Empty(t, empty.Configurations())
}

func TestRegisterAliasWarningNamesFirstLabel(t *testing.T) {
	for i := 0; i < 10; i++ {
		core, logs := observer.New(zap.WarnLevel)
		r := New(WithLogger(zap.New(core)))
		base, _ := r.Lookup(LabelSeriesInstance)
		alias := func(label string) *analysis.Configuration {
			return analysis.NewBuilder(label).
				GroupBy(base.Grouping()...).
				SortBy(base.Sorting()...).
				MustBuild()
		}
		require.NoError(t, r.Register(alias("b-alias")))
		require.NoError(t, r.Register(alias("z-alias")))

		entries := logs.FilterMessage("configuration behaves like an existing one").All()
		require.Len(t, entries, 2)
		assert.Equal(t, LabelSeriesInstance, entries[0].ContextMap()["existing"])
		assert.Equal(t, "b-alias", entries[1].ContextMap()["existing"])
	}
}

func TestSelectBestTwoInterleavedSeries(t *testing.T) {
	set := testutil.NewSet().Interleaved("f", 100, 1.5, "1.2.840.1", "1.2.840.2")
	files := set.Shuffled(3)

	r := New(WithLogger(zaptest.NewLogger(t)))
	sel, err := r.SelectBest(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, LabelSeriesInstance, sel.Label())
	require.Len(t, sel.Result.Blocks, 2)
	for _, b := range sel.Result.Blocks {
		assert.Equal(t, 50, b.Len())
	}
	assert.Empty(t, sel.Result.Unassigned)

	qualified := 0
	for _, c := range sel.Candidates {
		if c.Qualified {
			qualified++
		}
	}
	assert.Equal(t, 2, qualified, "only the series-uid configurations explain this set")
	assertMinimal(t, sel)
}

func assertMinimal(t *testing.T, sel *Selection) {
	t.Helper()
	for _, c := range sel.Candidates {
		if !c.Qualified {
			continue
		}
		assert.LessOrEqual(t, len(sel.Result.Unassigned), len(c.Result.Unassigned), c.Label())
		if len(c.Result.Unassigned) == len(sel.Result.Unassigned) {
			assert.LessOrEqual(t, len(sel.Result.Blocks), len(c.Result.Blocks), c.Label())
		}
	}
}

func TestSelectBestCondensesTimeSteps(t *testing.T) {
	set := testutil.NewSet().TimeSeries("d", "1.2.3", 3, 10, 2)
	for k := 1; k <= 30; k++ {
		set.Set(testutil.Handle("d", k), models.TemporalPositionIndex, fmt.Sprint((k-1)/10+1))
	}
	files := set.Shuffled(5)

	sel, err := New(WithLogger(zaptest.NewLogger(t))).SelectBest(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, LabelSeriesPosition, sel.Label())
	require.Len(t, sel.Result.Blocks, 1)
	assert.Empty(t, sel.Result.Unassigned)

	b := sel.Result.Blocks[0]
	assert.Equal(t, 30, b.Len())
	assert.Equal(t, "3", b.DerivedTags[analysis.DerivedNumberOfTimeSteps])
	assert.Equal(t, "10", b.DerivedTags[analysis.DerivedNumberOfSlices])

	for _, c := range sel.Candidates {
		if c.Label() == LabelSeriesTemporalPosition {
			assert.Len(t, c.Result.Blocks, 3, "one 3D block per temporal position")
		}
	}
	assertMinimal(t, sel)
}

func TestSelectBestTieBreaksByLabel(t *testing.T) {
	files := testutil.NewSet().Series("s", "1.2.3", 20, 2).Files()

	r := New()
	first := analysis.NewBuilder("a-first").
		GroupBy(criterion.EqualTag{Tag: models.SeriesInstanceUID}).
		SortBy(criterion.MonotonicTag{Tag: models.InstanceNumber}).
		MustBuild()
	require.NoError(t, r.Register(first))

	for i := 0; i < 5; i++ {
		sel, err := r.SelectBest(context.Background(), files)
		require.NoError(t, err)
		assert.Equal(t, "a-first", sel.Label())
		assert.Len(t, sel.Result.Blocks, 1)
		assertMinimal(t, sel)
	}
}

func TestSelectBestNoViableConfiguration(t *testing.T) {
	set := testutil.NewSet().Series("s", "1", 5, 1)
	orphan := testutil.Slice("1", 9, 30)
	delete(orphan, models.ImageOrientationPatient)
	set.Add("orphan.dcm", orphan)
	files := set.Files()

	r := New(WithLogger(zaptest.NewLogger(t)))
	sel, err := r.SelectBest(context.Background(), files)
	require.ErrorIs(t, err, diag.ErrNoViableConfiguration)
	require.NotNil(t, sel)
	assert.Nil(t, sel.Configuration)
	assert.Len(t, sel.Candidates, 6)

	d := NoViable(sel, files)
	assert.Equal(t, diag.NoViableConfiguration, d.Kind)
	assert.Equal(t, diag.StageSelection, d.Stage)
	assert.Len(t, d.Files, 6)
	assert.Contains(t, d.Message, LabelSeriesInstance+": 1 unassigned files")

	partial := New(WithPartialCoverage())
	sel, err = partial.SelectBest(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, LabelSeriesInstance, sel.Label())
	assert.Equal(t, []string{"orphan.dcm"}, models.Handles(sel.Result.Unassigned))
	assertMinimal(t, sel)
}

func TestSelectBestEmptyRegistry(t *testing.T) {
	_, err := New(WithoutBuiltins()).SelectBest(context.Background(), testutil.NewSet().Series("s", "1", 2, 1).Files())
	assert.ErrorIs(t, err, diag.ErrNoViableConfiguration)
}

func TestSelectBestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().SelectBest(ctx, testutil.NewSet().Series("s", "1", 2, 1).Files())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectBestIndependentOfWorkers(t *testing.T) {
	set := testutil.NewSet().
		Interleaved("mix", 30, 2, "1.1", "1.2", "1.3").
		Series("extra", "1.4", 7, 1)

	serial, err := New(WithWorkers(1)).SelectBest(context.Background(), set.Files())
	require.NoError(t, err)
	parallel, err := New(WithWorkers(16)).SelectBest(context.Background(), set.Shuffled(11))
	require.NoError(t, err)

	assert.Equal(t, serial.Label(), parallel.Label())
	if diff := cmp.Diff(serial.Result.Snapshot(), parallel.Result.Snapshot()); diff != "" {
		t.Errorf("selection depends on worker count (-serial +parallel):\n%s", diff)
	}
	require.Len(t, serial.Candidates, len(parallel.Candidates))
	for i := range serial.Candidates {
		assert.Equal(t, serial.Candidates[i].Label(), parallel.Candidates[i].Label())
		assert.Equal(t, serial.Candidates[i].Qualified, parallel.Candidates[i].Qualified)
	}
}
