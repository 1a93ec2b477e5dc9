package criterion_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
	"seriesresolver/internal/testutil"
	"seriesresolver/pkg/criterion"
)

func TestValidate(t *testing.T) {
	valid := []criterion.Criterion{
		criterion.EqualTag{Tag: models.SeriesInstanceUID},
		criterion.EqualTag{Tag: models.ImageOrientationPatient, Precision: 4},
		criterion.EqualGeometry{Tolerance: 0},
		criterion.MonotonicTag{Tag: models.InstanceNumber, Descending: true},
		criterion.PositionAlongNormal{},
		criterion.CountBound{Min: 2},
		criterion.CountBound{Min: 2, Max: 2},
	}
	for _, c := range valid {
		assert.NoError(t, c.Validate(), c.String())
	}

	invalid := []criterion.Criterion{
		criterion.EqualTag{Tag: models.SeriesInstanceUID, Precision: -1},
		criterion.EqualTag{Tag: models.SeriesInstanceUID, Precision: 16},
		criterion.EqualGeometry{Tolerance: -0.1},
		criterion.EqualGeometry{Tolerance: math.NaN()},
		criterion.EqualGeometry{Tolerance: math.Inf(1)},
		criterion.CountBound{Min: -1},
		criterion.CountBound{Min: 5, Max: 3},
	}
	for _, c := range invalid {
		assert.Error(t, c.Validate(), c.String())
	}
}

func TestRoles(t *testing.T) {
	assert.True(t, criterion.EqualTag{}.Role().Has(criterion.RoleGrouping))
	assert.False(t, criterion.EqualTag{}.Role().Has(criterion.RoleSorting))
	assert.True(t, criterion.PositionAlongNormal{}.Role().Has(criterion.RoleSorting))
	assert.False(t, criterion.MonotonicTag{}.Role().Has(criterion.RoleGrouping))
	cb := criterion.CountBound{}.Role()
	assert.True(t, cb.Has(criterion.RoleGrouping) && cb.Has(criterion.RoleSorting))
}

func TestString(t *testing.T) {
	assert.Equal(t, "equal-tag(SeriesInstanceUID)", criterion.EqualTag{Tag: models.SeriesInstanceUID}.String())
	assert.Equal(t, "equal-tag(0029,1010, precision=2)", criterion.EqualTag{Tag: models.Tag{Group: 0x29, Element: 0x1010}, Precision: 2}.String())
	assert.Equal(t, "monotonic-tag(InstanceNumber, descending)", criterion.MonotonicTag{Tag: models.InstanceNumber, Descending: true}.String())
	assert.Equal(t, "position-along-normal(ascending)", criterion.PositionAlongNormal{}.String())
	assert.Equal(t, "count-bound(min=1)", criterion.CountBound{Min: 1}.String())
	assert.Equal(t, "count-bound(min=1, max=4)", criterion.CountBound{Min: 1, Max: 4}.String())
}

func TestEqualTagRefine(t *testing.T) {
	set := testutil.NewSet().
		Add("a", map[models.Tag]string{models.SeriesInstanceUID: "1.1"}).
		Add("b", map[models.Tag]string{models.SeriesInstanceUID: "1.2"}).
		Add("c", map[models.Tag]string{models.SeriesInstanceUID: "1.1"}).
		Add("d", map[models.Tag]string{models.InstanceNumber: "4"})

	ref := criterion.EqualTag{Tag: models.SeriesInstanceUID}.Refine(set.Files())
	require.Len(t, ref.Groups, 2)
	assert.Equal(t, []string{"a", "c"}, models.Handles(ref.Groups[0]))
	assert.Equal(t, []string{"b"}, models.Handles(ref.Groups[1]))

	require.Len(t, ref.Isolated, 1)
	iso := ref.Isolated[0]
	assert.Equal(t, []string{"d"}, models.Handles(iso.Files))
	assert.Equal(t, diag.TagMissing, iso.Diagnostic.Kind)
	assert.Equal(t, diag.StageGrouping, iso.Diagnostic.Stage)
	assert.Equal(t, []string{"d"}, iso.Diagnostic.Files)
	assert.Equal(t, "equal-tag(SeriesInstanceUID)", iso.Diagnostic.Fragment)
}

func TestEqualTagPrecision(t *testing.T) {
	set := testutil.NewSet().
		Add("a", map[models.Tag]string{models.ImageOrientationPatient: `1\0\0\0\0.99996\-0.00001`}).
		Add("b", map[models.Tag]string{models.ImageOrientationPatient: `1\0\0\0\1\0`}).
		Add("c", map[models.Tag]string{models.ImageOrientationPatient: `1\0\0\0\0.9\0.1`})

	exact := criterion.EqualTag{Tag: models.ImageOrientationPatient}.Refine(set.Files())
	assert.Len(t, exact.Groups, 3)

	rounded := criterion.EqualTag{Tag: models.ImageOrientationPatient, Precision: 3}.Refine(set.Files())
	require.Len(t, rounded.Groups, 2)
	assert.Equal(t, []string{"a", "b"}, models.Handles(rounded.Groups[0]))
}

func TestEqualGeometryRefine(t *testing.T) {
	sagittal := testutil.Slice("1", 1, 0)
	sagittal[models.ImageOrientationPatient] = `0\1\0\0\0\-1`
	nudged := testutil.Slice("1", 2, 1)
	nudged[models.ImageOrientationPatient] = `1\0.0005\0\0\1\0`
	small := testutil.Slice("1", 3, 2)
	small[models.Rows] = "256"
	noOrientation := testutil.Slice("1", 4, 3)
	delete(noOrientation, models.ImageOrientationPatient)

	set := testutil.NewSet().
		Add("a", testutil.Slice("1", 0, 0)).
		Add("b", sagittal).
		Add("c", nudged).
		Add("d", small).
		Add("e", noOrientation)

	ref := criterion.EqualGeometry{Tolerance: 1e-3}.Refine(set.Files())
	require.Len(t, ref.Groups, 3)
	assert.Equal(t, []string{"a", "c"}, models.Handles(ref.Groups[0]))
	assert.Equal(t, []string{"b"}, models.Handles(ref.Groups[1]))
	assert.Equal(t, []string{"d"}, models.Handles(ref.Groups[2]))
	require.Len(t, ref.Isolated, 1)
	assert.Equal(t, []string{"e"}, models.Handles(ref.Isolated[0].Files))

	strict := criterion.EqualGeometry{Tolerance: 0}.Refine(set.Files())
	assert.Len(t, strict.Groups, 4)
}

func TestCountBound(t *testing.T) {
	files := testutil.NewSet().Series("s", "1", 3, 1).Files()

	ref := criterion.CountBound{Min: 2, Max: 3}.Refine(files)
	require.Len(t, ref.Groups, 1)
	assert.Empty(t, ref.Isolated)

	ref = criterion.CountBound{Min: 4}.Refine(files)
	assert.Empty(t, ref.Groups)
	require.Len(t, ref.Isolated, 1)
	assert.Len(t, ref.Isolated[0].Files, 3)
	assert.Equal(t, diag.CountOutOfBounds, ref.Isolated[0].Diagnostic.Kind)

	d := criterion.CountBound{Max: 2}.Check(files, diag.StageSorting)
	require.NotNil(t, d)
	assert.Equal(t, diag.StageSorting, d.Stage)
	assert.Nil(t, criterion.CountBound{}.Check(files, diag.StageSorting))
}

func TestMonotonicTagKeys(t *testing.T) {
	set := testutil.NewSet().
		Add("a", map[models.Tag]string{models.InstanceNumber: "3", models.AcquisitionTime: "12:30:05"}).
		Add("b", map[models.Tag]string{models.InstanceNumber: "1", models.AcquisitionTime: "123001.5"}).
		Add("c", map[models.Tag]string{models.InstanceNumber: "2"})
	files := set.Files()

	keys, d := criterion.MonotonicTag{Tag: models.InstanceNumber}.Keys(files)
	require.Nil(t, d)
	assert.Equal(t, []float64{3, 1, 2}, keys)

	keys, d = criterion.MonotonicTag{Tag: models.InstanceNumber, Descending: true}.Keys(files)
	require.Nil(t, d)
	assert.Equal(t, []float64{-3, -1, -2}, keys)

	keys, d = criterion.MonotonicTag{Tag: models.AcquisitionTime}.Keys(files[:2])
	require.Nil(t, d)
	assert.Equal(t, []float64{123005, 123001.5}, keys)

	_, d = criterion.MonotonicTag{Tag: models.AcquisitionTime}.Keys(files)
	require.NotNil(t, d)
	assert.Equal(t, diag.TagMissing, d.Kind)
	assert.Equal(t, []string{"c"}, d.Files)
}

func TestPositionAlongNormal(t *testing.T) {
	set := testutil.NewSet().
		Add("a", testutil.Slice("1", 1, 3)).
		Add("b", testutil.Slice("1", 2, -1.5)).
		Add("c", testutil.Slice("1", 3, 0))

	o, d := criterion.PositionAlongNormal{}.Apply(set.Files())
	require.Nil(t, d)
	assert.Equal(t, []string{"b", "c", "a"}, models.Handles(o.Files))

	o, d = criterion.PositionAlongNormal{Descending: true}.Apply(set.Files())
	require.Nil(t, d)
	assert.Equal(t, []string{"a", "c", "b"}, models.Handles(o.Files))

	broken := testutil.NewSet().Add("x", map[models.Tag]string{models.ImagePositionPatient: `0\0\0`})
	_, d = criterion.PositionAlongNormal{}.Apply(broken.Files())
	require.NotNil(t, d)
	assert.Equal(t, diag.TagMissing, d.Kind)
}

func TestOrderByReportsTies(t *testing.T) {
	files := models.NewFileSet([]string{"a", "b", "c", "d", "e"}, nil)
	o := criterion.OrderBy(files, []float64{5, 1, 5 + 1e-9, 2, 9})
	assert.Equal(t, []string{"b", "d", "a", "c", "e"}, models.Handles(o.Files))
	assert.Equal(t, [][2]int{{2, 4}}, o.Ties)

	assert.True(t, criterion.Tied(1, 1+criterion.KeyEpsilon/2))
	assert.False(t, criterion.Tied(1, 1+2*criterion.KeyEpsilon))
}

func TestOrderByNearEqualChain(t *testing.T) {
	// each neighbour is within KeyEpsilon, the ends are not
	step := 0.6 * criterion.KeyEpsilon
	files := models.NewFileSet([]string{"a", "b", "c", "d"}, nil)
	o := criterion.OrderBy(files, []float64{2 * step, step, 0, 1})
	assert.Equal(t, []string{"c", "b", "a", "d"}, models.Handles(o.Files))
	assert.Equal(t, [][2]int{{0, 3}}, o.Ties)
}

func TestApplySortConflict(t *testing.T) {
	set := testutil.NewSet().
		Add("a", map[models.Tag]string{models.InstanceNumber: "7"}).
		Add("b", map[models.Tag]string{models.InstanceNumber: "6"}).
		Add("c", map[models.Tag]string{models.InstanceNumber: "7"})

	c := criterion.MonotonicTag{Tag: models.InstanceNumber}
	o, d := c.Apply(set.Files())
	require.NotNil(t, d)
	assert.Equal(t, diag.SortKeyConflict, d.Kind)
	assert.Equal(t, []string{"a", "c"}, d.Files)
	assert.Equal(t, c.String(), d.Fragment)
	assert.Equal(t, []string{"b", "a", "c"}, models.Handles(o.Files))
}

func TestNormal(t *testing.T) {
	set := testutil.NewSet().
		Add("axial", testutil.Slice("1", 1, 0)).
		Add("degenerate", map[models.Tag]string{models.ImageOrientationPatient: `1\0\0\1\0\0`})
	files := set.Files()

	n, ok := criterion.Normal(files[0])
	require.True(t, ok)
	assert.InDelta(t, 1, n.Z, 1e-12)

	_, ok = criterion.Normal(files[1])
	assert.False(t, ok)
}
