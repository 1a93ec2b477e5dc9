package registry

import (
	"sort"

	"seriesresolver/internal/models"
	"seriesresolver/pkg/analysis"
	"seriesresolver/pkg/criterion"
)

// Labels of the built-in configurations.
const (
	LabelSeriesInstance         = "series-uid/instance-number"
	LabelSeriesPosition         = "series-uid/position"
	LabelSeriesAcquisition      = "series-uid+acquisition/position"
	LabelSeriesNumberInstance   = "series-number/instance-number"
	LabelStudyPosition          = "study-uid/position"
	LabelSeriesTemporalPosition = "series-uid+temporal-index/position"
)

// GeometryTolerance is the epsilon the built-ins use for orientation and
// pixel spacing comparison.
const GeometryTolerance = 1e-3

// Builtins returns fresh copies of the built-in configurations, ordered by
// label. overrides replaces the default tolerances of every built-in.
func Builtins(overrides map[string]float64) []*analysis.Configuration {
	geometry := criterion.EqualGeometry{Tolerance: GeometryTolerance}
	build := func(b *analysis.Builder) *analysis.Configuration {
		for name, v := range overrides {
			b.Tolerance(name, v)
		}
		return b.MustBuild()
	}

	configs := []*analysis.Configuration{
		build(analysis.NewBuilder(LabelSeriesAcquisition).
			Describe("one block per series and acquisition, ordered along the slice normal").
			GroupBy(criterion.EqualTag{Tag: models.SeriesInstanceUID},
				criterion.EqualTag{Tag: models.AcquisitionNumber},
				geometry).
			SortBy(criterion.PositionAlongNormal{}, criterion.MonotonicTag{Tag: models.InstanceNumber})),
		build(analysis.NewBuilder(LabelSeriesTemporalPosition).
			Describe("one block per series and temporal position, ordered along the slice normal").
			GroupBy(criterion.EqualTag{Tag: models.SeriesInstanceUID},
				criterion.EqualTag{Tag: models.TemporalPositionIndex},
				geometry).
			SortBy(criterion.PositionAlongNormal{})),
		build(analysis.NewBuilder(LabelSeriesInstance).
			Describe("one block per series, ordered by instance number").
			GroupBy(criterion.EqualTag{Tag: models.SeriesInstanceUID}, geometry).
			SortBy(criterion.MonotonicTag{Tag: models.InstanceNumber})),
		build(analysis.NewBuilder(LabelSeriesPosition).
			Describe("one block per series, ordered along the slice normal; repeated positions become time steps of one 3D+t block").
			GroupBy(criterion.EqualTag{Tag: models.SeriesInstanceUID}, geometry).
			SortBy(criterion.PositionAlongNormal{}, criterion.MonotonicTag{Tag: models.InstanceNumber}).
			CondenseTimeSteps()),
		build(analysis.NewBuilder(LabelSeriesNumberInstance).
			Describe("one block per series number, ordered by instance number").
			GroupBy(criterion.EqualTag{Tag: models.SeriesNumber}).
			SortBy(criterion.MonotonicTag{Tag: models.InstanceNumber})),
		build(analysis.NewBuilder(LabelStudyPosition).
			Describe("one block per study and geometry, ordered along the slice normal").
			GroupBy(criterion.EqualTag{Tag: models.StudyInstanceUID}, geometry).
			SortBy(criterion.PositionAlongNormal{})),
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Label() < configs[j].Label() })
	return configs
}
