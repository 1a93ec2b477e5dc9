// Package criterion defines the grouping and sorting rules a Configuration is
// assembled from.
//
// Criterion is a closed set: the interface carries an unexported method so
// only the variants declared here implement it. Consumers (the analyzer and
// the serializer) switch over the concrete types exhaustively, so adding a
// kind means touching exactly those switches.
package criterion

import (
	"fmt"
	"math"

	"seriesresolver/internal/models"
)

// Kind is the stable, serialized name of a criterion variant.
type Kind string

const (
	KindEqualTag            Kind = "equal-tag"
	KindEqualGeometry       Kind = "equal-geometry"
	KindMonotonicTag        Kind = "monotonic-tag"
	KindPositionAlongNormal Kind = "position-along-normal"
	KindCountBound          Kind = "count-bound"
)

// Role says in which chain a criterion may appear.
type Role uint8

const (
	RoleGrouping Role = 1 << iota
	RoleSorting
)

// Has reports whether r includes o.
func (r Role) Has(o Role) bool { return r&o != 0 }

// Criterion is one grouping or sorting rule. Values are immutable and may be
// shared between configurations and goroutines.
type Criterion interface {
	Kind() Kind
	Role() Role
	// Validate checks the parameters.
	Validate() error
	String() string
	sealed()
}

// EqualTag groups files whose value of Tag is identical. With Precision > 0
// every numeric component is rounded to that many decimal places first.
type EqualTag struct {
	Tag       models.Tag
	Precision int
}

// EqualGeometry groups files whose orientation, pixel spacing and matrix size
// agree within Tolerance.
type EqualGeometry struct {
	Tolerance float64
}

// MonotonicTag orders a group by the numeric value of Tag.
type MonotonicTag struct {
	Tag        models.Tag
	Descending bool
}

// PositionAlongNormal orders a group by the distance of ImagePositionPatient
// along the slice normal.
type PositionAlongNormal struct {
	Descending bool
}

// CountBound rejects groups with fewer than Min or more than Max files.
// Max == 0 means no upper bound.
type CountBound struct {
	Min int
	Max int
}

func (EqualTag) Kind() Kind            { return KindEqualTag }
func (EqualGeometry) Kind() Kind       { return KindEqualGeometry }
func (MonotonicTag) Kind() Kind        { return KindMonotonicTag }
func (PositionAlongNormal) Kind() Kind { return KindPositionAlongNormal }
func (CountBound) Kind() Kind          { return KindCountBound }

func (EqualTag) Role() Role            { return RoleGrouping }
func (EqualGeometry) Role() Role       { return RoleGrouping }
func (MonotonicTag) Role() Role        { return RoleSorting }
func (PositionAlongNormal) Role() Role { return RoleSorting }
func (CountBound) Role() Role          { return RoleGrouping | RoleSorting }

func (EqualTag) sealed()            {}
func (EqualGeometry) sealed()       {}
func (MonotonicTag) sealed()        {}
func (PositionAlongNormal) sealed() {}
func (CountBound) sealed()          {}

func (c EqualTag) Validate() error {
	if c.Precision < 0 || c.Precision > 15 {
		return fmt.Errorf("%s: precision %d out of range [0,15]", c.Kind(), c.Precision)
	}
	return nil
}

func (c EqualGeometry) Validate() error {
	if math.IsNaN(c.Tolerance) || math.IsInf(c.Tolerance, 0) || c.Tolerance < 0 {
		return fmt.Errorf("%s: tolerance must be a finite non-negative number, got %v", c.Kind(), c.Tolerance)
	}
	return nil
}

func (c MonotonicTag) Validate() error        { return nil }
func (c PositionAlongNormal) Validate() error { return nil }

func (c CountBound) Validate() error {
	if c.Min < 0 || c.Max < 0 {
		return fmt.Errorf("%s: bounds must be non-negative (min=%d, max=%d)", c.Kind(), c.Min, c.Max)
	}
	if c.Max != 0 && c.Max < c.Min {
		return fmt.Errorf("%s: max %d below min %d", c.Kind(), c.Max, c.Min)
	}
	return nil
}

func (c EqualTag) String() string {
	if c.Precision > 0 {
		return fmt.Sprintf("%s(%s, precision=%d)", c.Kind(), c.Tag.DisplayName(), c.Precision)
	}
	return fmt.Sprintf("%s(%s)", c.Kind(), c.Tag.DisplayName())
}

func (c EqualGeometry) String() string {
	return fmt.Sprintf("%s(tolerance=%g)", c.Kind(), c.Tolerance)
}

func (c MonotonicTag) String() string {
	return fmt.Sprintf("%s(%s%s)", c.Kind(), c.Tag.DisplayName(), direction(c.Descending))
}

func (c PositionAlongNormal) String() string {
	return fmt.Sprintf("%s(%s)", c.Kind(), direction(c.Descending)[2:])
}

func (c CountBound) String() string {
	if c.Max == 0 {
		return fmt.Sprintf("%s(min=%d)", c.Kind(), c.Min)
	}
	return fmt.Sprintf("%s(min=%d, max=%d)", c.Kind(), c.Min, c.Max)
}

func direction(desc bool) string {
	if desc {
		return ", descending"
	}
	return ", ascending"
}
