package criterion

import (
	"gonum.org/v1/gonum/spatial/r3"

	"seriesresolver/internal/models"
)

// Orientation returns the row and column direction cosines of f.
func Orientation(f *models.FileDescriptor) (row, col r3.Vec, ok bool) {
	v, ok := f.Floats(models.ImageOrientationPatient)
	if !ok || len(v) != 6 {
		return r3.Vec{}, r3.Vec{}, false
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, r3.Vec{X: v[3], Y: v[4], Z: v[5]}, true
}

// Normal returns the unit slice normal (row x column) of f.
func Normal(f *models.FileDescriptor) (r3.Vec, bool) {
	row, col, ok := Orientation(f)
	if !ok {
		return r3.Vec{}, false
	}
	n := r3.Cross(row, col)
	if r3.Norm(n) == 0 {
		return r3.Vec{}, false
	}
	return r3.Unit(n), true
}

// Position returns ImagePositionPatient of f.
func Position(f *models.FileDescriptor) (r3.Vec, bool) {
	v, ok := f.Floats(models.ImagePositionPatient)
	if !ok || len(v) != 3 {
		return r3.Vec{}, false
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, true
}
