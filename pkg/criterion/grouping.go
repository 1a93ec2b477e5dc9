package criterion

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
)

// Isolation is a set of files a grouping criterion refused to merge with
// anything, together with the reason.
type Isolation struct {
	Files      []*models.FileDescriptor
	Diagnostic diag.Diagnostic
}

// Refinement is the result of applying one grouping criterion to one
// partition. Groups keep the relative order of the input; every input file
// appears exactly once across Groups and Isolated.
type Refinement struct {
	Groups   [][]*models.FileDescriptor
	Isolated []Isolation
}

// Refine splits group by identical (optionally rounded) tag value. Files
// without the tag become singletons carrying a TagMissing diagnostic.
func (c EqualTag) Refine(group []*models.FileDescriptor) Refinement {
	var out Refinement
	index := make(map[string]int)
	for _, f := range group {
		raw, ok := f.Lookup(c.Tag)
		if !ok {
			out.Isolated = append(out.Isolated, Isolation{
				Files:      []*models.FileDescriptor{f},
				Diagnostic: missingTag(diag.StageGrouping, c.Tag, f).WithFragment(c.String()),
			})
			continue
		}
		key := c.normalize(raw)
		if i, seen := index[key]; seen {
			out.Groups[i] = append(out.Groups[i], f)
			continue
		}
		index[key] = len(out.Groups)
		out.Groups = append(out.Groups, []*models.FileDescriptor{f})
	}
	return out
}

// normalize returns the comparison key used for raw.
func (c EqualTag) normalize(raw string) string {
	if c.Precision <= 0 {
		return raw
	}
	parts := models.SplitValues(raw)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		parts[i] = formatRounded(v, c.Precision)
	}
	return strings.Join(parts, `\`)
}

func formatRounded(v float64, precision int) string {
	scale := math.Pow(10, float64(precision))
	r := math.Round(v*scale) / scale
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', precision, 64)
}

type geometrySignature struct {
	orientation  []float64
	pixelSpacing []float64
	rows         string
	columns      string
}

func signatureOf(f *models.FileDescriptor) (geometrySignature, bool) {
	var sig geometrySignature
	o, ok := f.Floats(models.ImageOrientationPatient)
	if !ok || len(o) != 6 {
		return sig, false
	}
	sig.orientation = o
	sig.pixelSpacing, _ = f.Floats(models.PixelSpacing)
	sig.rows, _ = f.Lookup(models.Rows)
	sig.columns, _ = f.Lookup(models.Columns)
	return sig, true
}

func (s geometrySignature) matches(o geometrySignature, tol float64) bool {
	if s.rows != o.rows || s.columns != o.columns {
		return false
	}
	return withinTolerance(s.orientation, o.orientation, tol) &&
		withinTolerance(s.pixelSpacing, o.pixelSpacing, tol)
}

func withinTolerance(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// Refine clusters group by geometry. Each cluster is represented by its first
// member in input order, so the outcome is deterministic for a canonical input
// even though epsilon-equality is not transitive.
func (c EqualGeometry) Refine(group []*models.FileDescriptor) Refinement {
	var out Refinement
	var reps []geometrySignature
	for _, f := range group {
		sig, ok := signatureOf(f)
		if !ok {
			out.Isolated = append(out.Isolated, Isolation{
				Files:      []*models.FileDescriptor{f},
				Diagnostic: missingTag(diag.StageGrouping, models.ImageOrientationPatient, f).WithFragment(c.String()),
			})
			continue
		}
		placed := false
		for i, rep := range reps {
			if rep.matches(sig, c.Tolerance) {
				out.Groups[i] = append(out.Groups[i], f)
				placed = true
				break
			}
		}
		if !placed {
			reps = append(reps, sig)
			out.Groups = append(out.Groups, []*models.FileDescriptor{f})
		}
	}
	return out
}

// Refine keeps group whole when its size is within bounds and isolates it
// otherwise.
func (c CountBound) Refine(group []*models.FileDescriptor) Refinement {
	if d := c.Check(group, diag.StageGrouping); d != nil {
		return Refinement{Isolated: []Isolation{{Files: group, Diagnostic: *d}}}
	}
	if len(group) == 0 {
		return Refinement{}
	}
	return Refinement{Groups: [][]*models.FileDescriptor{group}}
}

// Check returns a CountOutOfBounds diagnostic when len(group) is outside the bounds.
func (c CountBound) Check(group []*models.FileDescriptor, stage diag.Stage) *diag.Diagnostic {
	n := len(group)
	if n >= c.Min && (c.Max == 0 || n <= c.Max) {
		return nil
	}
	d := diag.New(diag.CountOutOfBounds, stage,
		fmt.Sprintf("group of %d files outside %s", n, c.String()),
		models.Handles(group)...).WithFragment(c.String())
	return &d
}

func missingTag(stage diag.Stage, tag models.Tag, f *models.FileDescriptor) diag.Diagnostic {
	msg := fmt.Sprintf("tag %s (%s) missing or malformed", tag.DisplayName(), tag)
	if err := f.ReadError(tag); err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return diag.New(diag.TagMissing, stage, msg, f.Handle())
}
