package criterion

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
)

// KeyEpsilon is the largest difference at which two sort keys count as tied.
const KeyEpsilon = 1e-6

// Keys returns the sort key of each file in group, aligned by index. Keys are
// negated for descending order so callers always sort ascending. A non-nil
// diagnostic means at least one key could not be computed.
func (c MonotonicTag) Keys(group []*models.FileDescriptor) ([]float64, *diag.Diagnostic) {
	keys := make([]float64, len(group))
	var missing []string
	for i, f := range group {
		raw, ok := f.Lookup(c.Tag)
		if !ok {
			missing = append(missing, f.Handle())
			continue
		}
		v, ok := parseOrdinal(raw)
		if !ok {
			missing = append(missing, f.Handle())
			continue
		}
		if c.Descending {
			v = -v
		}
		keys[i] = v
	}
	if len(missing) > 0 {
		d := diag.New(diag.TagMissing, diag.StageSorting,
			fmt.Sprintf("sort key %s (%s) missing or not numeric", c.Tag.DisplayName(), c.Tag),
			missing...).WithFragment(c.String())
		return nil, &d
	}
	return keys, nil
}

// parseOrdinal parses numbers and DICOM DA/TM/DT values. Legacy separators
// ("12:30:00", "2024-01-31") are stripped before parsing.
func parseOrdinal(raw string) (float64, bool) {
	first := models.SplitValues(raw)[0]
	if v, err := strconv.ParseFloat(first, 64); err == nil {
		return v, true
	}
	stripped := strings.NewReplacer(":", "", "-", "").Replace(first)
	v, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Keys projects each file's position on the slice normal. The normal is taken
// from the first file so every key lives on the same axis.
func (c PositionAlongNormal) Keys(group []*models.FileDescriptor) ([]float64, *diag.Diagnostic) {
	if len(group) == 0 {
		return nil, nil
	}
	normal, ok := Normal(group[0])
	if !ok {
		d := missingTag(diag.StageSorting, models.ImageOrientationPatient, group[0]).WithFragment(c.String())
		return nil, &d
	}

	keys := make([]float64, len(group))
	var missing []string
	for i, f := range group {
		p, ok := Position(f)
		if !ok {
			missing = append(missing, f.Handle())
			continue
		}
		k := r3.Dot(p, normal)
		if c.Descending {
			k = -k
		}
		keys[i] = k
	}
	if len(missing) > 0 {
		d := diag.New(diag.TagMissing, diag.StageSorting,
			fmt.Sprintf("tag %s (%s) missing or malformed", models.ImagePositionPatient.DisplayName(), models.ImagePositionPatient),
			missing...).WithFragment(c.String())
		return nil, &d
	}
	return keys, nil
}

// Tied reports whether two keys are equal for ordering purposes.
func Tied(a, b float64) bool {
	d := a - b
	return d <= KeyEpsilon && d >= -KeyEpsilon
}

// Ordering is a group sorted ascending by one key. Ties holds the half-open
// index ranges of Files whose keys could not be told apart.
type Ordering struct {
	Files []*models.FileDescriptor
	Ties  [][2]int
}

// OrderBy stable-sorts group by keys (aligned by index) and reports tied
// runs. Sorting uses the exact keys; a run is a maximal stretch of neighbours
// within KeyEpsilon of each other.
func OrderBy(group []*models.FileDescriptor, keys []float64) Ordering {
	idx := make([]int, len(group))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return keys[idx[a]] < keys[idx[b]]
	})

	out := Ordering{Files: make([]*models.FileDescriptor, len(group))}
	for i, j := range idx {
		out.Files[i] = group[j]
	}
	start := 0
	for i := 1; i <= len(idx); i++ {
		if i < len(idx) && Tied(keys[idx[i-1]], keys[idx[i]]) {
			continue
		}
		if i-start > 1 {
			out.Ties = append(out.Ties, [2]int{start, i})
		}
		start = i
	}
	return out
}

// Apply sorts group by c and reports, without failing, a SortKeyConflict for
// tied keys. Callers decide whether a later criterion may resolve them.
func (c MonotonicTag) Apply(group []*models.FileDescriptor) (Ordering, *diag.Diagnostic) {
	keys, d := c.Keys(group)
	if d != nil {
		return Ordering{Files: group}, d
	}
	return applyKeys(c, group, keys)
}

// Apply is the PositionAlongNormal counterpart of MonotonicTag.Apply.
func (c PositionAlongNormal) Apply(group []*models.FileDescriptor) (Ordering, *diag.Diagnostic) {
	keys, d := c.Keys(group)
	if d != nil {
		return Ordering{Files: group}, d
	}
	return applyKeys(c, group, keys)
}

func applyKeys(c Criterion, group []*models.FileDescriptor, keys []float64) (Ordering, *diag.Diagnostic) {
	o := OrderBy(group, keys)
	if len(o.Ties) == 0 {
		return o, nil
	}
	d := SortConflict(c, o)
	return o, &d
}

// SortConflict builds the SortKeyConflict diagnostic for the tied runs of o.
func SortConflict(c Criterion, o Ordering) diag.Diagnostic {
	var files []string
	for _, t := range o.Ties {
		files = append(files, models.Handles(o.Files[t[0]:t[1]])...)
	}
	return diag.New(diag.SortKeyConflict, diag.StageSorting,
		fmt.Sprintf("%d files share a sort key under %s", len(files), c.String()),
		files...).WithFragment(c.String())
}
