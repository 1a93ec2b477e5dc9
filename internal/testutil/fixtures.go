// Package testutil builds synthetic file sets for tests.
package testutil

import (
	"fmt"
	"math/rand"
	"strconv"

	"seriesresolver/internal/models"
	"seriesresolver/pkg/dicomtags"
)

// Axial is the orientation of an unrotated axial slice.
const Axial = `1\0\0\0\1\0`

// Slice returns the header of an axial slice of series at height z.
func Slice(series string, instance int, z float64) map[models.Tag]string {
	return map[models.Tag]string{
		models.SeriesInstanceUID:       series,
		models.InstanceNumber:          strconv.Itoa(instance),
		models.ImagePositionPatient:    fmt.Sprintf(`-120\-120\%g`, z),
		models.ImageOrientationPatient: Axial,
		models.PixelSpacing:            `0.5\0.5`,
		models.Rows:                    "512",
		models.Columns:                 "512",
	}
}

// Set is a mutable collection of synthetic headers.
type Set struct {
	Reader *dicomtags.MemoryReader
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{Reader: dicomtags.NewMemoryReader()}
}

// Add stores tags under handle.
func (s *Set) Add(handle string, tags map[models.Tag]string) *Set {
	s.Reader.SetAll(handle, tags)
	return s
}

// Set overrides one tag of handle.
func (s *Set) Set(handle string, tag models.Tag, value string) *Set {
	s.Reader.Set(handle, tag, value)
	return s
}

// Series adds n evenly spaced slices named prefix-NNN with instance numbers
// 1..n.
func (s *Set) Series(prefix, uid string, n int, spacing float64) *Set {
	for i := 0; i < n; i++ {
		s.Add(Handle(prefix, i+1), Slice(uid, i+1, float64(i)*spacing))
	}
	return s
}

// TimeSeries adds steps repetitions of an n-slice stack. Instance numbers
// run time step by time step, so handle order is the expected volume order.
func (s *Set) TimeSeries(prefix, uid string, steps, n int, spacing float64) *Set {
	for t := 0; t < steps; t++ {
		for i := 0; i < n; i++ {
			k := t*n + i + 1
			s.Add(Handle(prefix, k), Slice(uid, k, float64(i)*spacing))
		}
	}
	return s
}

// Interleaved adds n slices alternating between the given series; slice k
// belongs to uids[k%len(uids)].
func (s *Set) Interleaved(prefix string, n int, spacing float64, uids ...string) *Set {
	for k := 0; k < n; k++ {
		pos := k / len(uids)
		s.Add(Handle(prefix, k+1), Slice(uids[k%len(uids)], pos+1, float64(pos)*spacing))
	}
	return s
}

// Files returns fresh descriptors in handle order.
func (s *Set) Files() []*models.FileDescriptor {
	return s.Reader.Files()
}

// Shuffled returns fresh descriptors in a seeded random order.
func (s *Set) Shuffled(seed int64) []*models.FileDescriptor {
	files := s.Files()
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	return files
}

// Handle formats a zero-padded file name.
func Handle(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d.dcm", prefix, n)
}
