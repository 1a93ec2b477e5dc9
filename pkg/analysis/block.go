package analysis

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
)

// Derived tag names that are not DICOM keywords.
const (
	DerivedNumberOfSlices       = "NumberOfSlices"
	DerivedSpacingBetweenSlices = "SpacingBetweenSlices"
	DerivedOrigin               = "Origin"
	DerivedSliceNormal          = "SliceNormal"
	DerivedGantryTilt           = "GantryTilt"

	// DerivedNumberOfTimeSteps is set on blocks of condensing configurations.
	DerivedNumberOfTimeSteps = "NumberOfTimeSteps"
)

// BlockDescriptor is one resolved output group: the files in volume order
// plus the geometry an external materializer needs.
type BlockDescriptor struct {
	// ConfigurationLabel names the configuration that produced the block.
	ConfigurationLabel string

	// Files in slice order. A condensed block lists every time step as one
	// full stack, one stack after the other.
	Files []*models.FileDescriptor

	// DerivedTags holds values shared by every file of the block and values
	// computed from the ordered slices (spacing, origin, normal).
	DerivedTags map[string]string

	// ValidationErrors holds advisory diagnostics that did not demote the block.
	ValidationErrors []diag.Diagnostic
}

// Len returns the number of files.
func (b *BlockDescriptor) Len() int { return len(b.Files) }

// Handles returns the ordered file handles.
func (b *BlockDescriptor) Handles() []string { return models.Handles(b.Files) }

// ID is a stable digest of the ordered handles.
func (b *BlockDescriptor) ID() string {
	sum := blake3.Sum256([]byte(strings.Join(b.Handles(), "\n")))
	return hex.EncodeToString(sum[:8])
}

// Tag returns a derived tag value.
func (b *BlockDescriptor) Tag(name string) (string, bool) {
	v, ok := b.DerivedTags[name]
	return v, ok
}

func (b *BlockDescriptor) firstHandle() string {
	first := ""
	for i, f := range b.Files {
		if i == 0 || f.Handle() < first {
			first = f.Handle()
		}
	}
	return first
}

// AnalysisResult is the outcome of one configuration applied to one file set.
// Every input file appears exactly once across Blocks and Unassigned.
type AnalysisResult struct {
	ConfigurationLabel string
	Blocks             []*BlockDescriptor
	Unassigned         []*models.FileDescriptor

	// Diagnostics explains every demotion, in processing order.
	Diagnostics []diag.Diagnostic
}

// Covered reports whether every input file landed in a block.
func (r *AnalysisResult) Covered() bool { return len(r.Unassigned) == 0 }

// FileCount returns the number of files in blocks and unassigned.
func (r *AnalysisResult) FileCount() int {
	n := len(r.Unassigned)
	for _, b := range r.Blocks {
		n += b.Len()
	}
	return n
}

// Snapshot is a handle-only view of a result, convenient for comparison.
type Snapshot struct {
	ConfigurationLabel string
	Blocks             [][]string
	DerivedTags        []map[string]string
	Unassigned         []string
	Diagnostics        []diag.Diagnostic
}

// Snapshot returns the handle-only view of r.
func (r *AnalysisResult) Snapshot() Snapshot {
	s := Snapshot{
		ConfigurationLabel: r.ConfigurationLabel,
		Unassigned:         models.Handles(r.Unassigned),
		Diagnostics:        append([]diag.Diagnostic(nil), r.Diagnostics...),
	}
	for _, b := range r.Blocks {
		s.Blocks = append(s.Blocks, b.Handles())
		s.DerivedTags = append(s.DerivedTags, b.DerivedTags)
	}
	return s
}

func (r *AnalysisResult) canonicalize() {
	sort.SliceStable(r.Blocks, func(i, j int) bool {
		return r.Blocks[i].firstHandle() < r.Blocks[j].firstHandle()
	})
	models.SortByHandle(r.Unassigned)
}
