// Package analysis resolves a set of file descriptors into image blocks using
// one Configuration: an ordered grouping chain, an ordered sorting chain and
// validation tolerances.
package analysis

import (
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/zeebo/blake3"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
	"seriesresolver/pkg/criterion"
)

// Tolerance names understood by the analyzer.
const (
	// ToleranceSpacing is the allowed deviation (mm) of an inter-slice
	// distance from the block mean.
	ToleranceSpacing = "spacing"

	// ToleranceOrigin is the allowed distance (mm) of a slice origin from the
	// line through the first two origins.
	ToleranceOrigin = "origin"

	// ToleranceOriginAdaptive, when set, replaces ToleranceOrigin with this
	// fraction of the block's mean inter-slice distance.
	ToleranceOriginAdaptive = "origin-adaptive"
)

var defaultTolerances = map[string]float64{
	ToleranceSpacing: 0.01,
	ToleranceOrigin:  0.3,
}

// DefaultTolerance returns the value used when a configuration does not set name.
func DefaultTolerance(name string) float64 {
	return defaultTolerances[name]
}

// Spec is the plain, comparable content of a Configuration.
type Spec struct {
	Label       string
	Description string
	Grouping    []criterion.Criterion
	Sorting     []criterion.Criterion
	Tolerances  map[string]float64

	// Condense merges the stacks of a partition that repeat the same slice
	// positions into one 3D+t block.
	Condense bool
}

// Configuration is a named, immutable grouping strategy. Build one with
// NewBuilder or FromSpec.
type Configuration struct {
	spec Spec
}

// Label returns the configuration name.
func (c *Configuration) Label() string { return c.spec.Label }

// Description returns the free-text description, possibly empty.
func (c *Configuration) Description() string { return c.spec.Description }

// Grouping returns a copy of the grouping chain.
func (c *Configuration) Grouping() []criterion.Criterion {
	return append([]criterion.Criterion(nil), c.spec.Grouping...)
}

// Sorting returns a copy of the sorting chain.
func (c *Configuration) Sorting() []criterion.Criterion {
	return append([]criterion.Criterion(nil), c.spec.Sorting...)
}

// Condenses reports whether repeated stacks become time steps of one block.
func (c *Configuration) Condenses() bool { return c.spec.Condense }

// Tolerances returns a copy of the explicitly configured tolerances.
func (c *Configuration) Tolerances() map[string]float64 {
	out := make(map[string]float64, len(c.spec.Tolerances))
	for k, v := range c.spec.Tolerances {
		out[k] = v
	}
	return out
}

// Tolerance returns the configured value of name, falling back to the default.
func (c *Configuration) Tolerance(name string) float64 {
	if v, ok := c.spec.Tolerances[name]; ok {
		return v
	}
	return DefaultTolerance(name)
}

// Spec returns a deep copy of the configuration content.
func (c *Configuration) Spec() Spec {
	return Spec{
		Label:       c.spec.Label,
		Description: c.spec.Description,
		Grouping:    c.Grouping(),
		Sorting:     c.Sorting(),
		Tolerances:  c.Tolerances(),
		Condense:    c.spec.Condense,
	}
}

var specCompare = cmpopts.EquateEmpty()

// Equal reports structural equality, label included.
func (c *Configuration) Equal(o *Configuration) bool {
	if c == nil || o == nil {
		return c == o
	}
	return cmp.Equal(c.spec, o.spec, specCompare)
}

// SameBehavior reports structural equality ignoring label and description.
func (c *Configuration) SameBehavior(o *Configuration) bool {
	return c.Fingerprint() == o.Fingerprint()
}

// Diff returns a human-readable structural diff, empty when equal.
func (c *Configuration) Diff(o *Configuration) string {
	return cmp.Diff(c.spec, o.spec, specCompare)
}

// Fingerprint hashes the behavior-relevant content: chains, condensing and
// tolerances.
func (c *Configuration) Fingerprint() string {
	var b strings.Builder
	for _, g := range c.spec.Grouping {
		fmt.Fprintf(&b, "g %T %+v\n", g, g)
	}
	for _, s := range c.spec.Sorting {
		fmt.Fprintf(&b, "s %T %+v\n", s, s)
	}
	if c.spec.Condense {
		b.WriteString("condense\n")
	}
	names := make([]string, 0, len(c.spec.Tolerances))
	for k := range c.spec.Tolerances {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&b, "t %s %v\n", k, c.spec.Tolerances[k])
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// Resolve analyzes files with this configuration.
func (c *Configuration) Resolve(files []*models.FileDescriptor) *AnalysisResult {
	return NewAnalyzer(nil).Run(c, files)
}

func (c *Configuration) String() string {
	parts := make([]string, 0, len(c.spec.Grouping)+len(c.spec.Sorting))
	for _, g := range c.spec.Grouping {
		parts = append(parts, g.String())
	}
	group := strings.Join(parts, " > ")
	parts = parts[:0]
	for _, s := range c.spec.Sorting {
		parts = append(parts, s.String())
	}
	out := fmt.Sprintf("%s: group[%s] sort[%s]", c.spec.Label, group, strings.Join(parts, " > "))
	if c.spec.Condense {
		out += " condense"
	}
	return out
}

// Builder assembles a Configuration.
type Builder struct {
	spec Spec
}

// NewBuilder starts a configuration named label.
func NewBuilder(label string) *Builder {
	return &Builder{spec: Spec{Label: label, Tolerances: map[string]float64{}}}
}

// Describe sets the description.
func (b *Builder) Describe(text string) *Builder {
	b.spec.Description = text
	return b
}

// GroupBy appends grouping criteria.
func (b *Builder) GroupBy(cs ...criterion.Criterion) *Builder {
	b.spec.Grouping = append(b.spec.Grouping, cs...)
	return b
}

// SortBy appends sorting criteria; earlier criteria take precedence.
func (b *Builder) SortBy(cs ...criterion.Criterion) *Builder {
	b.spec.Sorting = append(b.spec.Sorting, cs...)
	return b
}

// CondenseTimeSteps turns stacks that repeat the same positions into the time
// steps of a single block. The sorting chain must start with
// PositionAlongNormal.
func (b *Builder) CondenseTimeSteps() *Builder {
	b.spec.Condense = true
	return b
}

// Tolerance sets a named tolerance.
func (b *Builder) Tolerance(name string, value float64) *Builder {
	b.spec.Tolerances[name] = value
	return b
}

// Build validates and freezes the configuration.
func (b *Builder) Build() (*Configuration, error) {
	return FromSpec(b.spec)
}

// MustBuild is Build for configurations known to be valid.
func (b *Builder) MustBuild() *Configuration {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

// FromSpec validates spec and returns a Configuration holding a copy of it.
func FromSpec(spec Spec) (*Configuration, error) {
	if spec.Label == "" || strings.TrimSpace(spec.Label) != spec.Label {
		return nil, fmt.Errorf("%w: label %q must be non-empty without surrounding whitespace", diag.ErrInvalidConfiguration, spec.Label)
	}
	if len(spec.Grouping) == 0 {
		return nil, fmt.Errorf("%w: %s: grouping chain is empty", diag.ErrInvalidConfiguration, spec.Label)
	}
	if err := validateChain(spec.Label, "grouping", spec.Grouping, criterion.RoleGrouping); err != nil {
		return nil, err
	}
	if err := validateChain(spec.Label, "sorting", spec.Sorting, criterion.RoleSorting); err != nil {
		return nil, err
	}
	if spec.Condense {
		if len(spec.Sorting) == 0 || spec.Sorting[0].Kind() != criterion.KindPositionAlongNormal {
			return nil, fmt.Errorf("%w: %s: condensing time steps requires sorting by %s first",
				diag.ErrInvalidConfiguration, spec.Label, criterion.KindPositionAlongNormal)
		}
	}
	for name, v := range spec.Tolerances {
		if name == "" {
			return nil, fmt.Errorf("%w: %s: empty tolerance name", diag.ErrInvalidConfiguration, spec.Label)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("%w: %s: tolerance %s must be finite and non-negative, got %v",
				diag.ErrInvalidConfiguration, spec.Label, name, v)
		}
	}

	c := &Configuration{spec: Spec{
		Label:       spec.Label,
		Description: spec.Description,
		Grouping:    append([]criterion.Criterion(nil), spec.Grouping...),
		Sorting:     append([]criterion.Criterion(nil), spec.Sorting...),
		Tolerances:  make(map[string]float64, len(spec.Tolerances)),
		Condense:    spec.Condense,
	}}
	for k, v := range spec.Tolerances {
		c.spec.Tolerances[k] = v
	}
	return c, nil
}

func validateChain(label, chain string, cs []criterion.Criterion, role criterion.Role) error {
	for i, c := range cs {
		if c == nil {
			return fmt.Errorf("%w: %s: %s criterion %d is nil", diag.ErrInvalidConfiguration, label, chain, i)
		}
		if !c.Role().Has(role) {
			return fmt.Errorf("%w: %s: %s cannot be used for %s", diag.ErrInvalidConfiguration, label, c.Kind(), chain)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", diag.ErrInvalidConfiguration, label, err)
		}
	}
	return nil
}
