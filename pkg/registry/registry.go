// Package registry holds the configurations a caller wants to try and picks
// the one that explains a file set with the fewest blocks.
package registry

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"seriesresolver/internal/diag"
	"seriesresolver/pkg/analysis"
)

// Registry is a caller-owned set of configurations keyed by label. It is safe
// for concurrent use; SelectBest works on a snapshot taken when it starts.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*analysis.Configuration

	logger          *zap.Logger
	workers         int
	partialCoverage bool
	skipBuiltins    bool
	tolerances      map[string]float64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration warnings and selection.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithWorkers bounds the number of configurations analyzed concurrently.
func WithWorkers(n int) Option {
	return func(r *Registry) { r.workers = n }
}

// WithPartialCoverage relaxes the default policy: runs that leave files
// unassigned stay eligible and rank after runs that assign more files.
func WithPartialCoverage() Option {
	return func(r *Registry) { r.partialCoverage = true }
}

// WithoutBuiltins starts from an empty registry.
func WithoutBuiltins() Option {
	return func(r *Registry) { r.skipBuiltins = true }
}

// WithBuiltinTolerances overrides the tolerances of the built-in configurations.
func WithBuiltinTolerances(t map[string]float64) Option {
	return func(r *Registry) { r.tolerances = t }
}

// New creates a registry holding the built-in configurations.
func New(opts ...Option) *Registry {
	r := &Registry{
		configs: make(map[string]*analysis.Configuration),
		logger:  zap.NewNop(),
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if !r.skipBuiltins {
		for _, c := range Builtins(r.tolerances) {
			r.configs[c.Label()] = c
		}
	}
	return r
}

// Register adds cfg. Re-registering a configuration that behaves like the one
// already under its label only logs a warning and keeps the existing one; a
// different grouping or sorting behavior under a taken label fails with
// diag.ErrDuplicateLabel.
func (r *Registry) Register(cfg *analysis.Configuration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.configs[cfg.Label()]; ok {
		if existing.SameBehavior(cfg) {
			r.logger.Warn("configuration registered twice",
				zap.String("label", cfg.Label()))
			return nil
		}
		return fmt.Errorf("%w: %s", diag.ErrDuplicateLabel, cfg.Label())
	}
	for _, label := range r.sortedLabels() {
		if r.configs[label].SameBehavior(cfg) {
			r.logger.Warn("configuration behaves like an existing one",
				zap.String("label", cfg.Label()),
				zap.String("existing", label))
			break
		}
	}
	r.configs[cfg.Label()] = cfg
	return nil
}

// Lookup returns the configuration registered under label.
func (r *Registry) Lookup(label string) (*analysis.Configuration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[label]
	return c, ok
}

// Labels returns the registered labels in lexical order.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLabels()
}

// sortedLabels expects r.mu to be held.
func (r *Registry) sortedLabels() []string {
	labels := make([]string, 0, len(r.configs))
	for l := range r.configs {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Configurations returns the registered configurations ordered by label.
func (r *Registry) Configurations() []*analysis.Configuration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*analysis.Configuration, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label() < out[j].Label() })
	return out
}

// Len returns the number of registered configurations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}
