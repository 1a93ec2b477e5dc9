// Package serialization converts Configurations to and from their persisted
// YAML form.
//
// The document is versioned. Two structurally equal configurations always
// serialize to identical bytes, and Deserialize(Serialize(c)) is structurally
// equal to c for every configuration the builder accepts. Unknown versions and
// unknown criterion kinds are rejected with diag.ErrUnsupportedCriterion.
package serialization

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"seriesresolver/internal/diag"
	"seriesresolver/internal/models"
	"seriesresolver/pkg/analysis"
	"seriesresolver/pkg/criterion"
)

// Version is the document version written by Serialize.
const Version = 1

// document mirrors the YAML layout; field order is the output order.
type document struct {
	Version     int                `yaml:"version"`
	Label       string             `yaml:"label"`
	Description string             `yaml:"description,omitempty"`
	Grouping    []criterionDoc     `yaml:"grouping"`
	Sorting     []criterionDoc     `yaml:"sorting,omitempty"`
	Condense    bool               `yaml:"condense,omitempty"`
	Tolerances  map[string]float64 `yaml:"tolerances,omitempty"`
}

type criterionDoc struct {
	Kind string `yaml:"kind"`
	Tag  string `yaml:"tag,omitempty"`
	// Name is informative only and ignored on read.
	Name       string   `yaml:"name,omitempty"`
	Precision  int      `yaml:"precision,omitempty"`
	Tolerance  *float64 `yaml:"tolerance,omitempty"`
	Min        int      `yaml:"min,omitempty"`
	Max        int      `yaml:"max,omitempty"`
	Descending bool     `yaml:"descending,omitempty"`
}

// Serialize renders cfg as a YAML document.
func Serialize(cfg *analysis.Configuration) (string, error) {
	doc := document{
		Version:     Version,
		Label:       cfg.Label(),
		Description: cfg.Description(),
		Condense:    cfg.Condenses(),
		Tolerances:  cfg.Tolerances(),
	}
	for _, c := range cfg.Grouping() {
		cd, err := encodeCriterion(c)
		if err != nil {
			return "", err
		}
		doc.Grouping = append(doc.Grouping, cd)
	}
	for _, c := range cfg.Sorting() {
		cd, err := encodeCriterion(c)
		if err != nil {
			return "", err
		}
		doc.Sorting = append(doc.Sorting, cd)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to encode configuration %s: %w", cfg.Label(), err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode configuration %s: %w", cfg.Label(), err)
	}
	return buf.String(), nil
}

func encodeCriterion(c criterion.Criterion) (criterionDoc, error) {
	switch c := c.(type) {
	case criterion.EqualTag:
		return criterionDoc{Kind: string(c.Kind()), Tag: c.Tag.String(), Name: c.Tag.Keyword(), Precision: c.Precision}, nil
	case criterion.EqualGeometry:
		tol := c.Tolerance
		return criterionDoc{Kind: string(c.Kind()), Tolerance: &tol}, nil
	case criterion.MonotonicTag:
		return criterionDoc{Kind: string(c.Kind()), Tag: c.Tag.String(), Name: c.Tag.Keyword(), Descending: c.Descending}, nil
	case criterion.PositionAlongNormal:
		return criterionDoc{Kind: string(c.Kind()), Descending: c.Descending}, nil
	case criterion.CountBound:
		return criterionDoc{Kind: string(c.Kind()), Min: c.Min, Max: c.Max}, nil
	default:
		return criterionDoc{}, fmt.Errorf("%w: cannot serialize %T", diag.ErrUnsupportedCriterion, c)
	}
}

// Deserialize parses a YAML document produced by Serialize.
func Deserialize(text string) (*analysis.Configuration, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("%w: malformed document: %v", diag.ErrInvalidConfiguration, err)
	}
	if err := checkVersion(&root); err != nil {
		return nil, err
	}

	var doc document
	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", diag.ErrInvalidConfiguration, err)
	}

	spec := analysis.Spec{
		Label:       doc.Label,
		Description: doc.Description,
		Condense:    doc.Condense,
		Tolerances:  doc.Tolerances,
	}
	for i, cd := range doc.Grouping {
		c, err := decodeCriterion(cd)
		if err != nil {
			return nil, fmt.Errorf("grouping[%d]: %w", i, err)
		}
		spec.Grouping = append(spec.Grouping, c)
	}
	for i, cd := range doc.Sorting {
		c, err := decodeCriterion(cd)
		if err != nil {
			return nil, fmt.Errorf("sorting[%d]: %w", i, err)
		}
		spec.Sorting = append(spec.Sorting, c)
	}
	return analysis.FromSpec(spec)
}

// checkVersion inspects the root mapping for the version marker before any
// typed decoding, so a damaged marker is never mistaken for a default.
func checkVersion(root *yaml.Node) error {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%w: document is not a mapping", diag.ErrUnsupportedCriterion)
	}
	m := root.Content[0]
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != "version" {
			continue
		}
		v := m.Content[i+1]
		if v.Kind != yaml.ScalarNode || v.Value != fmt.Sprint(Version) {
			return fmt.Errorf("%w: document version %q, this reader understands %d", diag.ErrUnsupportedCriterion, v.Value, Version)
		}
		return nil
	}
	return fmt.Errorf("%w: document has no version marker", diag.ErrUnsupportedCriterion)
}

func decodeCriterion(cd criterionDoc) (criterion.Criterion, error) {
	switch criterion.Kind(cd.Kind) {
	case criterion.KindEqualTag:
		t, err := requireTag(cd)
		if err != nil {
			return nil, err
		}
		return criterion.EqualTag{Tag: t, Precision: cd.Precision}, nil
	case criterion.KindEqualGeometry:
		if cd.Tolerance == nil {
			return nil, fmt.Errorf("%w: %s requires a tolerance", diag.ErrInvalidConfiguration, cd.Kind)
		}
		return criterion.EqualGeometry{Tolerance: *cd.Tolerance}, nil
	case criterion.KindMonotonicTag:
		t, err := requireTag(cd)
		if err != nil {
			return nil, err
		}
		return criterion.MonotonicTag{Tag: t, Descending: cd.Descending}, nil
	case criterion.KindPositionAlongNormal:
		return criterion.PositionAlongNormal{Descending: cd.Descending}, nil
	case criterion.KindCountBound:
		return criterion.CountBound{Min: cd.Min, Max: cd.Max}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", diag.ErrUnsupportedCriterion, cd.Kind)
	}
}

func requireTag(cd criterionDoc) (models.Tag, error) {
	if cd.Tag == "" {
		return models.Tag{}, fmt.Errorf("%w: %s requires a tag", diag.ErrInvalidConfiguration, cd.Kind)
	}
	t, err := models.ParseTag(cd.Tag)
	if err != nil {
		return models.Tag{}, fmt.Errorf("%w: %v", diag.ErrInvalidConfiguration, err)
	}
	return t, nil
}

// Fingerprint returns a short BLAKE3 digest of a serialized document, used to
// correlate configurations across logs.
func Fingerprint(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// WriteFile serializes cfg to path, creating parent directories.
func WriteFile(cfg *analysis.Configuration, path string) error {
	text, err := Serialize(cfg)
	if err != nil {
		return err
	}
	return WriteDocument(path, text)
}

// WriteDocument stores an already serialized document at path, creating
// parent directories.
func WriteDocument(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating configuration directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("error writing configuration file: %w", err)
	}
	return nil
}

// ReadFile deserializes the configuration stored at path.
func ReadFile(path string) (*analysis.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}
	cfg, err := Deserialize(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
