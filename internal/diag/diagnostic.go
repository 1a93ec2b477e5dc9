// Package diag defines the diagnostic taxonomy shared by the analyzer,
// selector, serializer and verifier.
package diag

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Sentinel errors for failures that surface to the caller.
var (
	// ErrUnsupportedCriterion is returned when a serialized configuration
	// names an unknown criterion kind or document version.
	ErrUnsupportedCriterion = errors.New("unsupported criterion")

	// ErrNoViableConfiguration is returned when every candidate was disqualified.
	ErrNoViableConfiguration = errors.New("no viable configuration")

	// ErrRoundTripMismatch marks a configuration that does not reproduce its grouping.
	ErrRoundTripMismatch = errors.New("round-trip mismatch")

	// ErrInvalidConfiguration is returned by the builder and the deserializer
	// for structurally invalid configurations.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrDuplicateLabel is returned when a registry already holds a different
	// configuration under the same label.
	ErrDuplicateLabel = errors.New("duplicate configuration label")
)

// Kind classifies a diagnostic.
type Kind int

const (
	TagMissing Kind = iota + 1
	GeometryInconsistent
	SortKeyConflict
	CountOutOfBounds
	UnsupportedCriterion
	NoViableConfiguration
	RoundTripMismatch
)

func (k Kind) String() string {
	switch k {
	case TagMissing:
		return "TagMissing"
	case GeometryInconsistent:
		return "GeometryInconsistent"
	case SortKeyConflict:
		return "SortKeyConflict"
	case CountOutOfBounds:
		return "CountOutOfBounds"
	case UnsupportedCriterion:
		return "UnsupportedCriterion"
	case NoViableConfiguration:
		return "NoViableConfiguration"
	case RoundTripMismatch:
		return "RoundTripMismatch"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Recoverable reports whether the analyzer handles the kind locally by
// demoting files instead of failing the run.
func (k Kind) Recoverable() bool {
	switch k {
	case TagMissing, GeometryInconsistent, SortKeyConflict, CountOutOfBounds:
		return true
	}
	return false
}

// Severity of a diagnostic.
type Severity int

const (
	SevWarning Severity = iota + 1
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	default:
		return "unknown"
	}
}

// Stage names the part of the pipeline that produced a diagnostic.
type Stage string

const (
	StageGrouping      Stage = "grouping"
	StageSorting       Stage = "sorting"
	StageGeometry      Stage = "geometry"
	StageSelection     Stage = "selection"
	StageSerialization Stage = "serialization"
	StageVerification  Stage = "verification"
)

// Diagnostic describes one problem together with the files or configuration
// fragment it concerns.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	Stage    Stage
	// Files holds the handles of the offending files, if any.
	Files []string
	// Fragment holds the offending configuration text or criterion, if any.
	Fragment string
	Message  string
}

// New creates an error-severity diagnostic.
func New(kind Kind, stage Stage, message string, files ...string) Diagnostic {
	return Diagnostic{
		Kind:     kind,
		Severity: SevError,
		Stage:    stage,
		Files:    append([]string(nil), files...),
		Message:  message,
	}
}

// Warning creates an advisory diagnostic.
func Warning(kind Kind, stage Stage, message string, files ...string) Diagnostic {
	d := New(kind, stage, message, files...)
	d.Severity = SevWarning
	return d
}

// WithFragment returns a copy of d carrying fragment.
func (d Diagnostic) WithFragment(fragment string) Diagnostic {
	d.Fragment = fragment
	return d
}

// Error implements error so diagnostics can travel through error returns.
func (d Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s/%s]: %s", d.Kind, d.Stage, d.Severity, d.Message)
	if len(d.Files) > 0 {
		fmt.Fprintf(&b, " (files: %s)", strings.Join(d.Files, ", "))
	}
	return b.String()
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (d Diagnostic) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", d.Kind.String())
	enc.AddString("severity", d.Severity.String())
	enc.AddString("stage", string(d.Stage))
	enc.AddString("message", d.Message)
	if d.Fragment != "" {
		enc.AddString("fragment", d.Fragment)
	}
	if len(d.Files) > 0 {
		return enc.AddArray("files", zapcore.ArrayMarshalerFunc(func(ae zapcore.ArrayEncoder) error {
			for _, f := range d.Files {
				ae.AppendString(f)
			}
			return nil
		}))
	}
	return nil
}

// HasKind reports whether any diagnostic in ds has kind k.
func HasKind(ds []Diagnostic, k Kind) bool {
	for _, d := range ds {
		if d.Kind == k {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(ds []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range ds {
		if d.Severity >= SevError {
			out = append(out, d)
		}
	}
	return out
}
