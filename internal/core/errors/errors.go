package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline stage names, used in error messages and per-year reports.
const (
	StageLoadBoundaries = "load_boundaries"
	StageLoadFeatures   = "load_features"
	StageAggregate      = "aggregate"
	StageExport         = "export"
	StageStore          = "store"
)

// Common errors
var (
	ErrMissingField   = errors.New("required field is missing")
	ErrDuplicateID    = errors.New("duplicate boundary id")
	ErrDuplicateLayer = errors.New("duplicate layer name")
	ErrNotWritable    = errors.New("destination is not writable")
	ErrInvalidGeom    = errors.New("invalid geometry")
)

// LoadError reports a source that is missing, unreadable or has a malformed schema.
type LoadError struct {
	Stage string
	Path  string
	Layer string // empty for boundary sources
	Err   error
}

func (e *LoadError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("%s: layer %q (%s): %v", e.Stage, e.Layer, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// JoinError reports a spatial predicate or overlay failure for one layer.
type JoinError struct {
	Layer string
	Kind  string
	Err   error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%s: layer %q (%s): %v", StageAggregate, e.Layer, e.Kind, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// ExportError reports a destination that could not be written.
type ExportError struct {
	Stage string
	Path  string
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// UnsupportedKindError is returned for layers whose geometries are not all
// points, all lines or all polygons.
type UnsupportedKindError struct {
	Layer string
	Kinds []string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("layer %q has unsupported geometry mix [%s]", e.Layer, strings.Join(e.Kinds, ", "))
}

// StageOf returns the pipeline stage an error belongs to, or "" if unknown.
func StageOf(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Stage
	}
	var je *JoinError
	if errors.As(err, &je) {
		return StageAggregate
	}
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Stage
	}
	return ""
}

// LayerOf returns the feature layer an error refers to, or "".
func LayerOf(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Layer
	}
	var je *JoinError
	if errors.As(err, &je) {
		return je.Layer
	}
	var ue *UnsupportedKindError
	if errors.As(err, &ue) {
		return ue.Layer
	}
	return ""
}
