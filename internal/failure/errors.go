// Package failure defines the error taxonomy shared by the classification
// engine. Each type wraps an underlying cause and is detected with errors.As,
// so callers can decide between "log and continue" and "abort the county".
package failure

import (
	"errors"
	"fmt"
)

// SchemaError reports a required pseg column that is missing and has no
// safe default, or an input that violates the layer contract (wrong CRS,
// duplicate keys after repair). Fatal for the county.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: column %q: %s", e.Column, e.Reason)
}

// NewSchemaError returns a SchemaError for column.
func NewSchemaError(column, reason string) *SchemaError {
	return &SchemaError{Column: column, Reason: reason}
}

// FlexibleColumnMissing reports a required column that was absent but
// defaulted locally. It is never returned up the stack; it is collected
// into the run report.
type FlexibleColumnMissing struct {
	Column  string
	Default any
}

func (e *FlexibleColumnMissing) Error() string {
	return fmt.Sprintf("flexible column %q missing, defaulted to %v", e.Column, e.Default)
}

// GeometryError wraps a failure to mask, intersect or measure one geometry.
type GeometryError struct {
	ID  int64
	Op  string
	Err error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry %d: %s: %v", e.ID, e.Op, e.Err)
}

func (e *GeometryError) Unwrap() error {
	return e.Err
}

// NewGeometryError wraps err as a GeometryError for feature id.
func NewGeometryError(id int64, op string, err error) *GeometryError {
	return &GeometryError{ID: id, Op: op, Err: err}
}

// AncillaryMissing reports a named ancillary layer that is not configured,
// does not exist on disk, or is empty for the requested extent.
type AncillaryMissing struct {
	Layer string
	Path  string
	Err   error
}

func (e *AncillaryMissing) Error() string {
	msg := fmt.Sprintf("ancillary layer %q missing", e.Layer)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AncillaryMissing) Unwrap() error {
	return e.Err
}

// NewAncillaryMissing returns an AncillaryMissing for layer.
func NewAncillaryMissing(layer, path string, err error) *AncillaryMissing {
	return &AncillaryMissing{Layer: layer, Path: path, Err: err}
}

// RuleExecutionError wraps an unexpected failure inside one cascade rule.
type RuleExecutionError struct {
	Rule string
	Err  error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.Rule, e.Err)
}

func (e *RuleExecutionError) Unwrap() error {
	return e.Err
}

// NewRuleExecutionError wraps err for rule.
func NewRuleExecutionError(rule string, err error) *RuleExecutionError {
	return &RuleExecutionError{Rule: rule, Err: err}
}

// UnresolvedClassification reports rows left without a land-use label after
// the catch-all rule. It indicates a defect in the rule set.
type UnresolvedClassification struct {
	Count  int
	Sample []int64
}

func (e *UnresolvedClassification) Error() string {
	return fmt.Sprintf("%d psegs unclassified after catch-all (sample PSIDs %v)", e.Count, e.Sample)
}

// IsSchema reports whether err contains a SchemaError.
func IsSchema(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsAncillaryMissing reports whether err contains an AncillaryMissing.
func IsAncillaryMissing(err error) bool {
	var am *AncillaryMissing
	return errors.As(err, &am)
}

// IsGeometry reports whether err contains a GeometryError.
func IsGeometry(err error) bool {
	var ge *GeometryError
	return errors.As(err, &ge)
}

// IsUnresolved reports whether err contains an UnresolvedClassification.
func IsUnresolved(err error) bool {
	var ue *UnresolvedClassification
	return errors.As(err, &ue)
}

// IsFatal reports whether err must terminate the run for the current county.
// Schema violations and catch-all failures are fatal; everything else in the
// taxonomy degrades to a skipped rule or an empty contribution.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return IsSchema(err) || IsUnresolved(err)
}
