package dataset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/vmt-browser/internal/registry"
)

// HeaderRow marks a ParseError raised against the header rather than a row.
const HeaderRow = -1

// ParseError reports a malformed tabular row. Row is the zero-based data row
// index, or HeaderRow.
type ParseError struct {
	Year  Year
	Row   int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	where := fmt.Sprintf("row %d", e.Row)
	if e.Row == HeaderRow {
		where = "header"
	}
	msg := fmt.Sprintf("parse %d data: %s: field %s", e.Year, where, e.Field)
	if e.Value != "" {
		msg += fmt.Sprintf(" (%q)", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseErrors collects every rejected row of one load.
type ParseErrors []*ParseError

func (es ParseErrors) Error() string {
	switch len(es) {
	case 0:
		return "no parse errors"
	case 1:
		return es[0].Error()
	}
	const shown = 3
	parts := make([]string, 0, shown)
	for i, e := range es {
		if i == shown {
			break
		}
		parts = append(parts, e.Error())
	}
	more := ""
	if len(es) > shown {
		more = fmt.Sprintf(" (and %d more)", len(es)-shown)
	}
	return fmt.Sprintf("%d parse errors: %s%s", len(es), strings.Join(parts, "; "), more)
}

// Unwrap exposes the individual errors to errors.As.
func (es ParseErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// GeometryError reports a missing or malformed boundary collection.
type GeometryError struct {
	Object  string
	Feature int // -1 when the error is not about a single feature
	Msg     string
	Err     error
}

func (e *GeometryError) Error() string {
	msg := "geometry"
	if e.Object != "" {
		msg += " " + e.Object
	}
	if e.Feature >= 0 {
		msg += fmt.Sprintf(" feature %d", e.Feature)
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GeometryError) Unwrap() error { return e.Err }

func geometryErr(object string, feature int, msg string, err error) *GeometryError {
	return &GeometryError{Object: object, Feature: feature, Msg: msg, Err: err}
}

// IsParseError reports whether err carries a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsGeometryError reports whether err carries a GeometryError.
func IsGeometryError(err error) bool {
	var ge *GeometryError
	return errors.As(err, &ge)
}

// WarningKind classifies a non-fatal data-quality finding.
type WarningKind string

// Data-quality warning kinds.
const (
	WarnDuplicateRow  WarningKind = "duplicate_row"
	WarnMissingRecord WarningKind = "missing_record"
	WarnOrphanRecord  WarningKind = "orphan_record"
)

// Warning is a data-quality finding that does not abort a load.
type Warning struct {
	Kind         WarningKind             `json:"kind"`
	Year         Year                    `json:"year"`
	Municipality registry.MunicipalityID `json:"municipality_id"`
	Row          int                     `json:"row,omitempty"`
	Message      string                  `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}
