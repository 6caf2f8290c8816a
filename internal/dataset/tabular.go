package dataset

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vmt-browser/internal/fetcher"
	"github.com/sells-group/vmt-browser/internal/registry"
)

// Table is the parsed tabular data for one year, keyed by municipality.
type Table struct {
	Year    Year
	Records map[registry.MunicipalityID]*Record
	// Order lists ids in first-seen source order.
	Order []registry.MunicipalityID
}

// Lookup returns the record for id.
func (t *Table) Lookup(id registry.MunicipalityID) (*Record, bool) {
	r, ok := t.Records[id]
	return r, ok
}

// layout maps header columns to metric cells for one source file.
type layout struct {
	families map[Family]familyColumns
	hasName  bool
}

type familyColumns struct {
	cells [3][4]string
	total string
}

func buildLayout(year Year, header []string) (*layout, ParseErrors) {
	declared := make(map[string]bool, len(header))
	for _, h := range header {
		declared[h] = true
	}
	if !declared[IDField] {
		return nil, ParseErrors{{Year: year, Row: HeaderRow, Field: IDField, Err: eris.New("column missing")}}
	}

	l := &layout{families: make(map[Family]familyColumns), hasName: declared[NameField]}
	var errs ParseErrors
	for _, f := range Families {
		var cols familyColumns
		present, missing := 0, []string{}
		for ci, c := range Classes {
			for pi, p := range Periods {
				name := f.Field(c, p)
				if declared[name] {
					cols.cells[ci][pi] = name
					present++
				} else {
					missing = append(missing, name)
				}
			}
		}
		if declared[f.TotalField()] {
			cols.total = f.TotalField()
		}
		if present == 0 && cols.total == "" {
			continue
		}
		if len(missing) > 0 {
			for _, name := range missing {
				errs = append(errs, &ParseError{Year: year, Row: HeaderRow, Field: name, Err: eris.Errorf("%s family is incomplete", f)})
			}
			continue
		}
		l.families[f] = cols
	}
	return l, errs
}

// ParseTabular reads one year's CSV into a Table. Every metric column is
// converted strictly: blank, non-numeric or non-finite text rejects the row
// with a ParseError rather than being read as zero. A missing or non-numeric
// TOWN_ID likewise rejects the row. Rejected rows are left out of the
// returned Table and reported together as ParseErrors; callers abort the load
// on a non-nil error. Duplicate ids keep the last row and produce a Warning.
func ParseTabular(ctx context.Context, r io.Reader, year Year) (*Table, []Warning, error) {
	log := zap.L().With(zap.String("component", "dataset.tabular"), zap.Int("year", int(year)))

	header, rows, err := fetcher.ReadRows(ctx, r)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "dataset: read %d data", year)
	}

	l, errs := buildLayout(year, header)
	if l == nil || len(errs) > 0 {
		return nil, nil, errs
	}

	t := &Table{Year: year, Records: make(map[registry.MunicipalityID]*Record, len(rows))}
	var warnings []Warning
	for _, row := range rows {
		rec, rowErrs := parseRow(l, year, row)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		if _, dup := t.Records[rec.ID]; dup {
			w := Warning{
				Kind:         WarnDuplicateRow,
				Year:         year,
				Municipality: rec.ID,
				Row:          row.Index,
				Message:      fmt.Sprintf("municipality %d appears more than once in %d data; row %d replaces the earlier row", rec.ID, year, row.Index),
			}
			log.Warn("dataset: duplicate municipality row", zap.Int("municipality_id", int(rec.ID)), zap.Int("row", row.Index))
			warnings = append(warnings, w)
		} else {
			t.Order = append(t.Order, rec.ID)
		}
		t.Records[rec.ID] = rec
	}

	if len(errs) > 0 {
		log.Warn("dataset: rows rejected", zap.Int("rejected", len(errs)), zap.Int("accepted", len(t.Records)))
		return t, warnings, errs
	}
	log.Debug("dataset: parsed tabular data", zap.Int("records", len(t.Records)))
	return t, warnings, nil
}

func parseRow(l *layout, year Year, row fetcher.Row) (*Record, ParseErrors) {
	rawID, _ := row.Get(IDField)
	id, err := registry.ParseID(rawID)
	if err != nil {
		return nil, ParseErrors{{Year: year, Row: row.Index, Field: IDField, Value: rawID, Err: eris.New("municipality id must be a positive integer")}}
	}

	rec := &Record{ID: id, Year: year, Metrics: make(map[Family]*FamilyMetrics, len(l.families))}
	if l.hasName {
		name, _ := row.Get(NameField)
		rec.Name = registry.TitleCase(name)
	}

	var errs ParseErrors
	number := func(field string) float64 {
		raw, _ := row.Get(field)
		v, err := parseNumber(raw)
		if err != nil {
			errs = append(errs, &ParseError{Year: year, Row: row.Index, Field: field, Value: raw, Err: err})
		}
		return v
	}

	for _, f := range Families {
		cols, ok := l.families[f]
		if !ok {
			continue
		}
		m := &FamilyMetrics{}
		for ci := range Classes {
			for pi := range Periods {
				m.Values[ci][pi] = number(cols.cells[ci][pi])
			}
		}
		if cols.total != "" {
			m.Total = number(cols.total)
			m.HasTotal = true
		}
		rec.Metrics[f] = m
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return rec, nil
}

func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, eris.New("empty value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.New("not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.New("not a finite number")
	}
	return v, nil
}
