// Package aggregate builds the per-class and grand-total display rows shown
// in a municipality's data tables.
package aggregate

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/vmt-browser/internal/dataset"
)

// DefaultTolerance is the largest supplied-vs-recomputed total difference
// that is not reported as a discrepancy.
const DefaultTolerance = 0.5

// TotalLabel titles the grand-total row.
const TotalLabel = "Total (SOV, HOV, Trucks)"

// DailyLabel heads the daily column.
const DailyLabel = "Daily"

// ErrNoRecord is returned when there is nothing to aggregate.
var ErrNoRecord = eris.New("aggregate: no record")

// ErrFamilyMissing is returned when the record carries no data for a family.
var ErrFamilyMissing = eris.New("aggregate: family not in record")

var titles = map[dataset.Family]string{
	dataset.VMT: "Vehicle Miles of Travel for ",
	dataset.VHT: "Vehicle Hours of Travel for ",
	dataset.VOC: "Volatile Organic Compounds, grams, for ",
	dataset.NOX: "Nitrogen Oxides, grams, for ",
	dataset.CO:  "Carbon Monoxide, grams, for ",
	dataset.CO2: "Carbon Dioxide, grams, for ",
}

// Title returns the table caption for a family and municipality name.
func Title(f dataset.Family, town string) string {
	prefix, ok := titles[f]
	if !ok {
		prefix = string(f) + " for "
	}
	return prefix + town
}

// Headers returns the column headers: the four periods, then Daily.
func Headers() []string {
	out := make([]string, 0, len(dataset.Periods)+1)
	for _, p := range dataset.Periods {
		out = append(out, p.Label())
	}
	return append(out, DailyLabel)
}

// DisplayRow is one table row. Periods and Daily are rounded to whole units;
// Cells carries the same five values formatted for display.
type DisplayRow struct {
	Label   string        `json:"label"`
	Class   dataset.Class `json:"class,omitempty"`
	Periods [4]float64    `json:"periods"`
	Daily   float64       `json:"daily"`
	Cells   []string      `json:"cells"`
}

// Discrepancy records a source total that disagrees with the sum of its
// components. The supplied value is what the table shows.
type Discrepancy struct {
	Supplied   float64 `json:"supplied"`
	Recomputed float64 `json:"recomputed"`
	Difference float64 `json:"difference"`
}

// Result is one family's table for one record.
type Result struct {
	Family      dataset.Family `json:"family"`
	Title       string         `json:"title"`
	Headers     []string       `json:"headers"`
	Rows        []DisplayRow   `json:"rows"`
	Discrepancy *Discrepancy   `json:"discrepancy,omitempty"`
}

// Aggregator formats rows for one locale.
type Aggregator struct {
	printer   *message.Printer
	tolerance float64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLocale formats numbers for tag.
func WithLocale(tag language.Tag) Option {
	return func(a *Aggregator) { a.printer = message.NewPrinter(tag) }
}

// WithTolerance overrides DefaultTolerance.
func WithTolerance(tol float64) Option {
	return func(a *Aggregator) { a.tolerance = tol }
}

// New returns an Aggregator formatting for en-US by default.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		printer:   message.NewPrinter(language.AmericanEnglish),
		tolerance: DefaultTolerance,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

var defaultAggregator = New()

// Aggregate builds a family's table with the default en-US Aggregator.
func Aggregate(rec *dataset.Record, f dataset.Family) (Result, error) {
	return defaultAggregator.Aggregate(rec, f)
}

// AggregateAll builds every family present in rec with the default Aggregator.
func AggregateAll(rec *dataset.Record) ([]Result, error) {
	return defaultAggregator.AggregateAll(rec)
}

// Aggregate builds three class rows and the grand-total row. Class rows carry
// a derived daily sum. The grand-total row's periods are cross-class sums and
// its daily value is the source total when one was supplied. Every value is
// summed at full precision and rounded once.
func (a *Aggregator) Aggregate(rec *dataset.Record, f dataset.Family) (Result, error) {
	if rec == nil {
		return Result{}, ErrNoRecord
	}
	m := rec.Family(f)
	if m == nil {
		return Result{}, eris.Wrapf(ErrFamilyMissing, "%s for municipality %d", f, rec.ID)
	}

	res := Result{
		Family:  f,
		Title:   Title(f, rec.Name),
		Headers: Headers(),
		Rows:    make([]DisplayRow, 0, len(dataset.Classes)+1),
	}

	var periodTotals [4]float64
	for _, c := range dataset.Classes {
		var periods [4]float64
		for i, p := range dataset.Periods {
			v := m.Cell(c, p)
			periods[i] = v
			periodTotals[i] += v
		}
		res.Rows = append(res.Rows, a.row(c.Label(), c, periods, m.PeriodSum(c)))
	}

	recomputed := m.ComponentSum()
	daily := recomputed
	if m.HasTotal {
		daily = m.Total
		if diff := m.Total - recomputed; math.Abs(diff) > a.tolerance {
			res.Discrepancy = &Discrepancy{Supplied: m.Total, Recomputed: recomputed, Difference: diff}
			zap.L().Warn("aggregate: supplied total disagrees with components",
				zap.String("family", string(f)),
				zap.Int("municipality_id", int(rec.ID)),
				zap.Int("year", int(rec.Year)),
				zap.Float64("supplied", m.Total),
				zap.Float64("recomputed", recomputed),
			)
		}
	}
	res.Rows = append(res.Rows, a.row(TotalLabel, "", periodTotals, daily))
	return res, nil
}

// AggregateAll builds one table per family present in rec, in display order.
func (a *Aggregator) AggregateAll(rec *dataset.Record) ([]Result, error) {
	if rec == nil {
		return nil, ErrNoRecord
	}
	var out []Result
	for _, f := range dataset.Families {
		if rec.Family(f) == nil {
			continue
		}
		r, err := a.Aggregate(rec, f)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Format rounds v half away from zero and applies locale grouping.
func (a *Aggregator) Format(v float64) string {
	return a.printer.Sprintf("%d", int64(math.Round(v)))
}

func (a *Aggregator) row(label string, c dataset.Class, periods [4]float64, daily float64) DisplayRow {
	r := DisplayRow{Label: label, Class: c, Cells: make([]string, 0, 5)}
	for i, v := range periods {
		r.Periods[i] = math.Round(v)
		r.Cells = append(r.Cells, a.Format(v))
	}
	r.Daily = math.Round(daily)
	r.Cells = append(r.Cells, a.Format(daily))
	return r
}
