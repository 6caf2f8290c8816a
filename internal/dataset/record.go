package dataset

import (
	"github.com/sells-group/vmt-browser/internal/registry"
)

// Year is a modeled forecast year.
type Year int

// FamilyMetrics holds one metric family for one municipality and year.
// Values is indexed by position in Classes and Periods.
type FamilyMetrics struct {
	Values   [3][4]float64
	Total    float64
	HasTotal bool
}

// Cell returns the value for one class and period.
func (m *FamilyMetrics) Cell(c Class, p Period) float64 {
	return m.Values[classIndex(c)][periodIndex(p)]
}

// PeriodSum returns the sum of the four periods for a class.
func (m *FamilyMetrics) PeriodSum(c Class) float64 {
	var sum float64
	for _, v := range m.Values[classIndex(c)] {
		sum += v
	}
	return sum
}

// ComponentSum returns the sum of every class/period cell.
func (m *FamilyMetrics) ComponentSum() float64 {
	var sum float64
	for _, c := range Classes {
		sum += m.PeriodSum(c)
	}
	return sum
}

// Record is the parsed tabular data for one municipality and year.
type Record struct {
	ID      registry.MunicipalityID
	Name    string
	Year    Year
	Metrics map[Family]*FamilyMetrics
}

// Family returns the metrics for f, or nil when the source carried none.
func (r *Record) Family(f Family) *FamilyMetrics {
	if r == nil {
		return nil
	}
	return r.Metrics[f]
}

// Value resolves a source column name such as VMT_TOTAL or CO_HOV_PM.
func (r *Record) Value(field string) (float64, bool) {
	f, c, p, total, ok := splitField(field)
	if !ok {
		return 0, false
	}
	m := r.Family(f)
	if m == nil {
		return 0, false
	}
	if total {
		return m.Total, m.HasTotal
	}
	return m.Cell(c, p), true
}

func classIndex(c Class) int {
	for i, x := range Classes {
		if x == c {
			return i
		}
	}
	panic("dataset: unknown class " + string(c))
}

func periodIndex(p Period) int {
	for i, x := range Periods {
		if x == p {
			return i
		}
	}
	panic("dataset: unknown period " + string(p))
}
