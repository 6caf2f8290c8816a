package dataset

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/vmt-browser/internal/registry"
)

// Observation is one year's data for a feature. Missing marks a municipality
// the year's source did not cover; Record is nil in that case.
type Observation struct {
	Record  *Record
	Missing bool
}

// EnrichedFeature is a boundary joined with every loaded year.
type EnrichedFeature struct {
	*GeometryFeature
	Years map[Year]Observation
}

// Observation returns the data for year. Years that were never loaded report
// Missing as well.
func (f *EnrichedFeature) Observation(year Year) Observation {
	obs, ok := f.Years[year]
	if !ok {
		return Observation{Missing: true}
	}
	return obs
}

// JoinReport lists the completeness findings of one join.
type JoinReport struct {
	Warnings []Warning
	// Missing counts features without a record, per year.
	Missing map[Year]int
	// Orphans counts tabular rows with no boundary, per year.
	Orphans map[Year]int
}

// Clean reports whether every feature matched every year and no rows were
// dropped.
func (r JoinReport) Clean() bool {
	return len(r.Warnings) == 0
}

// Dataset is the canonical joined collection. Features are in paint order:
// geometry load order, except for features moved by RelocateToEnd.
type Dataset struct {
	features []*EnrichedFeature
	index    map[registry.MunicipalityID]int
	geometry *Geometry
	tables   map[Year]*Table
	years    []Year
}

// Join attaches each year's records to the geometry. Geometry decides
// membership and order: boundaries without a row get a Missing observation and
// a WarnMissingRecord warning; rows without a boundary are dropped with a
// WarnOrphanRecord warning.
func Join(geometry *Geometry, tables map[Year]*Table) (*Dataset, JoinReport) {
	order := make([]registry.MunicipalityID, 0, len(geometry.Features))
	for _, f := range geometry.Features {
		order = append(order, f.ID)
	}
	return join(geometry, tables, order)
}

func join(geometry *Geometry, tables map[Year]*Table, order []registry.MunicipalityID) (*Dataset, JoinReport) {
	log := zap.L().With(zap.String("component", "dataset.join"))

	years := make([]Year, 0, len(tables))
	for y := range tables {
		years = append(years, y)
	}
	slices.Sort(years)

	report := JoinReport{Missing: make(map[Year]int), Orphans: make(map[Year]int)}
	ds := &Dataset{
		features: make([]*EnrichedFeature, 0, len(order)),
		index:    make(map[registry.MunicipalityID]int, len(order)),
		geometry: geometry,
		tables:   tables,
		years:    years,
	}

	for _, id := range order {
		gf, ok := geometry.Lookup(id)
		if !ok {
			continue
		}
		ef := &EnrichedFeature{GeometryFeature: gf, Years: make(map[Year]Observation, len(years))}
		for _, y := range years {
			rec, found := tables[y].Lookup(id)
			if !found {
				ef.Years[y] = Observation{Missing: true}
				report.Missing[y]++
				report.Warnings = append(report.Warnings, Warning{
					Kind:         WarnMissingRecord,
					Year:         y,
					Municipality: id,
					Message:      fmt.Sprintf("%s (%d) has no %d record", displayName(gf), id, y),
				})
				log.Warn("dataset: municipality missing from year",
					zap.Int("municipality_id", int(id)), zap.Int("year", int(y)))
				continue
			}
			ef.Years[y] = Observation{Record: rec}
		}
		ds.index[id] = len(ds.features)
		ds.features = append(ds.features, ef)
	}

	for _, y := range years {
		for _, id := range tables[y].Order {
			if _, ok := geometry.Lookup(id); ok {
				continue
			}
			report.Orphans[y]++
			report.Warnings = append(report.Warnings, Warning{
				Kind:         WarnOrphanRecord,
				Year:         y,
				Municipality: id,
				Message:      fmt.Sprintf("%d row for municipality %d has no boundary and was dropped", y, id),
			})
			log.Warn("dataset: dropping row without boundary",
				zap.Int("municipality_id", int(id)), zap.Int("year", int(y)))
		}
	}

	return ds, report
}

func displayName(f *GeometryFeature) string {
	if f.Name != "" {
		return f.Name
	}
	return "municipality"
}

// Features returns the features in paint order. The slice must not be
// modified.
func (d *Dataset) Features() []*EnrichedFeature { return d.features }

// Len returns the number of features.
func (d *Dataset) Len() int { return len(d.features) }

// Lookup returns the feature for id.
func (d *Dataset) Lookup(id registry.MunicipalityID) (*EnrichedFeature, bool) {
	i, ok := d.index[id]
	if !ok {
		return nil, false
	}
	return d.features[i], true
}

// Contains reports whether id has a boundary in the dataset.
func (d *Dataset) Contains(id registry.MunicipalityID) bool {
	_, ok := d.index[id]
	return ok
}

// Years returns the loaded years in ascending order.
func (d *Dataset) Years() []Year { return slices.Clone(d.years) }

// HasYear reports whether tabular data for y has been joined.
func (d *Dataset) HasYear(y Year) bool {
	_, ok := d.tables[y]
	return ok
}

// Geometry returns the boundary collection the dataset was joined from.
func (d *Dataset) Geometry() *Geometry { return d.geometry }

// RelocateToEnd moves the feature for id to the end of the paint order.
// Unknown ids leave the order untouched.
func (d *Dataset) RelocateToEnd(id registry.MunicipalityID) {
	if _, ok := d.index[id]; !ok {
		return
	}
	d.features = RelocateToEnd(d.features, id)
	for i, f := range d.features {
		d.index[f.ID] = i
	}
}

// WithYear returns a new Dataset that also carries table, replacing any table
// already loaded for the same year. The current paint order is kept and the
// receiver is left unchanged.
func (d *Dataset) WithYear(table *Table) (*Dataset, JoinReport) {
	tables := make(map[Year]*Table, len(d.tables)+1)
	for y, t := range d.tables {
		tables[y] = t
	}
	tables[table.Year] = table

	order := make([]registry.MunicipalityID, len(d.features))
	for i, f := range d.features {
		order[i] = f.ID
	}
	return join(d.geometry, tables, order)
}
