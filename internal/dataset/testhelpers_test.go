package dataset

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/vmt-browser/internal/registry"
)

// vmtCSV builds a CSV carrying only the VMT family. Each row is
// id, name, twelve class/period values (SOV AM..NT, HOV AM..NT, TRK AM..NT),
// then the total.
func vmtCSV(rows ...[]string) string {
	cols := []string{IDField, NameField}
	for _, c := range Classes {
		for _, p := range Periods {
			cols = append(cols, VMT.Field(c, p))
		}
	}
	cols = append(cols, VMT.TotalField())

	var b strings.Builder
	b.WriteString(strings.Join(cols, ","))
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString(strings.Join(r, ","))
		b.WriteString("\n")
	}
	return b.String()
}

// vmtRow fills every cell with v and sets the total to 12*v.
func vmtRow(id int, name string, v float64) []string {
	row := []string{fmt.Sprint(id), name}
	for i := 0; i < 12; i++ {
		row = append(row, fmt.Sprint(v))
	}
	return append(row, fmt.Sprint(12*v))
}

func square(x, y float64) *geom.MultiPolygon {
	ring := geom.NewLinearRingFlat(geom.XY, []float64{x, y, x + 1, y, x + 1, y + 1, x, y + 1, x, y})
	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(ring); err != nil {
		panic(err)
	}
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(poly); err != nil {
		panic(err)
	}
	return mp
}

func testGeometry(ids ...int) *Geometry {
	features := make([]*GeometryFeature, 0, len(ids))
	for i, id := range ids {
		features = append(features, &GeometryFeature{
			ID:       registry.MunicipalityID(id),
			Name:     fmt.Sprintf("Town %d", id),
			Geometry: square(float64(i), 0),
		})
	}
	g, err := NewGeometry("test", features)
	if err != nil {
		panic(err)
	}
	return g
}

func testTable(year Year, ids ...int) *Table {
	t := &Table{Year: year, Records: make(map[registry.MunicipalityID]*Record)}
	for _, id := range ids {
		mid := registry.MunicipalityID(id)
		m := &FamilyMetrics{Total: 12, HasTotal: true}
		for ci := range Classes {
			for pi := range Periods {
				m.Values[ci][pi] = 1
			}
		}
		t.Records[mid] = &Record{ID: mid, Year: year, Metrics: map[Family]*FamilyMetrics{VMT: m}}
		t.Order = append(t.Order, mid)
	}
	return t
}

func featureIDs(features []*EnrichedFeature) []registry.MunicipalityID {
	out := make([]registry.MunicipalityID, len(features))
	for i, f := range features {
		out[i] = f.ID
	}
	return out
}

func ids(xs ...int) []registry.MunicipalityID {
	out := make([]registry.MunicipalityID, len(xs))
	for i, x := range xs {
		out[i] = registry.MunicipalityID(x)
	}
	return out
}
