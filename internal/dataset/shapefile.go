package dataset

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ReadShapefile reads municipality boundaries from a shapefile. Attribute
// names are matched case-insensitively against opts.IDProperty and
// opts.NameProperty. Numeric attributes are kept as text in Properties.
func ReadShapefile(path string, opts DecodeOptions) (*Geometry, error) {
	opts = opts.withDefaults()
	opts.IDProperty = strings.ToUpper(opts.IDProperty)
	opts.NameProperty = strings.ToUpper(opts.NameProperty)
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToUpper(strings.TrimRight(f.String(), "\x00"))
	}

	var (
		features []*GeometryFeature
		skipped  int
	)
	for reader.Next() {
		n, shape := reader.Shape()

		props := make(map[string]any, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val != "" {
				props[name] = val
			}
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}
		mp := shapePolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		f, err := featureFromProperties(opts, n, mp, props)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}

	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "dataset: read shapefile %s", path)
	}

	if skipped > 0 {
		zap.L().Warn("dataset: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return NewGeometry(opts.Object, features)
}

// shapePolygon converts a shapefile polygon into a multipolygon. Shapefiles
// store outer rings clockwise and holes counter-clockwise; a hole attaches to
// the polygon opened by the most recent outer ring.
func shapePolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("dataset: skipping malformed polygon part", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		coords := make([]geom.Coord, 0, end-start)
		for j := start; j < end; j++ {
			coords = append(coords, geom.Coord{p.Points[j].X, p.Points[j].Y})
		}
		if len(coords) < 4 {
			continue
		}

		lr := geom.NewLinearRingFlat(geom.XY, flatCoords(coords))
		if signedArea(coords) < 0 || current == nil {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(lr); err != nil {
			zap.L().Debug("dataset: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is negative for clockwise rings.
func signedArea(coords []geom.Coord) float64 {
	var a float64
	for i := 0; i+1 < len(coords); i++ {
		a += coords[i][0]*coords[i+1][1] - coords[i+1][0]*coords[i][1]
	}
	return a / 2
}
