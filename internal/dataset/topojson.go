package dataset

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

type topology struct {
	Type      string                     `json:"type"`
	Transform *topoTransform             `json:"transform"`
	Objects   map[string]json.RawMessage `json:"objects"`
	Arcs      [][][]float64              `json:"arcs"`
}

type topoTransform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

type topoGeometry struct {
	Type       string          `json:"type"`
	ID         any             `json:"id"`
	Arcs       json.RawMessage `json:"arcs"`
	Properties map[string]any  `json:"properties"`
	Geometries []topoGeometry  `json:"geometries"`
}

// DecodeTopoJSON reads the named object of a TopoJSON topology. Quantized
// topologies are delta-decoded through their transform. A missing object is a
// GeometryError; null geometries are skipped.
func DecodeTopoJSON(r io.Reader, opts DecodeOptions) (*Geometry, error) {
	opts = opts.withDefaults()
	var topo topology
	if err := json.NewDecoder(r).Decode(&topo); err != nil {
		return nil, geometryErr(opts.Object, -1, "malformed topojson", err)
	}
	if topo.Type != "Topology" {
		return nil, geometryErr(opts.Object, -1, "expected Topology, got "+strconv.Quote(topo.Type), nil)
	}
	raw, ok := topo.Objects[opts.Object]
	if !ok {
		return nil, geometryErr(opts.Object, -1, "object not found in topology", nil)
	}
	var obj topoGeometry
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, geometryErr(opts.Object, -1, "malformed object", err)
	}

	arcs := decodeArcs(topo.Arcs, topo.Transform)

	members := obj.Geometries
	if obj.Type != "GeometryCollection" {
		members = []topoGeometry{obj}
	}

	features := make([]*GeometryFeature, 0, len(members))
	for i, m := range members {
		if m.Type == "" || len(m.Arcs) == 0 {
			zap.L().Warn("dataset: skipping feature without geometry",
				zap.String("object", opts.Object), zap.Int("feature", i))
			continue
		}
		g, err := m.polygons(arcs)
		if err != nil {
			return nil, geometryErr(opts.Object, i, "decode "+m.Type, err)
		}
		props := m.Properties
		if props == nil {
			props = map[string]any{}
		}
		if _, has := props[opts.IDProperty]; !has && m.ID != nil {
			props[opts.IDProperty] = m.ID
		}
		f, err := featureFromProperties(opts, i, g, props)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return NewGeometry(opts.Object, features)
}

// decodeArcs resolves every arc to absolute coordinates.
func decodeArcs(arcs [][][]float64, tr *topoTransform) [][]geom.Coord {
	out := make([][]geom.Coord, len(arcs))
	for i, arc := range arcs {
		pts := make([]geom.Coord, 0, len(arc))
		var x, y float64
		for _, p := range arc {
			if len(p) < 2 {
				continue
			}
			if tr == nil {
				pts = append(pts, geom.Coord{p[0], p[1]})
				continue
			}
			x += p[0]
			y += p[1]
			pts = append(pts, geom.Coord{
				x*tr.Scale[0] + tr.Translate[0],
				y*tr.Scale[1] + tr.Translate[1],
			})
		}
		out[i] = pts
	}
	return out
}

// ring stitches arc references into one closed ring. A negative reference
// ~i walks arc i backwards. The first point of each arc after the first
// duplicates the previous arc's last point and is dropped.
func ring(arcs [][]geom.Coord, refs []int) ([]geom.Coord, error) {
	var pts []geom.Coord
	for k, ref := range refs {
		idx, reverse := ref, false
		if ref < 0 {
			idx, reverse = ^ref, true
		}
		if idx >= len(arcs) {
			return nil, eris.Errorf("arc %d out of range (%d arcs)", idx, len(arcs))
		}
		arc := arcs[idx]
		n := len(arc)
		for j := 0; j < n; j++ {
			if k > 0 && j == 0 {
				continue
			}
			p := arc[j]
			if reverse {
				p = arc[n-1-j]
			}
			pts = append(pts, p)
		}
	}
	if len(pts) == 0 {
		return nil, eris.New("empty ring")
	}
	if first, last := pts[0], pts[len(pts)-1]; first[0] != last[0] || first[1] != last[1] {
		pts = append(pts, first)
	}
	if len(pts) < 4 {
		return nil, eris.Errorf("ring has %d points, need at least 4", len(pts))
	}
	return pts, nil
}

func polygonFromRings(arcs [][]geom.Coord, rings [][]int) (*geom.Polygon, error) {
	poly := geom.NewPolygon(geom.XY)
	for _, refs := range rings {
		pts, err := ring(arcs, refs)
		if err != nil {
			return nil, err
		}
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flatCoords(pts))); err != nil {
			return nil, eris.Wrap(err, "push ring")
		}
	}
	return poly, nil
}

func (g topoGeometry) polygons(arcs [][]geom.Coord) (geom.T, error) {
	switch g.Type {
	case "Polygon":
		var rings [][]int
		if err := json.Unmarshal(g.Arcs, &rings); err != nil {
			return nil, eris.Wrap(err, "polygon arcs")
		}
		return polygonFromRings(arcs, rings)
	case "MultiPolygon":
		var polys [][][]int
		if err := json.Unmarshal(g.Arcs, &polys); err != nil {
			return nil, eris.Wrap(err, "multipolygon arcs")
		}
		mp := geom.NewMultiPolygon(geom.XY)
		for _, rings := range polys {
			poly, err := polygonFromRings(arcs, rings)
			if err != nil {
				return nil, err
			}
			if err := mp.Push(poly); err != nil {
				return nil, eris.Wrap(err, "push polygon")
			}
		}
		return mp, nil
	default:
		return nil, eris.Errorf("unsupported type %q", g.Type)
	}
}

// flatCoords converts a slice of Coord to flat coordinate pairs for go-geom.
func flatCoords(coords []geom.Coord) []float64 {
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	return flat
}
