package dataset

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/vmt-browser/internal/registry"
)

// GeometryFeature is one municipality boundary.
type GeometryFeature struct {
	ID         registry.MunicipalityID
	Name       string
	Geometry   *geom.MultiPolygon
	Properties map[string]any
}

// Geometry is a decoded boundary collection in source order.
type Geometry struct {
	Name     string
	Features []*GeometryFeature
	index    map[registry.MunicipalityID]int
}

// NewGeometry indexes features by id. Duplicate ids are rejected.
func NewGeometry(name string, features []*GeometryFeature) (*Geometry, error) {
	g := &Geometry{Name: name, Features: features, index: make(map[registry.MunicipalityID]int, len(features))}
	for i, f := range features {
		if f.ID == 0 {
			continue
		}
		if prev, dup := g.index[f.ID]; dup {
			return nil, geometryErr(name, i, "duplicate municipality id "+f.ID.String()+" (first at feature "+strconv.Itoa(prev)+")", nil)
		}
		g.index[f.ID] = i
	}
	return g, nil
}

// Lookup returns the feature for id.
func (g *Geometry) Lookup(id registry.MunicipalityID) (*GeometryFeature, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.Features[i], true
}

// Len returns the number of features.
func (g *Geometry) Len() int { return len(g.Features) }

// DecodeOptions controls how feature properties map to ids and names.
type DecodeOptions struct {
	// Object names the topology object or feature collection to read.
	Object string
	// IDProperty defaults to TOWN_ID.
	IDProperty string
	// NameProperty defaults to TOWN.
	NameProperty string
	// RequireID rejects features whose id property is missing or malformed.
	// Context outlines are loaded without it.
	RequireID bool
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.IDProperty == "" {
		o.IDProperty = IDField
	}
	if o.NameProperty == "" {
		o.NameProperty = NameField
	}
	return o
}

// featureFromProperties resolves id and name and attaches the geometry.
func featureFromProperties(opts DecodeOptions, idx int, g geom.T, props map[string]any) (*GeometryFeature, error) {
	mp, err := toMultiPolygon(g)
	if err != nil {
		return nil, geometryErr(opts.Object, idx, "unsupported geometry", err)
	}

	f := &GeometryFeature{Geometry: mp, Properties: props}
	id, err := propertyID(props[opts.IDProperty])
	switch {
	case err == nil:
		f.ID = id
	case opts.RequireID:
		return nil, geometryErr(opts.Object, idx, "property "+opts.IDProperty, err)
	}
	if name, ok := props[opts.NameProperty].(string); ok {
		f.Name = registry.TitleCase(name)
	}
	return f, nil
}

// propertyID accepts numeric or string ids.
func propertyID(v any) (registry.MunicipalityID, error) {
	switch x := v.(type) {
	case nil:
		return 0, eris.New("missing")
	case float64:
		if x != float64(int(x)) || x <= 0 {
			return 0, eris.Errorf("invalid id %v", x)
		}
		return registry.MunicipalityID(int(x)), nil
	case json.Number:
		return registry.ParseID(x.String())
	case string:
		return registry.ParseID(strings.TrimSpace(x))
	default:
		return 0, eris.Errorf("unsupported id type %T", v)
	}
}

// toMultiPolygon promotes polygons so every feature shares one geometry type.
func toMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "dataset: promote polygon")
		}
		return mp, nil
	case nil:
		return nil, eris.New("null geometry")
	default:
		return nil, eris.Errorf("%T is not polygonal", g)
	}
}

// DecodeGeoJSON reads a GeoJSON FeatureCollection. When opts.Object is set
// and the document carries a top-level "name" member, the two must match.
// Features with a null geometry are skipped.
func DecodeGeoJSON(r io.Reader, opts DecodeOptions) (*Geometry, error) {
	opts = opts.withDefaults()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read geojson")
	}

	var head struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, geometryErr(opts.Object, -1, "malformed geojson", err)
	}
	if head.Type != "FeatureCollection" {
		return nil, geometryErr(opts.Object, -1, "expected FeatureCollection, got "+strconv.Quote(head.Type), nil)
	}
	if opts.Object != "" && head.Name != "" && head.Name != opts.Object {
		return nil, geometryErr(opts.Object, -1, "collection not found (document is "+strconv.Quote(head.Name)+")", nil)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, geometryErr(opts.Object, -1, "decode features", err)
	}

	features := make([]*GeometryFeature, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			zap.L().Warn("dataset: skipping feature without geometry",
				zap.String("object", opts.Object), zap.Int("feature", i))
			continue
		}
		gf, err := featureFromProperties(opts, i, f.Geometry, f.Properties)
		if err != nil {
			return nil, err
		}
		features = append(features, gf)
	}

	name := opts.Object
	if name == "" {
		name = head.Name
	}
	return NewGeometry(name, features)
}

// EncodeFeature converts a boundary to a GeoJSON feature with the given
// extra properties merged over its own.
func EncodeFeature(f *GeometryFeature, extra map[string]any) *geojson.Feature {
	props := make(map[string]any, len(f.Properties)+len(extra)+2)
	for k, v := range f.Properties {
		props[k] = v
	}
	if f.ID != 0 {
		props[IDField] = int(f.ID)
	}
	if f.Name != "" {
		props["name"] = f.Name
	}
	for k, v := range extra {
		props[k] = v
	}
	out := &geojson.Feature{Geometry: f.Geometry, Properties: props}
	if f.ID != 0 {
		out.ID = f.ID.String()
	}
	return out
}
