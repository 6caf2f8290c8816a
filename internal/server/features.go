package server

import (
	"net/http"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/vmt-browser/internal/dataset"
	"github.com/sells-group/vmt-browser/internal/session"
)

const geoJSONType = "application/geo+json"

// handleFeatures serves the boundaries in paint order, each carrying the
// current fill color, value and selection flag. The selected municipality is
// the last feature so a renderer drawing in order paints it on top.
func (s *Server) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	v := s.sess.View()
	if v.Event == nil {
		s.writeError(w, &session.DataNotReady{Status: v.Status})
		return
	}

	styles := make(map[int]session.FeatureStyle, len(v.Event.Map.Features))
	for _, st := range v.Event.Map.Features {
		styles[int(st.ID)] = st
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(v.Features))}
	for _, f := range v.Features {
		fc.Features = append(fc.Features, dataset.EncodeFeature(f.GeometryFeature, styleProperties(styles[int(f.ID)])))
	}
	writeBody(w, http.StatusOK, geoJSONType, fc)
}

func styleProperties(st session.FeatureStyle) map[string]any {
	props := map[string]any{
		"bucket":   st.Bucket,
		"selected": st.Selected,
		"missing":  st.Missing,
	}
	if st.Color != "" {
		props["fill"] = st.Color
	}
	if st.Value != nil {
		props["value"] = *st.Value
	}
	return props
}

// handleOutline serves the context outline drawn beneath the municipalities.
func (s *Server) handleOutline(w http.ResponseWriter, _ *http.Request) {
	v := s.sess.View()
	if v.Outline == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no outline loaded", Kind: "not_found"})
		return
	}
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, v.Outline.Len())}
	for _, f := range v.Outline.Features {
		fc.Features = append(fc.Features, dataset.EncodeFeature(f, nil))
	}
	writeBody(w, http.StatusOK, geoJSONType, fc)
}
