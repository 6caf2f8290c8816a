package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/vmt-browser/internal/dataset"
	"github.com/sells-group/vmt-browser/internal/monitoring"
	"github.com/sells-group/vmt-browser/internal/registry"
	"github.com/sells-group/vmt-browser/internal/session"
)

type fakeSession struct {
	view     *session.View
	reloaded *session.View
	err      error
	calls    []string
}

func (f *fakeSession) View() *session.View { return f.view }

func (f *fakeSession) LastEvent() *session.UpdateEvent { return f.view.Event }

func (f *fakeSession) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeSession) SelectMunicipality(_ context.Context, id registry.MunicipalityID) error {
	return f.record("municipality:" + id.String())
}

func (f *fakeSession) ClearSelection(context.Context) error { return f.record("clear") }

func (f *fakeSession) Initialize(context.Context) error {
	if err := f.record("initialize"); err != nil {
		return err
	}
	f.view = f.reloaded
	return nil
}

func (f *fakeSession) SelectTheme(_ context.Context, id string) error {
	return f.record("theme:" + id)
}

func (f *fakeSession) RequestYear(_ context.Context, year dataset.Year) error {
	return f.record("year:" + strconv.Itoa(int(year)))
}

func square(x float64) *geom.MultiPolygon {
	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(geom.NewLinearRingFlat(geom.XY, []float64{x, 0, x + 1, 0, x + 1, 1, x, 1, x, 0})); err != nil {
		panic(err)
	}
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(poly); err != nil {
		panic(err)
	}
	return mp
}

// readyView is Acton and Boston with Acton selected, so Acton paints last.
func readyView(t *testing.T) *session.View {
	t.Helper()
	g, err := dataset.NewGeometry("towns", []*dataset.GeometryFeature{
		{ID: 2, Name: "Acton", Geometry: square(0)},
		{ID: 35, Name: "Boston", Geometry: square(1)},
	})
	require.NoError(t, err)
	ds, _ := dataset.Join(g, map[dataset.Year]*dataset.Table{
		2012: {Year: 2012, Records: map[registry.MunicipalityID]*dataset.Record{}},
	})
	ds.RelocateToEnd(2)

	v := 100000.0
	id := registry.MunicipalityID(2)
	ev := &session.UpdateEvent{
		Seq:       3,
		Reason:    session.ReasonMunicipality,
		Selection: session.Selection{Municipality: &id, Theme: "THEME_VMT", Year: 2012},
		Map: session.MapView{Theme: "THEME_VMT", Year: 2012, Features: []session.FeatureStyle{
			{ID: 35, Name: "Boston", Bucket: -1, Missing: true},
			{ID: 2, Name: "Acton", Bucket: 0, Color: "#febfdc", Value: &v, Selected: true},
		}},
	}
	outline, err := dataset.NewGeometry("context", []*dataset.GeometryFeature{{Geometry: square(5)}})
	require.NoError(t, err)
	return &session.View{
		Status:    session.StatusReady,
		Selection: ev.Selection,
		Catalog:   []dataset.Year{2012, 2020, 2040},
		Loaded:    []dataset.Year{2012},
		Event:     ev,
		Features:  ds.Features(),
		Outline:   outline,
	}
}

func newTestServer(t *testing.T, sess *fakeSession) *Server {
	t.Helper()
	return New(Config{Addr: ":0", Gatherer: prometheus.NewRegistry()}, sess)
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeSession{view: &session.View{Status: session.StatusLoading}})
	rec := do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		view   *session.View
		status int
		body   map[string]any
	}{
		{
			name:   "ready",
			view:   &session.View{Status: session.StatusReady},
			status: http.StatusOK,
			body:   map[string]any{"status": "ready"},
		},
		{
			name:   "loading",
			view:   &session.View{Status: session.StatusLoading},
			status: http.StatusServiceUnavailable,
			body:   map[string]any{"status": "not ready", "session": "loading"},
		},
		{
			name:   "error",
			view:   &session.View{Status: session.StatusError, Error: "load: fetch x: status 404"},
			status: http.StatusServiceUnavailable,
			body:   map[string]any{"status": "not ready", "session": "error", "error": "load: fetch x: status 404"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(t, &fakeSession{view: tt.view}), http.MethodGet, "/readyz")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, decode(t, rec))
		})
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := monitoring.NewMetricsWithRegistry(reg)
	m.RenderEvents.Inc()
	s := New(Config{Gatherer: reg}, &fakeSession{view: &session.View{}})

	rec := do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vmt_browser_render_events_total 1")
}

func TestCatalogs(t *testing.T) {
	s := newTestServer(t, &fakeSession{view: &session.View{}})

	rec := do(t, s, http.MethodGet, "/api/municipalities")
	require.Equal(t, http.StatusOK, rec.Code)
	var towns []registry.Municipality
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &towns))
	assert.Len(t, towns, 101)
	assert.Equal(t, registry.Municipality{ID: 2, Name: "Acton", Canonical: "ACTON"}, towns[0])

	rec = do(t, s, http.MethodGet, "/api/themes")
	require.Equal(t, http.StatusOK, rec.Code)
	var themes []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &themes))
	require.Len(t, themes, 6)
	assert.Equal(t, "THEME_VMT", themes[0]["id"])
}

func TestState(t *testing.T) {
	s := newTestServer(t, &fakeSession{view: readyView(t)})
	rec := do(t, s, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, []any{2012.0, 2020.0, 2040.0}, body["years"])
	assert.Equal(t, map[string]any{"municipality_id": 2.0, "theme": "THEME_VMT", "year": 2012.0}, body["selection"])
	assert.NotContains(t, body, "features", "geometry is served by /api/features")
}

func TestView(t *testing.T) {
	s := newTestServer(t, &fakeSession{view: readyView(t)})
	rec := do(t, s, http.MethodGet, "/api/view")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 3.0, body["seq"])
	assert.Equal(t, "municipality", body["reason"])

	s = newTestServer(t, &fakeSession{view: &session.View{Status: session.StatusLoading}})
	rec = do(t, s, http.MethodGet, "/api/view")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "data_not_ready", decode(t, rec)["kind"])
}

func TestFeatures_PaintOrder(t *testing.T) {
	s := newTestServer(t, &fakeSession{view: readyView(t)})
	rec := do(t, s, http.MethodGet, "/api/features")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
			Geometry   struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)

	boston, acton := fc.Features[0], fc.Features[1]
	assert.Equal(t, "35", boston.ID)
	assert.Equal(t, true, boston.Properties["missing"])
	assert.NotContains(t, boston.Properties, "fill")

	assert.Equal(t, "2", acton.ID, "selected feature is last")
	assert.Equal(t, "MultiPolygon", acton.Geometry.Type)
	assert.Equal(t, "#febfdc", acton.Properties["fill"])
	assert.Equal(t, 100000.0, acton.Properties["value"])
	assert.Equal(t, true, acton.Properties["selected"])
	assert.Equal(t, "Acton", acton.Properties["name"])
	assert.Equal(t, 2.0, acton.Properties["TOWN_ID"])
}

func TestFeatures_NotReady(t *testing.T) {
	s := newTestServer(t, &fakeSession{view: &session.View{Status: session.StatusUninitialized}})
	rec := do(t, s, http.MethodGet, "/api/features")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOutline(t *testing.T) {
	s := newTestServer(t, &fakeSession{view: readyView(t)})
	rec := do(t, s, http.MethodGet, "/api/outline")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"FeatureCollection"`)

	s = newTestServer(t, &fakeSession{view: &session.View{Status: session.StatusReady}})
	rec = do(t, s, http.MethodGet, "/api/outline")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectRoutes(t *testing.T) {
	tests := []struct {
		method string
		path   string
		call   string
	}{
		{http.MethodPost, "/api/select/municipality/35", "municipality:35"},
		{http.MethodDelete, "/api/select/municipality", "clear"},
		{http.MethodPost, "/api/select/theme/THEME_CO2", "theme:THEME_CO2"},
		{http.MethodPost, "/api/select/year/2040", "year:2040"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			sess := &fakeSession{view: readyView(t)}
			rec := do(t, newTestServer(t, sess), tt.method, tt.path)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, []string{tt.call}, sess.calls)
			assert.Equal(t, 3.0, decode(t, rec)["seq"], "responds with the latest update event")
		})
	}
}

func TestSelect_BadPathParams(t *testing.T) {
	sess := &fakeSession{view: readyView(t)}
	s := newTestServer(t, sess)

	rec := do(t, s, http.MethodPost, "/api/select/municipality/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_selection", decode(t, rec)["kind"])

	rec = do(t, s, http.MethodPost, "/api/select/year/next")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sess.calls)
}

func TestSelect_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid", &session.InvalidSelection{Kind: session.KindMunicipality, Value: "999", Reason: "not in the municipality registry"}, http.StatusBadRequest, "invalid_selection"},
		{"not ready", &session.DataNotReady{Year: 2040}, http.StatusConflict, "data_not_ready"},
		{"superseded", session.ErrSuperseded, http.StatusConflict, "superseded"},
		{"wrapped superseded", eris.Wrap(session.ErrSuperseded, "year 2020"), http.StatusConflict, "superseded"},
		{"already initialized", session.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{view: readyView(t), err: tt.err}
			rec := do(t, newTestServer(t, sess), http.MethodPost, "/api/select/municipality/999")
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.kind, body["kind"])
			assert.Contains(t, body["error"], tt.err.Error())
		})
	}
}

func TestReload_AfterFailedLoad(t *testing.T) {
	sess := &fakeSession{
		view:     &session.View{Status: session.StatusError, Error: "load: fetch x: status 404"},
		reloaded: readyView(t),
	}
	s := newTestServer(t, sess)
	require.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/readyz").Code)

	rec := do(t, s, http.MethodPost, "/api/reload")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"initialize"}, sess.calls)
	assert.Equal(t, 3.0, decode(t, rec)["seq"])

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz").Code)
}

func TestReload_AlreadyReady(t *testing.T) {
	sess := &fakeSession{view: readyView(t), err: session.ErrAlreadyInitialized}
	rec := do(t, newTestServer(t, sess), http.MethodPost, "/api/reload")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_initialized", decode(t, rec)["kind"])
}

func TestCORS(t *testing.T) {
	s := New(Config{CORSOrigins: []string{"https://maps.example.org"}, Gatherer: prometheus.NewRegistry()}, &fakeSession{view: &session.View{}})
	req := httptest.NewRequest(http.MethodOptions, "/api/select/theme/THEME_VMT", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "https://maps.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}
