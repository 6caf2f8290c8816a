// Package session owns the selected municipality, theme, and year, and turns
// every change into one renderer update. All state lives on a single
// event-loop goroutine; data loads run off the loop and re-enter it as one
// continuation.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vmt-browser/internal/aggregate"
	"github.com/sells-group/vmt-browser/internal/dataset"
	"github.com/sells-group/vmt-browser/internal/loader"
	"github.com/sells-group/vmt-browser/internal/monitoring"
	"github.com/sells-group/vmt-browser/internal/registry"
	"github.com/sells-group/vmt-browser/internal/theme"
)

// Loader fetches datasets. *loader.Loader implements it.
type Loader interface {
	Years() []dataset.Year
	Load(ctx context.Context, years []dataset.Year) (*loader.Result, error)
	LoadYear(ctx context.Context, year dataset.Year) (*dataset.Table, []dataset.Warning, error)
}

// Config wires a Manager. Registry, Themes, Aggregator and Clock default to
// the built-in registry, catalog, en-US aggregator and real clock.
type Config struct {
	Loader      Loader
	Registry    *registry.Registry
	Themes      *theme.Catalog
	Aggregator  *aggregate.Aggregator
	DefaultYear dataset.Year
	// Preload loads every catalog year at Initialize instead of only the
	// default year.
	Preload bool
	Metrics *monitoring.Metrics
	Clock   clockwork.Clock
}

type command struct {
	fn   func(ctx context.Context) error
	done chan error
}

// Manager is the selection state machine.
type Manager struct {
	cfg     Config
	catalog []dataset.Year
	log     *zap.Logger

	cmds    chan command
	stopped chan struct{}
	running atomic.Bool

	rmu       sync.Mutex
	renderers []Renderer

	view atomic.Pointer[View]

	// Loop-owned.
	status     Status
	lastErr    error
	selection  Selection
	data       *dataset.Dataset
	outline    *dataset.Geometry
	seq        uint64
	gen        uint64
	pending    *dataset.Year
	cancelYear context.CancelFunc
	lastEvent  *UpdateEvent
}

// New creates a Manager in the Uninitialized state. Call Run before any
// other method.
func New(cfg Config) (*Manager, error) {
	if cfg.Loader == nil {
		return nil, eris.New("session: loader is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Themes == nil {
		cfg.Themes = theme.Default()
	}
	if cfg.Aggregator == nil {
		cfg.Aggregator = aggregate.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	catalog := cfg.Loader.Years()
	if len(catalog) == 0 {
		return nil, eris.New("session: loader has no years")
	}
	if cfg.DefaultYear == 0 {
		cfg.DefaultYear = catalog[0]
	}
	if !slices.Contains(catalog, cfg.DefaultYear) {
		return nil, eris.Errorf("session: default year %d is not in the catalog", cfg.DefaultYear)
	}

	m := &Manager{
		cfg:       cfg,
		catalog:   catalog,
		log:       zap.L().With(zap.String("component", "session")),
		cmds:      make(chan command),
		stopped:   make(chan struct{}),
		status:    StatusUninitialized,
		selection: Selection{Year: cfg.DefaultYear},
	}
	m.publish()
	return m, nil
}

// AddRenderer registers r for every subsequent update event.
func (m *Manager) AddRenderer(r Renderer) {
	m.rmu.Lock()
	defer m.rmu.Unlock()
	m.renderers = append(m.renderers, r)
}

// Run processes commands until ctx is cancelled. It must be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return eris.New("session: Run called twice")
	}
	defer close(m.stopped)
	m.log.Info("session: event loop started")

	for {
		select {
		case <-ctx.Done():
			if m.cancelYear != nil {
				m.cancelYear()
			}
			m.log.Info("session: event loop stopped")
			return nil
		case cmd := <-m.cmds:
			cmd.done <- cmd.fn(ctx)
		}
	}
}

// do runs fn on the event loop and waits for its result.
func (m *Manager) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case m.cmds <- cmd:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns the latest published snapshot. It never blocks.
func (m *Manager) View() *View {
	return m.view.Load()
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	return m.view.Load().Status
}

// LastEvent returns the most recent update event, or nil before the first.
func (m *Manager) LastEvent() *UpdateEvent {
	return m.view.Load().Event
}

// Initialize loads the boundaries and the default year (every catalog year
// when preloading) and emits the first update. It moves the session from
// Uninitialized or Error to Loading, then to Ready or Error.
func (m *Manager) Initialize(ctx context.Context) error {
	years := []dataset.Year{m.cfg.DefaultYear}
	if m.cfg.Preload {
		years = slices.Clone(m.catalog)
	}

	err := m.do(ctx, func(context.Context) error {
		if m.status != StatusUninitialized && m.status != StatusError {
			return ErrAlreadyInitialized
		}
		m.setStatus(StatusLoading, nil)
		return nil
	})
	if err != nil {
		return err
	}

	res, loadErr := m.cfg.Loader.Load(ctx, years)

	return m.do(context.WithoutCancel(ctx), func(loopCtx context.Context) error {
		if loadErr != nil {
			m.log.Error("session: initial load failed", zap.Error(loadErr))
			m.setStatus(StatusError, loadErr)
			return loadErr
		}
		m.data = res.Dataset
		m.outline = res.Outline
		m.selection = Selection{Year: m.cfg.DefaultYear}
		m.status = StatusReady
		m.lastErr = nil
		m.observeStatus()
		m.emit(loopCtx, ReasonInitialized)
		return nil
	})
}

// SelectMunicipality selects id and moves its feature to the end of the
// paint order.
func (m *Manager) SelectMunicipality(ctx context.Context, id registry.MunicipalityID) error {
	err := m.do(ctx, func(loopCtx context.Context) error {
		if !m.cfg.Registry.Contains(id) {
			return &InvalidSelection{Kind: KindMunicipality, Value: id.String(), Reason: "not in the municipality registry"}
		}
		if err := m.requireReady(0); err != nil {
			return err
		}
		if !m.data.Contains(id) {
			return &InvalidSelection{Kind: KindMunicipality, Value: id.String(), Reason: "no boundary in the loaded geometry"}
		}
		m.selection.Municipality = &id
		m.data.RelocateToEnd(id)
		m.emit(loopCtx, ReasonMunicipality)
		return nil
	})
	m.observeSelection(KindMunicipality, err)
	return err
}

// OnFeatureClicked handles a click on a map feature.
func (m *Manager) OnFeatureClicked(ctx context.Context, id registry.MunicipalityID) error {
	return m.SelectMunicipality(ctx, id)
}

// ClearSelection deselects the municipality. The paint order is kept.
func (m *Manager) ClearSelection(ctx context.Context) error {
	err := m.do(ctx, func(loopCtx context.Context) error {
		if err := m.requireReady(0); err != nil {
			return err
		}
		m.selection.Municipality = nil
		m.emit(loopCtx, ReasonClear)
		return nil
	})
	m.observeSelection("clear", err)
	return err
}

// SelectTheme activates the theme with the given id.
func (m *Manager) SelectTheme(ctx context.Context, id string) error {
	err := m.do(ctx, func(loopCtx context.Context) error {
		if _, err := m.cfg.Themes.ByID(id); err != nil {
			return &InvalidSelection{Kind: KindTheme, Value: id, Reason: "not in the theme catalog"}
		}
		if err := m.requireReady(0); err != nil {
			return err
		}
		m.selection.Theme = id
		m.emit(loopCtx, ReasonTheme)
		return nil
	})
	m.observeSelection(KindTheme, err)
	return err
}

// SelectYear switches to a year that is already loaded. A configured but
// unloaded year fails with DataNotReady; use RequestYear to load it. A
// successful switch supersedes any in-flight RequestYear.
func (m *Manager) SelectYear(ctx context.Context, year dataset.Year) error {
	err := m.do(ctx, func(loopCtx context.Context) error {
		if err := m.checkYear(year); err != nil {
			return err
		}
		if err := m.requireReady(year); err != nil {
			return err
		}
		if !m.data.HasYear(year) {
			return &DataNotReady{Year: year, Status: m.status}
		}
		m.supersede()
		m.selection.Year = year
		m.emit(loopCtx, ReasonYear)
		return nil
	})
	m.observeSelection(KindYear, err)
	return err
}

// RequestYear selects year, loading its table first when needed. The load
// runs off the event loop; a newer RequestYear or SelectYear cancels it and
// this call then returns ErrSuperseded without touching state.
func (m *Manager) RequestYear(ctx context.Context, year dataset.Year) error {
	var (
		gen     uint64
		loadCtx context.Context
		loaded  bool
	)
	err := m.do(ctx, func(loopCtx context.Context) error {
		if err := m.checkYear(year); err != nil {
			return err
		}
		if err := m.requireReady(year); err != nil {
			return err
		}
		m.supersede()
		if m.data.HasYear(year) {
			loaded = true
			m.selection.Year = year
			m.emit(loopCtx, ReasonYear)
			return nil
		}
		gen = m.gen
		loadCtx, m.cancelYear = context.WithCancel(ctx)
		y := year
		m.pending = &y
		m.publish()
		return nil
	})
	if err != nil || loaded {
		m.observeSelection(KindYear, err)
		return err
	}

	m.log.Info("session: loading year", zap.Int("year", int(year)))
	table, _, loadErr := m.cfg.Loader.LoadYear(loadCtx, year)

	err = m.do(context.WithoutCancel(ctx), func(loopCtx context.Context) error {
		if gen != m.gen {
			m.log.Info("session: discarding superseded year load", zap.Int("year", int(year)))
			return ErrSuperseded
		}
		m.cancelYear()
		m.cancelYear = nil
		m.pending = nil
		if loadErr != nil {
			m.log.Error("session: year load failed", zap.Int("year", int(year)), zap.Error(loadErr))
			m.lastErr = loadErr
			m.publish()
			return loadErr
		}
		ds, report := m.data.WithYear(table)
		for _, w := range report.Warnings {
			m.log.Warn("session: join warning", zap.String("kind", string(w.Kind)),
				zap.Int("municipality_id", int(w.Municipality)), zap.Int("year", int(w.Year)))
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.DataWarnings.WithLabelValues(string(w.Kind)).Inc()
			}
		}
		m.data = ds
		m.lastErr = nil
		m.selection.Year = year
		m.emit(loopCtx, ReasonYear)
		return nil
	})
	m.observeSelection(KindYear, err)
	return err
}

// supersede invalidates any in-flight year load.
func (m *Manager) supersede() {
	m.gen++
	if m.cancelYear != nil {
		m.cancelYear()
		m.cancelYear = nil
	}
	m.pending = nil
}

func (m *Manager) checkYear(year dataset.Year) error {
	if !slices.Contains(m.catalog, year) {
		return &InvalidSelection{Kind: KindYear, Value: fmt.Sprint(int(year)), Reason: "not in the year catalog"}
	}
	return nil
}

func (m *Manager) requireReady(year dataset.Year) error {
	if m.status != StatusReady {
		return &DataNotReady{Year: year, Status: m.status}
	}
	return nil
}

func (m *Manager) setStatus(s Status, err error) {
	m.status = s
	m.lastErr = err
	m.observeStatus()
	m.publish()
}

// emit builds one update event, publishes it, and hands it to every
// renderer. Renderer failures are logged; the state change stands.
func (m *Manager) emit(ctx context.Context, reason Reason) {
	m.seq++
	ev := m.buildEvent(reason)
	m.lastEvent = &ev
	m.publish()

	m.rmu.Lock()
	renderers := slices.Clone(m.renderers)
	m.rmu.Unlock()
	for _, r := range renderers {
		if err := r.Render(ctx, ev); err != nil {
			m.log.Warn("session: renderer failed", zap.Uint64("seq", ev.Seq), zap.Error(err))
		}
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RenderEvents.Inc()
	}
}

func (m *Manager) buildEvent(reason Reason) UpdateEvent {
	sel := m.selection.clone()
	ev := UpdateEvent{
		ID:        uuid.New(),
		Seq:       m.seq,
		At:        m.cfg.Clock.Now().UTC(),
		Reason:    reason,
		Selection: sel,
		Map:       MapView{Theme: sel.Theme, Year: sel.Year},
	}

	var th *theme.Theme
	if sel.Theme != "" {
		th, _ = m.cfg.Themes.ByID(sel.Theme)
	}
	if th != nil {
		ev.Map.Legend = &Legend{Title: th.LegendTitle, Unit: th.Unit, Buckets: slices.Clone(th.Buckets)}
	}

	features := m.data.Features()
	ev.Map.Features = make([]FeatureStyle, 0, len(features))
	for _, f := range features {
		fs := FeatureStyle{ID: f.ID, Name: f.Name, Bucket: -1, Selected: sel.selected(f.ID)}
		obs := f.Observation(sel.Year)
		switch {
		case obs.Missing:
			fs.Missing = true
		case th != nil:
			if v, ok := themeValue(obs.Record, th); ok {
				fs.Value = &v
				fs.Bucket = th.Classify(v)
				fs.Color = th.Buckets[fs.Bucket].Color
			} else {
				fs.Missing = true
			}
		}
		ev.Map.Features = append(ev.Map.Features, fs)
	}

	if sel.Municipality != nil {
		ev.Tables, ev.Notice = m.tables(*sel.Municipality, sel.Year)
	}
	return ev
}

// themeValue reads the theme's field, falling back to the component sum when
// the source carried no total column.
func themeValue(rec *dataset.Record, th *theme.Theme) (float64, bool) {
	if v, ok := rec.Value(th.Field); ok {
		return v, true
	}
	if fm := rec.Family(dataset.Family(th.Family)); fm != nil && !fm.HasTotal {
		return fm.ComponentSum(), true
	}
	return 0, false
}

func (m *Manager) tables(id registry.MunicipalityID, year dataset.Year) ([]TableView, string) {
	f, ok := m.data.Lookup(id)
	if !ok {
		return nil, ""
	}
	obs := f.Observation(year)
	if obs.Missing {
		return nil, fmt.Sprintf("No %d data for %s.", year, f.Name)
	}
	results, err := m.cfg.Aggregator.AggregateAll(obs.Record)
	if err != nil {
		m.log.Warn("session: aggregate failed", zap.Int("municipality_id", int(id)), zap.Error(err))
		return nil, ""
	}
	out := make([]TableView, 0, len(results))
	for _, r := range results {
		out = append(out, TableView{
			Family:      r.Family,
			Title:       r.Title,
			Headers:     r.Headers,
			Rows:        r.Rows,
			Discrepancy: r.Discrepancy,
		})
	}
	return out, ""
}

// publish stores a fresh snapshot for readers.
func (m *Manager) publish() {
	v := &View{
		Status:    m.status,
		Selection: m.selection.clone(),
		Catalog:   slices.Clone(m.catalog),
		Event:     m.lastEvent,
		Outline:   m.outline,
	}
	if m.lastErr != nil {
		v.Error = m.lastErr.Error()
	}
	if m.pending != nil {
		y := *m.pending
		v.Pending = &y
	}
	if m.data != nil {
		v.Loaded = m.data.Years()
		// RelocateToEnd replaces the slice, so this one is never mutated.
		v.Features = m.data.Features()
	}
	m.view.Store(v)
}

func (m *Manager) observeStatus() {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SetStatus(string(m.status), AllStatuses)
	}
}

func (m *Manager) observeSelection(kind string, err error) {
	if m.cfg.Metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsInvalidSelection(err):
		outcome = "invalid"
	case IsDataNotReady(err):
		outcome = "not_ready"
	case eris.Is(err, ErrSuperseded):
		outcome = "superseded"
	default:
		outcome = "error"
	}
	m.cfg.Metrics.Selections.WithLabelValues(kind, outcome).Inc()
}
