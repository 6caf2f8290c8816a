// Package loader fetches boundary and per-year tabular sources concurrently
// and joins them into a dataset.Dataset. A load either completes with every
// input or fails as a whole.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vmt-browser/internal/config"
	"github.com/sells-group/vmt-browser/internal/dataset"
	"github.com/sells-group/vmt-browser/internal/fetcher"
	"github.com/sells-group/vmt-browser/internal/monitoring"
	"github.com/sells-group/vmt-browser/internal/store"
)

// Kind labels a source for logging and metrics.
type Kind string

// Source kinds.
const (
	KindGeometry Kind = "geometry"
	KindOutline  Kind = "outline"
	KindTabular  Kind = "tabular"
)

// LoadError consolidates every source failure of one load. Errors caused
// only by a sibling's cancellation are left out.
type LoadError struct {
	Years []dataset.Year
	Errs  []error
}

func (e *LoadError) Error() string {
	if len(e.Errs) == 1 {
		return "load: " + e.Errs[0].Error()
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("load: %d sources failed: %s", len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.As.
func (e *LoadError) Unwrap() []error { return e.Errs }

func newLoadError(years []dataset.Year, errs []error) *LoadError {
	var primary []error
	for _, err := range errs {
		if !errors.Is(err, context.Canceled) {
			primary = append(primary, err)
		}
	}
	if len(primary) == 0 {
		primary = errs
	}
	return &LoadError{Years: years, Errs: primary}
}

// Recorder persists load history.
type Recorder interface {
	StartLoad(ctx context.Context, years []int) (*store.Load, error)
	FinishLoad(ctx context.Context, id string, warnings int, loadErr error) error
}

// Result is the outcome of a complete load.
type Result struct {
	Dataset *dataset.Dataset
	// Outline is the non-member context layer; nil when none is configured.
	Outline  *dataset.Geometry
	Report   dataset.JoinReport
	Warnings []dataset.Warning
}

// Option configures a Loader.
type Option func(*Loader)

// WithRecorder records each load in r.
func WithRecorder(r Recorder) Option {
	return func(l *Loader) { l.recorder = r }
}

// WithMetrics reports fetch and load metrics to m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithClock sets the clock used for durations.
func WithClock(c clockwork.Clock) Option {
	return func(l *Loader) { l.clock = c }
}

// Loader fans out source fetches and fans the results back in.
type Loader struct {
	fetch    fetcher.Fetcher
	cfg      config.DataConfig
	recorder Recorder
	metrics  *monitoring.Metrics
	clock    clockwork.Clock
}

// New creates a Loader reading the sources named in cfg through f.
func New(f fetcher.Fetcher, cfg config.DataConfig, opts ...Option) *Loader {
	l := &Loader{fetch: f, cfg: cfg, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Years returns the configured year catalog in ascending order.
func (l *Loader) Years() []dataset.Year {
	list := l.cfg.YearList()
	out := make([]dataset.Year, len(list))
	for i, y := range list {
		out[i] = dataset.Year(y)
	}
	return out
}

// HasYear reports whether year has a configured source.
func (l *Loader) HasYear(year dataset.Year) bool {
	_, ok := l.cfg.YearPath(int(year))
	return ok
}

// Load fetches the boundaries, the optional outline, and one table per year
// concurrently, then joins them. The first failure cancels the remaining
// fetches; the join never runs on partial inputs.
func (l *Loader) Load(ctx context.Context, years []dataset.Year) (*Result, error) {
	log := zap.L().With(zap.String("component", "loader"), zap.Ints("years", yearInts(years)))
	start := l.clock.Now()
	rec := l.startRecord(ctx, years)

	for _, y := range years {
		if !l.HasYear(y) {
			err := newLoadError(years, []error{eris.Errorf("loader: year %d is not configured", y)})
			l.finish(ctx, rec, 0, err, start)
			return nil, err
		}
	}

	var (
		mu       sync.Mutex
		errs     []error
		geometry *dataset.Geometry
		outline  *dataset.Geometry
		tables   = make(map[dataset.Year]*dataset.Table, len(years))
		warnings []dataset.Warning
	)
	fail := func(err error) error {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		geo, err := l.fetchGeometry(gCtx, KindGeometry, l.cfg.GeometryPath, dataset.DecodeOptions{
			Object:    l.cfg.Object,
			RequireID: true,
		})
		if err != nil {
			return fail(err)
		}
		geometry = geo
		return nil
	})

	if l.cfg.OutlinePath != "" {
		g.Go(func() error {
			geo, err := l.fetchGeometry(gCtx, KindOutline, l.cfg.OutlinePath, dataset.DecodeOptions{
				Object: l.cfg.OutlineObject,
			})
			if err != nil {
				return fail(err)
			}
			outline = geo
			return nil
		})
	}

	for _, y := range years {
		g.Go(func() error {
			t, w, err := l.fetchTable(gCtx, y)
			if err != nil {
				return fail(err)
			}
			mu.Lock()
			tables[y] = t
			warnings = append(warnings, w...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		lerr := newLoadError(years, errs)
		log.Error("loader: load failed", zap.Error(lerr))
		l.finish(ctx, rec, 0, lerr, start)
		return nil, lerr
	}

	ds, report := dataset.Join(geometry, tables)
	warnings = append(warnings, report.Warnings...)
	l.countWarnings(warnings)
	if l.metrics != nil {
		l.metrics.Features.Set(float64(ds.Len()))
	}
	l.finish(ctx, rec, len(warnings), nil, start)

	log.Info("loader: load complete",
		zap.Int("features", ds.Len()),
		zap.Int("warnings", len(warnings)),
		zap.Duration("elapsed", l.clock.Since(start)),
	)
	return &Result{Dataset: ds, Outline: outline, Report: report, Warnings: warnings}, nil
}

// LoadYear fetches and parses a single year's table. Joining it into an
// existing Dataset is left to the caller.
func (l *Loader) LoadYear(ctx context.Context, year dataset.Year) (*dataset.Table, []dataset.Warning, error) {
	years := []dataset.Year{year}
	start := l.clock.Now()
	rec := l.startRecord(ctx, years)

	if !l.HasYear(year) {
		err := newLoadError(years, []error{eris.Errorf("loader: year %d is not configured", year)})
		l.finish(ctx, rec, 0, err, start)
		return nil, nil, err
	}

	t, w, err := l.fetchTable(ctx, year)
	if err != nil {
		lerr := newLoadError(years, []error{err})
		l.finish(ctx, rec, 0, lerr, start)
		return nil, nil, lerr
	}
	l.countWarnings(w)
	l.finish(ctx, rec, len(w), nil, start)
	return t, w, nil
}

func (l *Loader) fetchTable(ctx context.Context, year dataset.Year) (*dataset.Table, []dataset.Warning, error) {
	path, _ := l.cfg.YearPath(int(year))
	url := l.cfg.Resolve(path)
	start := l.clock.Now()

	data, err := fetcher.FetchAll(ctx, l.fetch, url)
	if err != nil {
		l.observeFetch(KindTabular, start, err)
		return nil, nil, err
	}
	t, w, err := dataset.ParseTabular(ctx, bytes.NewReader(data), year)
	l.observeFetch(KindTabular, start, err)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "loader: parse %s", url)
	}
	return t, w, nil
}

func (l *Loader) fetchGeometry(ctx context.Context, kind Kind, path string, opts dataset.DecodeOptions) (*dataset.Geometry, error) {
	start := l.clock.Now()
	geo, err := l.decodeGeometry(ctx, l.cfg.Resolve(path), opts)
	l.observeFetch(kind, start, err)
	return geo, err
}

func (l *Loader) decodeGeometry(ctx context.Context, url string, opts dataset.DecodeOptions) (*dataset.Geometry, error) {
	if l.cfg.GeometryFormat == "shapefile" {
		return l.fetchShapefile(ctx, url, opts)
	}

	data, err := fetcher.FetchAll(ctx, l.fetch, url)
	if err != nil {
		return nil, err
	}

	var geo *dataset.Geometry
	switch l.cfg.GeometryFormat {
	case "geojson":
		geo, err = dataset.DecodeGeoJSON(bytes.NewReader(data), opts)
	default:
		geo, err = dataset.DecodeTopoJSON(bytes.NewReader(data), opts)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "loader: decode %s", url)
	}
	return geo, nil
}

// fetchShapefile stages a shapefile in a temp directory so the shapefile
// reader can open it by path. A .zip url is fetched whole and unpacked;
// otherwise the .shp and .dbf members are fetched side by side.
func (l *Loader) fetchShapefile(ctx context.Context, url string, opts dataset.DecodeOptions) (*dataset.Geometry, error) {
	dir, err := os.MkdirTemp("", "vmt-shp-*")
	if err != nil {
		return nil, eris.Wrap(err, "loader: create shapefile dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	var shp string
	if strings.EqualFold(filepath.Ext(url), ".zip") {
		shp, err = l.stageZippedShapefile(ctx, url, dir)
	} else {
		shp, err = l.stageShapefileMembers(ctx, url, dir)
	}
	if err != nil {
		return nil, err
	}

	geo, err := dataset.ReadShapefile(shp, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: decode %s", url)
	}
	return geo, nil
}

func (l *Loader) stageShapefileMembers(ctx context.Context, url, dir string) (string, error) {
	base := strings.TrimSuffix(url, filepath.Ext(url))
	for _, ext := range []string{".shp", ".dbf"} {
		data, err := fetcher.FetchAll(ctx, l.fetch, base+ext)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(dir, "boundaries"+ext), data, 0o600); err != nil {
			return "", eris.Wrapf(err, "loader: stage %s", base+ext)
		}
	}
	return filepath.Join(dir, "boundaries.shp"), nil
}

func (l *Loader) stageZippedShapefile(ctx context.Context, url, dir string) (string, error) {
	data, err := fetcher.FetchAll(ctx, l.fetch, url)
	if err != nil {
		return "", err
	}
	archive := filepath.Join(dir, "boundaries.zip")
	if err := os.WriteFile(archive, data, 0o600); err != nil {
		return "", eris.Wrapf(err, "loader: stage %s", url)
	}
	shp, err := fetcher.ExtractShapefile(archive, filepath.Join(dir, "unpacked"))
	if err != nil {
		return "", eris.Wrapf(err, "loader: unpack %s", url)
	}
	return shp, nil
}

func (l *Loader) observeFetch(kind Kind, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	l.metrics.Fetches.WithLabelValues(string(kind), outcome).Inc()
	l.metrics.FetchDuration.WithLabelValues(string(kind)).Observe(l.clock.Since(start).Seconds())
}

func (l *Loader) countWarnings(warnings []dataset.Warning) {
	if l.metrics == nil {
		return
	}
	for _, w := range warnings {
		l.metrics.DataWarnings.WithLabelValues(string(w.Kind)).Inc()
	}
}

func (l *Loader) startRecord(ctx context.Context, years []dataset.Year) *store.Load {
	if l.recorder == nil {
		return nil
	}
	rec, err := l.recorder.StartLoad(ctx, yearInts(years))
	if err != nil {
		zap.L().Warn("loader: failed to record load start", zap.Error(err))
		return nil
	}
	return rec
}

// finish closes the load record and reports the outcome. It runs even when
// ctx was cancelled so superseded loads are still recorded.
func (l *Loader) finish(ctx context.Context, rec *store.Load, warnings int, loadErr error, start time.Time) {
	if l.metrics != nil {
		outcome := "success"
		switch {
		case loadErr != nil && ctx.Err() != nil:
			outcome = "superseded"
		case loadErr != nil:
			outcome = "error"
		}
		l.metrics.Loads.WithLabelValues(outcome).Inc()
		l.metrics.LoadDuration.Observe(l.clock.Since(start).Seconds())
	}
	if rec == nil {
		return
	}
	if err := l.recorder.FinishLoad(context.WithoutCancel(ctx), rec.ID, warnings, loadErr); err != nil {
		zap.L().Warn("loader: failed to record load result", zap.String("load_id", rec.ID), zap.Error(err))
	}
}

func yearInts(years []dataset.Year) []int {
	out := make([]int, len(years))
	for i, y := range years {
		out[i] = int(y)
	}
	return out
}
