package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/vmt-browser/internal/aggregate"
	"github.com/sells-group/vmt-browser/internal/dataset"
	"github.com/sells-group/vmt-browser/internal/registry"
	"github.com/sells-group/vmt-browser/internal/theme"
)

// Status is the session lifecycle state.
type Status string

// Session states.
const (
	StatusUninitialized Status = "uninitialized"
	StatusLoading       Status = "loading"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
)

// AllStatuses lists every state, for metrics.
var AllStatuses = []string{
	string(StatusUninitialized),
	string(StatusLoading),
	string(StatusReady),
	string(StatusError),
}

// Selection is the selected municipality, theme, and year. Municipality and
// Theme are optional.
type Selection struct {
	Municipality *registry.MunicipalityID `json:"municipality_id,omitempty"`
	Theme        string                   `json:"theme,omitempty"`
	Year         dataset.Year             `json:"year"`
}

func (s Selection) clone() Selection {
	if s.Municipality != nil {
		id := *s.Municipality
		s.Municipality = &id
	}
	return s
}

func (s Selection) selected(id registry.MunicipalityID) bool {
	return s.Municipality != nil && *s.Municipality == id
}

// Reason names the change that produced an UpdateEvent.
type Reason string

// Update reasons.
const (
	ReasonInitialized  Reason = "initialized"
	ReasonMunicipality Reason = "municipality"
	ReasonTheme        Reason = "theme"
	ReasonYear         Reason = "year"
	ReasonClear        Reason = "clear"
)

// FeatureStyle is the map projection of one feature. Bucket is -1 and Color
// empty when no theme is active or the feature has no data for the year.
type FeatureStyle struct {
	ID       registry.MunicipalityID `json:"id"`
	Name     string                  `json:"name"`
	Value    *float64                `json:"value,omitempty"`
	Bucket   int                     `json:"bucket"`
	Color    string                  `json:"color,omitempty"`
	Missing  bool                    `json:"missing,omitempty"`
	Selected bool                    `json:"selected,omitempty"`
}

// Legend describes the active theme's classes.
type Legend struct {
	Title   string         `json:"title"`
	Unit    string         `json:"unit,omitempty"`
	Buckets []theme.Bucket `json:"buckets"`
}

// MapView is everything the map and legend renderer needs. Features are in
// paint order: the selected feature is last.
type MapView struct {
	Theme    string         `json:"theme,omitempty"`
	Year     dataset.Year   `json:"year"`
	Features []FeatureStyle `json:"features"`
	Legend   *Legend        `json:"legend,omitempty"`
}

// TableView is one family's table for the selected municipality.
type TableView struct {
	Family      dataset.Family         `json:"family"`
	Title       string                 `json:"title"`
	Headers     []string               `json:"headers"`
	Rows        []aggregate.DisplayRow `json:"rows"`
	Discrepancy *aggregate.Discrepancy `json:"discrepancy,omitempty"`
}

// UpdateEvent carries the map and table projections of one state change.
// Renderers receive exactly one event per successful change.
type UpdateEvent struct {
	ID        uuid.UUID   `json:"id"`
	Seq       uint64      `json:"seq"`
	At        time.Time   `json:"at"`
	Reason    Reason      `json:"reason"`
	Selection Selection   `json:"selection"`
	Map       MapView     `json:"map"`
	Tables    []TableView `json:"tables"`
	Notice    string      `json:"notice,omitempty"`
}

// Renderer consumes update events. Render is called on the event loop and
// must not call back into the Manager.
type Renderer interface {
	Render(ctx context.Context, ev UpdateEvent) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, ev UpdateEvent) error

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, ev UpdateEvent) error { return f(ctx, ev) }

// View is an immutable snapshot of the session, published after every change
// for readers outside the event loop.
type View struct {
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Selection Selection      `json:"selection"`
	Catalog   []dataset.Year `json:"years"`
	Loaded    []dataset.Year `json:"loaded_years"`
	Pending   *dataset.Year  `json:"pending_year,omitempty"`
	Event     *UpdateEvent   `json:"-"`

	// Features is the paint order matching Event.Map.Features.
	Features []*dataset.EnrichedFeature `json:"-"`
	Outline  *dataset.Geometry          `json:"-"`
}
