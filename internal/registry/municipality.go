// Package registry holds the fixed catalog of MPO municipalities used to
// populate selectors and validate municipality selections.
package registry

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/vmt-browser/internal/fetcher"
)

//go:embed towns.csv
var townsCSV []byte

// MunicipalityID is the MassGIS TOWN_ID shared by tabular and geometry data.
type MunicipalityID int

// String implements fmt.Stringer.
func (id MunicipalityID) String() string {
	return strconv.Itoa(int(id))
}

// ParseID parses a municipality id from text. Surrounding whitespace is
// ignored; anything else that is not a positive integer is rejected.
func ParseID(s string) (MunicipalityID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, eris.Wrapf(err, "registry: parse municipality id %q", s)
	}
	if n <= 0 {
		return 0, eris.Errorf("registry: municipality id must be positive, got %d", n)
	}
	return MunicipalityID(n), nil
}

// Municipality is one city or town in the region.
type Municipality struct {
	ID        MunicipalityID `json:"id"`
	Name      string         `json:"name"`
	Canonical string         `json:"canonical"`
}

// Registry is an immutable, ordered set of municipalities.
type Registry struct {
	towns []Municipality
	byID  map[MunicipalityID]int
}

// New builds a registry from the given municipalities, preserving order.
// Duplicate ids are rejected.
func New(towns []Municipality) (*Registry, error) {
	r := &Registry{
		towns: make([]Municipality, 0, len(towns)),
		byID:  make(map[MunicipalityID]int, len(towns)),
	}
	for _, m := range towns {
		if m.ID <= 0 {
			return nil, eris.Errorf("registry: invalid municipality id %d", m.ID)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, eris.Errorf("registry: duplicate municipality id %d", m.ID)
		}
		if m.Name == "" {
			m.Name = TitleCase(m.Canonical)
		}
		r.byID[m.ID] = len(r.towns)
		r.towns = append(r.towns, m)
	}
	return r, nil
}

// Load reads (TOWN_ID, TOWN) pairs from a CSV source with a header row.
func Load(ctx context.Context, src io.Reader) (*Registry, error) {
	// Stops the reader goroutine when a bad row returns early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	header := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, src, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  header,
		TrimSpace: true,
	})

	var towns []Municipality
	line := 1
	for row := range rowCh {
		line++
		if len(row) < 2 {
			return nil, eris.Errorf("registry: line %d: expected 2 fields, got %d", line, len(row))
		}
		id, err := ParseID(row[0])
		if err != nil {
			return nil, eris.Wrapf(err, "registry: line %d", line)
		}
		towns = append(towns, Municipality{ID: id, Canonical: row[1]})
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrap(err, "registry: read towns")
		}
	}

	r, err := New(towns)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("registry: loaded municipalities", zap.Int("count", r.Len()))
	return r, nil
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := Load(context.Background(), bytes.NewReader(townsCSV))
	if err != nil {
		panic(err)
	}
	return r
})

// Default returns the embedded 101-municipality MPO catalog.
func Default() *Registry {
	return defaultRegistry()
}

// Lookup returns the municipality with the given id.
func (r *Registry) Lookup(id MunicipalityID) (Municipality, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Municipality{}, false
	}
	return r.towns[i], true
}

// Contains reports whether id is a known municipality.
func (r *Registry) Contains(id MunicipalityID) bool {
	_, ok := r.byID[id]
	return ok
}

// Name returns the display name for id, or "" when unknown.
func (r *Registry) Name(id MunicipalityID) string {
	m, _ := r.Lookup(id)
	return m.Name
}

// All returns a copy of the municipalities in catalog order.
func (r *Registry) All() []Municipality {
	out := make([]Municipality, len(r.towns))
	copy(out, r.towns)
	return out
}

// Len returns the number of municipalities.
func (r *Registry) Len() int {
	return len(r.towns)
}

// TitleCase converts an upper-case source name such as "NORTH READING" into
// its display form "North Reading".
func TitleCase(s string) string {
	return cases.Title(language.AmericanEnglish).String(strings.ToLower(strings.TrimSpace(s)))
}
