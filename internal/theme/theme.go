// Package theme defines the choropleth classification for each metric family.
package theme

import (
	_ "embed"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed themes.yaml
var themesYAML []byte

// ErrUnknownTheme is returned by ByID for ids outside the catalog.
var ErrUnknownTheme = eris.New("theme: unknown theme")

// Bucket is one legend entry. RepresentativeValue is the sample value the
// legend swatch is colored from.
type Bucket struct {
	Label               string  `yaml:"label" json:"label"`
	RepresentativeValue float64 `yaml:"value" json:"representative_value"`
	Color               string  `yaml:"color" json:"color"`
}

// Theme is a selectable metric family with its color classification.
type Theme struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Family      string    `yaml:"family" json:"family"`
	Field       string    `yaml:"field" json:"field"`
	Unit        string    `yaml:"unit" json:"unit"`
	Tab         string    `yaml:"tab" json:"tab"`
	LegendTitle string    `yaml:"legend_title" json:"legend_title"`
	Thresholds  []float64 `yaml:"thresholds" json:"thresholds"`
	Buckets     []Bucket  `yaml:"buckets" json:"buckets"`
}

// Classify maps v to a bucket index. Intervals are left-closed: a value equal
// to a threshold belongs to the bucket that threshold opens, and anything at
// or beyond the last threshold lands in the final open-ended bucket.
func (t *Theme) Classify(v float64) int {
	return sort.Search(len(t.Thresholds), func(i int) bool {
		return t.Thresholds[i] > v
	})
}

// Color returns the fill color for v.
func (t *Theme) Color(v float64) string {
	return t.Buckets[t.Classify(v)].Color
}

func (t *Theme) validate() error {
	if t.ID == "" || t.Family == "" || t.Field == "" {
		return eris.Errorf("theme %q: id, family and field are required", t.ID)
	}
	if len(t.Buckets) != len(t.Thresholds)+1 {
		return eris.Errorf("theme %s: %d thresholds need %d buckets, got %d",
			t.ID, len(t.Thresholds), len(t.Thresholds)+1, len(t.Buckets))
	}
	for i := 1; i < len(t.Thresholds); i++ {
		if t.Thresholds[i] < t.Thresholds[i-1] {
			return eris.Errorf("theme %s: thresholds must be non-decreasing at index %d", t.ID, i)
		}
	}
	for i, b := range t.Buckets {
		if got := t.Classify(b.RepresentativeValue); got != i {
			return eris.Errorf("theme %s: bucket %d (%s) value %g classifies into bucket %d",
				t.ID, i, b.Label, b.RepresentativeValue, got)
		}
	}
	return nil
}

// Catalog is the ordered, read-only set of themes.
type Catalog struct {
	themes []*Theme
	byID   map[string]*Theme
}

// Parse decodes and validates a YAML theme catalog.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Themes []*Theme `yaml:"themes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "theme: parse catalog")
	}
	if len(doc.Themes) == 0 {
		return nil, eris.New("theme: catalog is empty")
	}

	c := &Catalog{byID: make(map[string]*Theme, len(doc.Themes))}
	for _, t := range doc.Themes {
		if err := t.validate(); err != nil {
			return nil, eris.Wrap(err, "theme: invalid catalog")
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, eris.Errorf("theme: duplicate theme id %s", t.ID)
		}
		c.byID[t.ID] = t
		c.themes = append(c.themes, t)
	}
	return c, nil
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := Parse(themesYAML)
	if err != nil {
		panic(err)
	}
	return c
})

// Default returns the six built-in themes (VMT, VHT, VOC, NOX, CO, CO2).
func Default() *Catalog {
	return defaultCatalog()
}

// ByID looks up a theme.
func (c *Catalog) ByID(id string) (*Theme, error) {
	t, ok := c.byID[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownTheme, "id %q", id)
	}
	return t, nil
}

// ByFamily returns the theme for a metric family prefix such as "VMT".
func (c *Catalog) ByFamily(family string) (*Theme, bool) {
	for _, t := range c.themes {
		if t.Family == family {
			return t, true
		}
	}
	return nil, false
}

// All returns the themes in catalog order.
func (c *Catalog) All() []*Theme {
	out := make([]*Theme, len(c.themes))
	copy(out, c.themes)
	return out
}
