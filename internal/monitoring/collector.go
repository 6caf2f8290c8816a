package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vmt-browser/internal/store"
)

// Snapshot holds a point-in-time view of load health.
type Snapshot struct {
	// Load metrics (within lookback window).
	LoadsTotal    int     `json:"loads_total"`
	LoadsComplete int     `json:"loads_complete"`
	LoadsFailed   int     `json:"loads_failed"`
	LoadsRunning  int     `json:"loads_running"`
	FailRate      float64 `json:"fail_rate"`
	Warnings      int     `json:"warnings"`

	// Most recent finished load.
	LastStatus store.LoadStatus `json:"last_status,omitempty"`
	LastError  string           `json:"last_error,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// LoadLister abstracts the store methods needed by the collector.
type LoadLister interface {
	ListLoads(ctx context.Context, filter store.LoadFilter) ([]store.Load, error)
}

// Collector gathers load history from the store.
type Collector struct {
	loads LoadLister
	clock clockwork.Clock
}

// NewCollector creates a new collector.
func NewCollector(loads LoadLister, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{loads: loads, clock: clock}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.clock.Now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	loads, err := c.loads.ListLoads(ctx, store.LoadFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list loads")
	}

	// Loads arrive newest first.
	for _, l := range loads {
		if l.StartedAt.Before(cutoff) {
			continue
		}
		snap.LoadsTotal++
		snap.Warnings += l.Warnings
		switch l.Status {
		case store.LoadStatusComplete:
			snap.LoadsComplete++
		case store.LoadStatusFailed:
			snap.LoadsFailed++
		case store.LoadStatusRunning:
			snap.LoadsRunning++
		}
		if snap.LastStatus == "" && l.Status != store.LoadStatusRunning {
			snap.LastStatus = l.Status
			snap.LastError = l.Error
		}
	}

	if finished := snap.LoadsComplete + snap.LoadsFailed; finished > 0 {
		snap.FailRate = float64(snap.LoadsFailed) / float64(finished)
	}
	return snap, nil
}
