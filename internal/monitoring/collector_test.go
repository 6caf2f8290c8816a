package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vmt-browser/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// mockStore serves canned loads and counts prune calls.
type mockStore struct {
	loads    []store.Load
	listErr  error
	pruned   atomic.Int32
	pruneErr error
}

func (m *mockStore) ListLoads(_ context.Context, filter store.LoadFilter) ([]store.Load, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []store.Load
	for _, l := range m.loads {
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *mockStore) DeleteExpiredPayloads(context.Context) (int, error) {
	m.pruned.Add(1)
	return 2, m.pruneErr
}

func load(status store.LoadStatus, ago time.Duration, warnings int, msg string) store.Load {
	return store.Load{
		ID:        "load-" + string(status),
		Years:     []int{2012},
		Status:    status,
		Error:     msg,
		Warnings:  warnings,
		StartedAt: testNow.Add(-ago),
	}
}

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(&mockStore{}, clockwork.NewFakeClockAt(testNow))

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.LoadsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Empty(t, snap.LastStatus)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, testNow, snap.CollectedAt)
}

func TestCollector_LoadMetrics(t *testing.T) {
	// Newest first, as the store returns them.
	st := &mockStore{loads: []store.Load{
		load(store.LoadStatusRunning, time.Minute, 0, ""),
		load(store.LoadStatusFailed, time.Hour, 0, "fetch: status 404"),
		load(store.LoadStatusComplete, 2*time.Hour, 3, ""),
		load(store.LoadStatusComplete, 3*time.Hour, 1, ""),
		load(store.LoadStatusFailed, 48*time.Hour, 0, "outside window"),
	}}
	c := NewCollector(st, clockwork.NewFakeClockAt(testNow))

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.LoadsTotal)
	assert.Equal(t, 2, snap.LoadsComplete)
	assert.Equal(t, 1, snap.LoadsFailed)
	assert.Equal(t, 1, snap.LoadsRunning)
	assert.Equal(t, 4, snap.Warnings)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.0001)
	assert.Equal(t, store.LoadStatusFailed, snap.LastStatus)
	assert.Equal(t, "fetch: status 404", snap.LastError)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&mockStore{listErr: errors.New("db closed")}, clockwork.NewFakeClockAt(testNow))

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list loads")
}

func TestCollector_NilClockUsesRealClock(t *testing.T) {
	c := NewCollector(&mockStore{}, nil)
	snap, err := c.Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), snap.CollectedAt, time.Minute)
}
