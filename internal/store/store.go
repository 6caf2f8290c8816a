// Package store persists fetched source payloads and the history of dataset
// loads.
package store

import (
	"context"
	"time"
)

// LoadStatus is the outcome of one dataset load.
type LoadStatus string

// Load outcomes.
const (
	LoadStatusRunning  LoadStatus = "running"
	LoadStatusComplete LoadStatus = "complete"
	LoadStatusFailed   LoadStatus = "failed"
)

// Load is one recorded dataset load.
type Load struct {
	ID         string     `json:"id"`
	Years      []int      `json:"years"`
	Status     LoadStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Warnings   int        `json:"warnings"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// LoadFilter specifies criteria for listing loads.
type LoadFilter struct {
	Status LoadStatus `json:"status,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// Store defines the persistence interface for the browser.
type Store interface {
	// Payload cache
	GetPayload(ctx context.Context, url string) ([]byte, error)
	SetPayload(ctx context.Context, url string, data []byte, ttl time.Duration) error
	DeleteExpiredPayloads(ctx context.Context) (int, error)

	// Loads
	StartLoad(ctx context.Context, years []int) (*Load, error)
	FinishLoad(ctx context.Context, id string, warnings int, loadErr error) error
	ListLoads(ctx context.Context, filter LoadFilter) ([]Load, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
