package fetcher

import (
	"bytes"
	"context"
	"io"
	"time"

	"go.uber.org/zap"
)

// Cache stores raw payloads keyed by source URL.
type Cache interface {
	// GetPayload returns the cached body, or nil when absent or expired.
	GetPayload(ctx context.Context, url string) ([]byte, error)
	SetPayload(ctx context.Context, url string, data []byte, ttl time.Duration) error
}

// CachingFetcher serves repeat downloads from a Cache. Cache failures are
// logged and fall through to the wrapped fetcher.
type CachingFetcher struct {
	Next  Fetcher
	Cache Cache
	TTL   time.Duration
	// Observe, when set, is called once per lookup with the hit result.
	Observe func(hit bool)
}

// Download returns the cached payload when present, otherwise downloads and
// stores it.
func (c *CachingFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	log := zap.L().With(zap.String("component", "fetcher.cache"), zap.String("url", url))

	data, err := c.Cache.GetPayload(ctx, url)
	if err != nil {
		log.Warn("cache read failed", zap.Error(err))
	} else if data != nil {
		log.Debug("cache hit", zap.Int("bytes", len(data)))
		c.observe(true)
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	c.observe(false)
	data, err = FetchAll(ctx, c.Next, url)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.SetPayload(ctx, url, data, c.TTL); err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *CachingFetcher) observe(hit bool) {
	if c.Observe != nil {
		c.Observe(hit)
	}
}
