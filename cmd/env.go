package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/sells-group/vmt-browser/internal/aggregate"
	"github.com/sells-group/vmt-browser/internal/fetcher"
	"github.com/sells-group/vmt-browser/internal/loader"
	"github.com/sells-group/vmt-browser/internal/monitoring"
	"github.com/sells-group/vmt-browser/internal/store"
)

// browserEnv holds the fetch chain, the optional cache store and the loader
// shared by the serve, join and table commands.
type browserEnv struct {
	Store   store.Store // nil when the cache is disabled
	Fetcher fetcher.Fetcher
	Loader  *loader.Loader
}

// Close releases resources held by the environment.
func (e *browserEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured cache store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Cache.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Cache.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Cache.MaxConns})
	default:
		st, err = store.NewSQLite(cfg.Cache.Path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s cache", cfg.Cache.Driver)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate cache")
	}
	return st, nil
}

// initEnv builds the fetch chain (HTTP or local file, optionally behind the
// cache store) and the loader. metrics may be nil. Callers should defer
// env.Close().
func initEnv(ctx context.Context, metrics *monitoring.Metrics) (*browserEnv, error) {
	var f fetcher.Fetcher = fetcher.SchemeFetcher{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:   cfg.Fetch.UserAgent,
			Timeout:     cfg.Fetch.FetchTimeout(),
			MaxRetries:  cfg.Fetch.MaxRetries,
			RatePerHost: rate.Limit(cfg.Fetch.RatePerHost),
		}),
		Local: fetcher.FileFetcher{},
	}

	env := &browserEnv{}
	var opts []loader.Option
	if metrics != nil {
		opts = append(opts, loader.WithMetrics(metrics))
	}

	if cfg.Cache.Enabled {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
		cf := &fetcher.CachingFetcher{Next: f, Cache: st, TTL: cfg.Cache.TTL()}
		if metrics != nil {
			cf.Observe = func(hit bool) {
				result := "miss"
				if hit {
					result = "hit"
				}
				metrics.CacheLookups.WithLabelValues(result).Inc()
			}
		}
		f = cf
		opts = append(opts, loader.WithRecorder(st))
		zap.L().Info("payload cache enabled", zap.String("driver", cfg.Cache.Driver), zap.Duration("ttl", cfg.Cache.TTL()))
	} else {
		zap.L().Debug("payload cache disabled, load history is not recorded")
	}

	env.Fetcher = f
	env.Loader = loader.New(f, cfg.Data, opts...)
	return env, nil
}

// newAggregator builds the table aggregator for the configured locale.
func newAggregator() (*aggregate.Aggregator, error) {
	tag, err := language.Parse(cfg.Data.Locale)
	if err != nil {
		return nil, eris.Wrapf(err, "parse locale %q", cfg.Data.Locale)
	}
	opts := []aggregate.Option{aggregate.WithLocale(tag)}
	if cfg.Data.Tolerance > 0 {
		opts = append(opts, aggregate.WithTolerance(cfg.Data.Tolerance))
	}
	return aggregate.New(opts...), nil
}
