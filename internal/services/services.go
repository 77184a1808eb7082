// Package services assembles the ingestion and reporting components over
// one database and configuration, for the server, the CLI and tests.
package services

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/karloscodes/cartridge/cache"
	"gorm.io/gorm"

	"usertracker/internal/aggregation"
	"usertracker/internal/config"
	"usertracker/internal/diagnostics"
	"usertracker/internal/pages"
	"usertracker/internal/pkg/geoip"
	"usertracker/internal/pkg/user_agent"
	"usertracker/internal/retention"
	"usertracker/internal/timeframe"
	"usertracker/internal/visits"
)

// Options overrides parts of the graph, mostly for tests.
type Options struct {
	Lookup       geoip.Lookup
	Cache        geoip.Cache
	Diagnostics  diagnostics.Logger
	TimeProvider timeframe.TimeProvider
}

type Services struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *gorm.DB
	Clock  timeframe.TimeProvider

	Diagnostics diagnostics.Logger
	GeoCache    geoip.Cache
	GeoLite     *geoip.GeoLiteLookup
	Resolver    *geoip.Resolver
	Pages       *pages.Classifier
	Recorder    *visits.Recorder
	Aggregator  *aggregation.Aggregator
	Purger      *retention.Purger

	closers []func() error
}

// New wires every component. Geo sources that cannot be opened degrade to
// no lookups and the in-memory cache rather than failing startup.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *slog.Logger, opts Options) (*Services, error) {
	s := &Services{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Clock:  opts.TimeProvider,
	}
	if s.Clock == nil {
		s.Clock = &timeframe.DefaultTimeProvider{}
	}

	s.Diagnostics = opts.Diagnostics
	if s.Diagnostics == nil {
		sink := diagnostics.NewSink(db, logger, cfg.DiagnosticsBuffer)
		s.closers = append(s.closers, func() error { sink.Close(); return nil })
		s.Diagnostics = sink
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = s.openLookup()
	}
	s.GeoCache = opts.Cache
	if s.GeoCache == nil {
		s.GeoCache = s.openCache(ctx)
	}
	s.Resolver = geoip.NewResolver(lookup, s.GeoCache, geoip.ResolverOptions{
		TTL:         cfg.GetGeoCacheTTL(),
		Timeout:     cfg.GetGeoTimeout(),
		Diagnostics: s.Diagnostics,
		Logger:      logger,
	})

	excluded, err := visits.NewPathExcluder(cfg.GetExcludedPaths())
	if err != nil {
		s.Close()
		return nil, err
	}

	bots, err := user_agent.Default()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Pages = pages.NewClassifier(pages.NewSiteLinker(cfg.HomeURL))
	s.Recorder = visits.NewRecorder(db, logger, visits.RecorderOptions{
		Pages:         s.Pages,
		Bots:          bots,
		Geo:           s.Resolver,
		ExcludedPaths: excluded,
		Diagnostics:   s.Diagnostics,
		TimeProvider:  s.Clock,
	})
	s.Aggregator = aggregation.NewAggregator(db, logger, s.Clock)
	s.Purger = retention.NewPurger(db, logger, s.Clock)

	return s, nil
}

func (s *Services) openLookup() geoip.Lookup {
	switch s.Config.GeoProvider {
	case config.GeoProviderIPAPI:
		return geoip.NewIPAPILookup(s.Config.GeoIPAPIURL, s.Config.GetGeoTimeout(), s.Logger)
	case config.GeoProviderGeoLite:
		g, err := geoip.OpenGeoLite(s.Config.GeoDBPath, s.Logger)
		if errors.Is(err, geoip.ErrGeoDBMissing) && s.Config.GeoLiteLicenseKey != "" {
			// The updater job downloads the file and reloads this lookup.
			s.Logger.Info("GeoLite database not downloaded yet", slog.String("path", s.Config.GeoDBPath))
			g, err = geoip.NewGeoLite(s.Config.GeoDBPath, s.Logger), nil
		}
		if err != nil {
			s.Logger.Warn("GeoLite database unavailable, geolocation disabled",
				slog.String("path", s.Config.GeoDBPath),
				slog.Any("error", err))
			return geoip.NoopLookup{}
		}
		s.GeoLite = g
		s.closers = append(s.closers, g.Close)
		return g
	default:
		return geoip.NoopLookup{}
	}
}

func (s *Services) openCache(ctx context.Context) geoip.Cache {
	switch s.Config.GeoCacheBackend {
	case config.GeoCacheRedis:
		c, err := geoip.NewRedisCache(ctx, s.Config.RedisURL)
		if err != nil {
			s.Logger.Warn("Redis geo cache unavailable, using memory cache", slog.Any("error", err))
			return s.memoryCache()
		}
		s.closers = append(s.closers, c.Close)
		return c
	case config.GeoCacheDatabase:
		c, err := geoip.NewDBCache(s.DB)
		if err != nil {
			s.Logger.Warn("Database geo cache unavailable, using memory cache", slog.Any("error", err))
			return s.memoryCache()
		}
		s.closers = append(s.closers, c.Close)
		return c
	default:
		return s.memoryCache()
	}
}

func (s *Services) memoryCache() geoip.Cache {
	c := geoip.NewMemoryCache(geoip.DefaultMaxEntries)
	s.closers = append(s.closers, c.Close)
	return c
}

// HomeHost is the host of the configured site URL.
func (s *Services) HomeHost() string {
	u, err := url.Parse(s.Config.HomeURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// GeoCacheStats reports the size of the geo cache. Redis keeps no such
// counters and reports false.
func (s *Services) GeoCacheStats(ctx context.Context) (cache.Stats, bool) {
	c, ok := s.GeoCache.(*geoip.StoreCache)
	if !ok {
		return cache.Stats{}, false
	}
	return c.Stats(ctx), true
}

// Close flushes the diagnostics sink and releases geo resources.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
