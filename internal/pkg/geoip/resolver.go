package geoip

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"usertracker/internal/diagnostics"
	"usertracker/internal/metrics"
)

// Location is the resolved country/region/city triple. The zero value
// means "unknown".
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// IsEmpty reports whether nothing was resolved.
func (l Location) IsEmpty() bool {
	return l.Country == "" && l.Region == "" && l.City == ""
}

// Lookup resolves an address against some geolocation source.
type Lookup interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// NoopLookup never resolves anything.
type NoopLookup struct{}

// Lookup implements Lookup.
func (NoopLookup) Lookup(context.Context, string) (Location, error) {
	return Location{}, nil
}

// ResolverOptions tunes a Resolver.
type ResolverOptions struct {
	TTL         time.Duration
	Timeout     time.Duration
	Diagnostics diagnostics.Logger
	Logger      *slog.Logger
}

// Resolver turns client addresses into locations. Results are cached per
// address; failures are reported to the diagnostics log and resolve to
// the empty Location. Resolve never returns an error.
type Resolver struct {
	lookup  Lookup
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	diag    diagnostics.Logger
	logger  *slog.Logger
}

// NewResolver wires a lookup source and a cache.
func NewResolver(lookup Lookup, cache Cache, opts ResolverOptions) *Resolver {
	if lookup == nil {
		lookup = NoopLookup{}
	}
	if cache == nil {
		cache = NewMemoryCache(DefaultMaxEntries)
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		lookup:  lookup,
		cache:   cache,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		diag:    opts.Diagnostics,
		logger:  opts.Logger,
	}
}

// Resolve returns the location for ip.
func (r *Resolver) Resolve(ctx context.Context, ip string) Location {
	if !IsResolvable(ip) {
		metrics.GeoLookupsTotal.WithLabelValues("skipped").Inc()
		return Location{}
	}

	key := CacheKey(ip)
	if loc, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn("Geo cache read failed", slog.String("ip", ip), slog.Any("error", err))
	} else if ok {
		metrics.GeoLookupsTotal.WithLabelValues("cache_hit").Inc()
		return loc
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	loc, err := r.lookup.Lookup(lookupCtx, ip)
	metrics.GeoLookupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GeoLookupsTotal.WithLabelValues("failure").Inc()
		r.logger.Debug("Geo lookup failed", slog.String("ip", ip), slog.Any("error", err))
		if r.diag != nil {
			r.diag.Log(err.Error())
		}
		return Location{}
	}

	metrics.GeoLookupsTotal.WithLabelValues("success").Inc()
	if err := r.cache.Set(ctx, key, loc, r.ttl); err != nil {
		r.logger.Warn("Geo cache write failed", slog.String("ip", ip), slog.Any("error", err))
	}
	return loc
}

// IsResolvable reports whether ip is a public address worth looking up.
// Loopback, unspecified, private, link-local and unparseable values are not.
func IsResolvable(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsUnspecified() || addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return false
	}
	return true
}

// CacheKey derives the stable cache key for an address.
func CacheKey(ip string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(ip)))
	return "geo_" + hex.EncodeToString(sum[:])
}
