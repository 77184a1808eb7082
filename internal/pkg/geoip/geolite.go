package geoip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"
)

// ErrGeoDBMissing is returned when the GeoLite2 file is not present.
var ErrGeoDBMissing = errors.New("geolite database not found")

// GeoLiteLookup resolves addresses from a local MaxMind GeoLite2-City file.
type GeoLiteLookup struct {
	mu        sync.RWMutex
	reader    *geoip2.Reader
	path      string
	countries *gountries.Query
	logger    *slog.Logger
}

// OpenGeoLite opens the database at path.
func OpenGeoLite(path string, logger *slog.Logger) (*GeoLiteLookup, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reader, err := openReader(path, logger)
	if err != nil {
		return nil, err
	}
	return &GeoLiteLookup{
		reader:    reader,
		path:      path,
		countries: gountries.New(),
		logger:    logger,
	}, nil
}

// NewGeoLite returns a lookup for path whose file may not exist yet.
// Lookups fail with ErrGeoDBMissing until Reload succeeds.
func NewGeoLite(path string, logger *slog.Logger) *GeoLiteLookup {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeoLiteLookup{path: path, countries: gountries.New(), logger: logger}
}

// Path is the database file location.
func (g *GeoLiteLookup) Path() string {
	return g.path
}

// Loaded reports whether a database is open.
func (g *GeoLiteLookup) Loaded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reader != nil
}

func openReader(path string, logger *slog.Logger) (*geoip2.Reader, error) {
	if path == "" {
		return nil, ErrGeoDBMissing
	}

	fileInfo, err := os.Stat(path)
	if os.IsNotExist(err) {
		logger.Info("GeoLite2 database not found",
			slog.String("path", path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil, ErrGeoDBMissing
	} else if err != nil {
		return nil, fmt.Errorf("stat geolite database: %w", err)
	}

	logger.Debug("GeoIP database file details",
		slog.String("path", path),
		slog.Int64("size_bytes", fileInfo.Size()),
		slog.Time("mod_time", fileInfo.ModTime()))

	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geolite database: %w", err)
	}

	logger.Info("GeoLite2 database initialized", slog.String("path", path))
	return reader, nil
}

// Lookup implements Lookup.
func (g *GeoLiteLookup) Lookup(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("geolite: invalid IP %s", ip)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.reader == nil {
		return Location{}, ErrGeoDBMissing
	}

	record, err := g.reader.City(parsed)
	if err != nil {
		return Location{}, fmt.Errorf("geolite lookup failed for IP %s: %w", ip, err)
	}

	loc := Location{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	if loc.Country == "" && record.Country.IsoCode != "" {
		if c, err := g.countries.FindCountryByAlpha(record.Country.IsoCode); err == nil {
			loc.Country = c.Name.Common
		}
	}
	if loc.IsEmpty() {
		return Location{}, fmt.Errorf("geolite: no record for IP %s", ip)
	}
	return loc, nil
}

// Reload reopens the database file, e.g. after a download.
func (g *GeoLiteLookup) Reload() error {
	reader, err := openReader(g.path, g.logger)
	if err != nil {
		return err
	}
	g.mu.Lock()
	old := g.reader
	g.reader = reader
	g.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Close releases the reader.
func (g *GeoLiteLookup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reader == nil {
		return nil
	}
	err := g.reader.Close()
	g.reader = nil
	return err
}
