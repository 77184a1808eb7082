package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"usertracker/internal/config"
	"usertracker/internal/pkg/geoip"
	"usertracker/internal/settings"
	"usertracker/internal/timeframe"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// Settings key for the last successful download
	KeyGeoLiteLastUpdate = "geolite_last_update"

	geoLiteDownloadTimeout = 5 * time.Minute
)

// GeoLiteUpdaterJob keeps the GeoLite2 City file fresh and swaps it into
// the running lookup.
type GeoLiteUpdaterJob struct {
	db     *gorm.DB
	lookup *geoip.GeoLiteLookup
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client
	clock  timeframe.TimeProvider
}

func NewGeoLiteUpdaterJob(db *gorm.DB, lookup *geoip.GeoLiteLookup, cfg *config.Config, logger *slog.Logger) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		db:     db,
		lookup: lookup,
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: geoLiteDownloadTimeout},
		clock:  &timeframe.DefaultTimeProvider{},
	}
}

// Run downloads a new database when the current one is missing or older
// than GeoLiteUpdateInterval.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	if j.cfg.GeoLiteLicenseKey == "" {
		j.logger.Debug("GeoLite license key not configured, skipping update")
		return nil
	}

	now := j.clock.Now(time.UTC)
	lastUpdate := j.getLastUpdateTime()
	if j.lookup.Loaded() && now.Sub(lastUpdate) < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate),
			slog.Duration("age", now.Sub(lastUpdate)))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))

	if err := j.downloadAndUpdate(ctx); err != nil {
		return fmt.Errorf("update geolite database: %w", err)
	}
	if err := j.lookup.Reload(); err != nil {
		return fmt.Errorf("reload geolite database: %w", err)
	}

	if err := settings.UpdateSetting(j.db, KeyGeoLiteLastUpdate, now.Format(time.RFC3339)); err != nil {
		j.logger.Error("Failed to update last update time", slog.Any("error", err))
	}

	j.logger.Info("GeoLite database updated successfully", slog.String("path", j.lookup.Path()))
	return nil
}

func (j *GeoLiteUpdaterJob) getLastUpdateTime() time.Time {
	value, err := settings.GetSetting(j.db, KeyGeoLiteLastUpdate)
	if err != nil || value == "" {
		return time.Time{}
	}
	lastUpdate, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return lastUpdate
}

// downloadAndUpdate fetches the archive and replaces the .mmdb file
// atomically so a concurrent Reload never sees a partial file.
func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context) error {
	dest := j.lookup.Path()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	downloadURL := j.cfg.GeoLiteDownloadURL
	if strings.Contains(downloadURL, "%s") {
		downloadURL = fmt.Sprintf(downloadURL, j.cfg.GeoLiteLicenseKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream into dst.
func extractMMDB(r io.Reader, dst io.Writer) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		if strings.HasSuffix(header.Name, ".mmdb") {
			if _, err := io.Copy(dst, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}

	return fmt.Errorf("no .mmdb file found in archive")
}
