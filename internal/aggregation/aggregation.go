// Package aggregation folds raw visits into per-page daily summaries and
// answers report queries over them.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"usertracker/internal/metrics"
	"usertracker/internal/pages"
	"usertracker/internal/settings"
	"usertracker/internal/timeframe"
)

// ErrInvalidDay is returned for days not in YYYY-MM-DD form.
var ErrInvalidDay = timeframe.ErrInvalidDay

// DailySummary holds one page's visit and landing counts for one UTC day.
type DailySummary struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Day         string    `gorm:"size:10;not null;uniqueIndex:idx_page_daily_day_hash,priority:1;index" json:"day"`
	PageURLHash string    `gorm:"size:40;not null;uniqueIndex:idx_page_daily_day_hash,priority:2" json:"page_url_hash"`
	PageURL     string    `gorm:"type:text;not null" json:"page_url"`
	Visits      int64     `gorm:"not null;default:0" json:"visits"`
	Landings    int64     `gorm:"not null;default:0" json:"landings"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (DailySummary) TableName() string {
	return "page_daily"
}

type dayRow struct {
	PageURLHash string
	PageURL     string
	Visits      int64
	Landings    int64
}

// Aggregator rebuilds daily summaries from raw visits.
type Aggregator struct {
	db     *gorm.DB
	logger *slog.Logger
	clock  timeframe.TimeProvider
}

func NewAggregator(db *gorm.DB, logger *slog.Logger, clock timeframe.TimeProvider) *Aggregator {
	if clock == nil {
		clock = &timeframe.DefaultTimeProvider{}
	}
	return &Aggregator{db: db, logger: logger, clock: clock}
}

// Aggregate summarizes one day and returns the number of summary rows
// written. An empty day means yesterday in UTC. Running it again for the
// same day replaces the counts.
func (a *Aggregator) Aggregate(ctx context.Context, day string) (int, error) {
	if day == "" {
		day = timeframe.Yesterday(a.clock)
	}
	date, err := timeframe.ParseDay(day)
	if err != nil {
		metrics.AggregationRunsTotal.WithLabelValues("invalid").Inc()
		return 0, err
	}
	start, end := timeframe.DayBounds(date)

	var rows []dayRow
	err = a.db.WithContext(ctx).Raw(`
		SELECT page_url_hash,
		       MIN(page_url) AS page_url,
		       COUNT(*) AS visits,
		       COALESCE(SUM(is_landing), 0) AS landings
		FROM user_visits
		WHERE visited_at >= ? AND visited_at < ?
		GROUP BY page_url_hash`, start, end).Scan(&rows).Error
	if err != nil {
		metrics.AggregationRunsTotal.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("read visits for %s: %w", day, err)
	}

	if len(rows) == 0 {
		a.logger.Debug("No visits to aggregate", slog.String("day", day))
		a.markDone(day)
		metrics.AggregationRunsTotal.WithLabelValues("empty").Inc()
		return 0, nil
	}

	now := a.clock.Now(time.UTC)
	err = sqlite.PerformWrite(a.logger, a.db, func(tx *gorm.DB) error {
		for _, row := range rows {
			hash := row.PageURLHash
			if hash == "" {
				hash = pages.Hash(row.PageURL)
			}
			res := tx.WithContext(ctx).Exec(`
				INSERT INTO page_daily (day, page_url_hash, page_url, visits, landings, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(day, page_url_hash) DO UPDATE SET
					page_url = excluded.page_url,
					visits = excluded.visits,
					landings = excluded.landings,
					updated_at = excluded.updated_at`,
				day, hash, row.PageURL, row.Visits, row.Landings, now, now)
			if res.Error != nil {
				return fmt.Errorf("upsert summary for %s: %w", row.PageURL, res.Error)
			}
		}
		return nil
	})
	if err != nil {
		metrics.AggregationRunsTotal.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("aggregate %s: %w", day, err)
	}

	a.markDone(day)

	metrics.AggregationRunsTotal.WithLabelValues("success").Inc()
	metrics.AggregationRowsWritten.Add(float64(len(rows)))
	a.logger.Info("Aggregated daily page stats",
		slog.String("day", day),
		slog.Int("rows", len(rows)))
	return len(rows), nil
}

// markDone advances the last aggregated day. Empty days count, so a quiet
// site does not re-run its catch-up window every night.
func (a *Aggregator) markDone(day string) {
	if err := settings.SetLastAggregateDay(a.db, day); err != nil {
		a.logger.Warn("Failed to record last aggregated day", slog.String("day", day), slog.Any("error", err))
	}
}

// AggregateRange runs Aggregate for every day from..to inclusive and
// returns the total rows written. It stops at the first failing day.
func (a *Aggregator) AggregateRange(ctx context.Context, from, to string) (int, error) {
	days, err := timeframe.Days(from, to)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := a.Aggregate(ctx, day)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// PageStat is a page's totals over a span of summary days.
type PageStat struct {
	PageURL  string `json:"page_url"`
	Visits   int64  `json:"visits"`
	Landings int64  `json:"landings"`
}

// MaxPageStats caps the rows PageStats returns.
const MaxPageStats = 200

// PageStats sums summary rows per page over from..to (inclusive days),
// optionally for one page URL, most visited first.
func PageStats(ctx context.Context, db *gorm.DB, from, to, pageURL string) ([]PageStat, error) {
	if _, err := timeframe.ParseRange(from, to); err != nil {
		return nil, err
	}
	if from == "" || to == "" {
		return nil, errors.New("from and to are required")
	}

	q := db.WithContext(ctx).Model(&DailySummary{}).
		Select("page_url, SUM(visits) AS visits, SUM(landings) AS landings").
		Where("day >= ? AND day <= ?", from, to)
	if pageURL != "" {
		q = q.Where("page_url = ?", pageURL)
	}

	stats := []PageStat{}
	err := q.Group("page_url").
		Order("visits DESC, page_url ASC").
		Limit(MaxPageStats).
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("page stats: %w", err)
	}
	return stats, nil
}
