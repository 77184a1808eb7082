// Package retention deletes tracked data older than a configured age.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"usertracker/internal/metrics"
	"usertracker/internal/timeframe"
)

const defaultBatchSize = 1000

// Result counts rows deleted per table.
type Result struct {
	Visits int64 `json:"visits"`
	Logs   int64 `json:"logs"`
	Daily  int64 `json:"daily"`
}

// Total is the number of rows deleted across tables.
func (r Result) Total() int64 {
	return r.Visits + r.Logs + r.Daily
}

// Purger removes old visits, diagnostic logs and daily summaries.
type Purger struct {
	db        *gorm.DB
	logger    *slog.Logger
	clock     timeframe.TimeProvider
	batchSize int
	pause     time.Duration
}

type Option func(*Purger)

// WithBatch sets the rows deleted per statement and the pause between
// statements.
func WithBatch(size int, pause time.Duration) Option {
	return func(p *Purger) {
		if size > 0 {
			p.batchSize = size
		}
		p.pause = pause
	}
}

func NewPurger(db *gorm.DB, logger *slog.Logger, clock timeframe.TimeProvider, opts ...Option) *Purger {
	if clock == nil {
		clock = &timeframe.DefaultTimeProvider{}
	}
	p := &Purger{
		db:        db,
		logger:    logger,
		clock:     clock,
		batchSize: defaultBatchSize,
		pause:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Purge deletes rows older than days (minimum 1). Daily summaries are cut
// by calendar day; visits and logs by timestamp.
func (p *Purger) Purge(ctx context.Context, days int) (Result, error) {
	if days < 1 {
		days = 1
	}
	cutoff := p.clock.Now(time.UTC).Add(-time.Duration(days) * 24 * time.Hour)
	cutoffDay := timeframe.FormatDay(cutoff)

	p.logger.Info("Starting retention purge",
		slog.Int("retention_days", days),
		slog.Time("cutoff", cutoff))

	var res Result
	var err error

	if res.Visits, err = p.purgeTable(ctx, "user_visits", "visited_at < ?", cutoff); err != nil {
		return res, err
	}
	if res.Logs, err = p.purgeTable(ctx, "diagnostic_logs", "created_at < ?", cutoff); err != nil {
		return res, err
	}
	if res.Daily, err = p.purgeTable(ctx, "page_daily", "day < ?", cutoffDay); err != nil {
		return res, err
	}

	p.logger.Info("Retention purge finished",
		slog.Int64("visits", res.Visits),
		slog.Int64("logs", res.Logs),
		slog.Int64("daily", res.Daily))
	return res, nil
}

// purgeTable deletes matching rows in id batches so the write lock is
// released between statements.
func (p *Purger) purgeTable(ctx context.Context, table, cond string, arg any) (int64, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE %s LIMIT ?)", table, table, cond)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		result := p.db.WithContext(ctx).Exec(stmt, arg, p.batchSize)
		if result.Error != nil {
			p.logger.Error("Failed to purge rows",
				slog.String("table", table),
				slog.Int64("deleted_so_far", total),
				slog.Any("error", result.Error))
			return total, fmt.Errorf("purge %s: %w", table, result.Error)
		}

		total += result.RowsAffected
		metrics.RetentionDeletedTotal.WithLabelValues(table).Add(float64(result.RowsAffected))

		if result.RowsAffected < int64(p.batchSize) {
			return total, nil
		}
		if p.pause > 0 {
			time.Sleep(p.pause)
		}
	}
}
