package jobs

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"usertracker/internal/aggregation"
	"usertracker/internal/settings"
	"usertracker/internal/timeframe"
)

// MaxCatchUpDays bounds how far back a single run fills in missed days.
const MaxCatchUpDays = 31

// AggregationJob summarizes yesterday, plus any days skipped since the
// last completed run.
type AggregationJob struct {
	db         *gorm.DB
	aggregator *aggregation.Aggregator
	clock      timeframe.TimeProvider
	logger     *slog.Logger
}

func NewAggregationJob(db *gorm.DB, aggregator *aggregation.Aggregator, clock timeframe.TimeProvider, logger *slog.Logger) *AggregationJob {
	return &AggregationJob{db: db, aggregator: aggregator, clock: clock, logger: logger}
}

func (j *AggregationJob) Run(ctx context.Context) error {
	from, to := j.pending()

	j.logger.Info("Running daily aggregation", slog.String("from", from), slog.String("to", to))
	rows, err := j.aggregator.AggregateRange(ctx, from, to)
	if err != nil {
		return err
	}
	j.logger.Info("Daily aggregation finished", slog.Int("rows", rows))
	return nil
}

// pending returns the inclusive day span still to summarize. It always
// includes yesterday so a late visit for it is picked up on rerun.
func (j *AggregationJob) pending() (string, string) {
	yesterday := timeframe.Yesterday(j.clock)
	last, err := settings.GetLastAggregateDay(j.db)
	if err != nil {
		j.logger.Warn("Could not read last aggregation day", slog.Any("error", err))
		return yesterday, yesterday
	}
	lastDay, err := timeframe.ParseDay(last)
	if err != nil {
		return yesterday, yesterday
	}

	end, _ := timeframe.ParseDay(yesterday)
	start := lastDay.AddDate(0, 0, 1)
	if earliest := end.AddDate(0, 0, -(MaxCatchUpDays - 1)); start.Before(earliest) {
		start = earliest
	}
	if start.After(end) {
		start = end
	}
	return timeframe.FormatDay(start), yesterday
}
