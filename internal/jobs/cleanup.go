package jobs

import (
	"context"
	"log/slog"

	"usertracker/internal/config"
	"usertracker/internal/retention"
	"usertracker/internal/services"
)

// CleanupJob enforces the retention window on visits, diagnostic logs and
// daily summaries.
type CleanupJob struct {
	purger *retention.Purger
	logger *slog.Logger
	cfg    *config.Config
}

func NewCleanupJob(svc *services.Services, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		purger: svc.Purger,
		logger: logger,
		cfg:    svc.Config,
	}
}

func (j *CleanupJob) Run(ctx context.Context) error {
	j.logger.Info("Starting retention cleanup", slog.Int("retention_days", j.cfg.RetentionDays))

	res, err := j.purger.Purge(ctx, j.cfg.RetentionDays)
	if err != nil {
		return err
	}

	j.logger.Info("Retention cleanup completed",
		slog.Int64("visits", res.Visits),
		slog.Int64("logs", res.Logs),
		slog.Int64("daily", res.Daily))
	return nil
}
