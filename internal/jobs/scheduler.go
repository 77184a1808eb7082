package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"usertracker/internal/config"
	"usertracker/internal/metrics"
	"usertracker/internal/services"
)

// Job names, also used as metric labels.
const (
	JobAggregation   = "aggregation"
	JobCleanup       = "cleanup"
	JobGeoLiteUpdate = "geolite_update"
)

const (
	geoLiteSchedule = "0 4 * * *"
	stopTimeout     = 30 * time.Second
)

// Scheduler is responsible for running background jobs
type Scheduler struct {
	svc       *services.Services
	logger    *slog.Logger
	cfg       *config.Config
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	startup   sync.WaitGroup

	// Guards against a job overlapping its own previous run
	processingMutex sync.Mutex
	processing      map[string]bool

	entries map[string]cron.EntryID

	aggregation *AggregationJob
	cleanup     *CleanupJob
	geolite     *GeoLiteUpdaterJob
}

// NewScheduler registers every job on its cron schedule. A malformed
// schedule is reported here rather than at Start.
func NewScheduler(svc *services.Services, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		svc:        svc,
		logger:     logger,
		cfg:        svc.Config,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		ctx:        ctx,
		cancel:     cancel,
		processing: make(map[string]bool),
		entries:    make(map[string]cron.EntryID),
	}

	s.aggregation = NewAggregationJob(svc.DB, svc.Aggregator, svc.Clock, logger)
	s.cleanup = NewCleanupJob(svc, logger)
	if svc.GeoLite != nil && s.cfg.GeoLiteLicenseKey != "" {
		s.geolite = NewGeoLiteUpdaterJob(svc.DB, svc.GeoLite, s.cfg, logger)
	}

	entries := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{JobAggregation, s.cfg.AggregationSchedule, s.aggregation.Run},
		{JobCleanup, s.cfg.RetentionSchedule, s.cleanup.Run},
	}
	if s.geolite != nil {
		entries = append(entries, struct {
			name     string
			schedule string
			run      func(context.Context) error
		}{JobGeoLiteUpdate, geoLiteSchedule, s.geolite.Run})
	}

	for _, e := range entries {
		name, run := e.name, e.run
		id, err := s.cron.AddFunc(e.schedule, func() { s.executeJobSafely(name, run) })
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for job %s: %w", e.schedule, name, err)
		}
		s.entries[name] = id
		logger.Debug("Scheduled job", slog.String("job", name), slog.String("schedule", e.schedule))
	}

	return s, nil
}

// executeJobSafely runs a job unless its previous run is still going.
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func(context.Context) error) {
	s.processingMutex.Lock()
	if s.processing[jobName] {
		s.logger.Debug("Skipping job execution - previous run still in progress", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.processing[jobName] = true
	s.processingMutex.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.JobRunsTotal.WithLabelValues(jobName, "panic").Inc()
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		delete(s.processing, jobName)
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(s.ctx); err != nil {
		metrics.JobRunsTotal.WithLabelValues(jobName, "error").Inc()
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
		return
	}
	metrics.JobRunsTotal.WithLabelValues(jobName, "success").Inc()
	s.logger.Debug("Job finished", slog.String("job", jobName), slog.Duration("duration", time.Since(start)))
}

// Start begins all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.cron.Start()
	s.isRunning = true

	// Catch up on days missed while the server was down.
	s.runInBackground(JobAggregation, s.aggregation.Run)
	if s.geolite != nil && !s.svc.GeoLite.Loaded() {
		s.runInBackground(JobGeoLiteUpdate, s.geolite.Run)
	}

	s.logger.Info("Background jobs started", slog.Int("jobs", len(s.cron.Entries())))
	return nil
}

func (s *Scheduler) runInBackground(name string, run func(context.Context) error) {
	s.startup.Add(1)
	go func() {
		defer s.startup.Done()
		s.executeJobSafely(name, run)
	}()
}

// Stop halts all background jobs and waits for running ones to finish.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.startup.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("Timed out waiting for background jobs to stop")
	}

	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// Next reports when each job fires next, keyed by job name.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}
