package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
)

func newBareScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		cron:       cron.New(),
		ctx:        ctx,
		cancel:     cancel,
		processing: make(map[string]bool),
		entries:    make(map[string]cron.EntryID),
	}
}

func TestExecuteJobSafelySkipsOverlap(t *testing.T) {
	s := newBareScheduler()
	defer s.cancel()

	release := make(chan struct{})
	started := make(chan struct{})
	var runs int
	var mu sync.Mutex

	job := func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		<-release
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.executeJobSafely("slow", job)
		close(done)
	}()
	<-started

	// Same job is skipped while running; other jobs are not blocked.
	s.executeJobSafely("slow", job)
	var other bool
	s.executeJobSafely("other", func(context.Context) error { other = true; return nil })

	close(release)
	<-done

	mu.Lock()
	assert.Equal(t, 1, runs)
	mu.Unlock()
	assert.True(t, other)
}

func TestExecuteJobSafelyRecoversPanics(t *testing.T) {
	s := newBareScheduler()
	defer s.cancel()

	assert.NotPanics(t, func() {
		s.executeJobSafely("boom", func(context.Context) error { panic("boom") })
	})
	s.executeJobSafely("failing", func(context.Context) error { return errors.New("failed") })

	// The flag is cleared so the job runs again.
	ran := false
	s.executeJobSafely("boom", func(context.Context) error { ran = true; return nil })
	assert.True(t, ran)
}

func TestStopWaitsForRunningJob(t *testing.T) {
	s := newBareScheduler()
	finished := make(chan struct{})
	_, err := s.cron.AddFunc("@every 1s", func() {
		s.executeJobSafely("tick", func(ctx context.Context) error {
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			select {
			case <-finished:
			default:
				close(finished)
			}
			return nil
		})
	})
	assert.NoError(t, err)

	s.cron.Start()
	s.isRunning = true
	time.Sleep(1500 * time.Millisecond)

	s.Stop()
	select {
	case <-finished:
	default:
		t.Fatal("job still running after Stop")
	}
}
