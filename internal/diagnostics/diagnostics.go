// Package diagnostics keeps a small, business-visible log of ingestion
// problems (geo lookup failures, insert failures) next to the tracked data.
package diagnostics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"usertracker/internal/metrics"
)

// LogEntry is one diagnostic line.
type LogEntry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName pins the table name.
func (LogEntry) TableName() string {
	return "diagnostic_logs"
}

// Logger is the fire-and-forget surface handed to ingestion components.
type Logger interface {
	Log(message string)
}

// Sink persists entries from a buffered channel on a single writer goroutine.
// Log never blocks: when the buffer is full the entry is dropped.
type Sink struct {
	db      *gorm.DB
	logger  *slog.Logger
	entries chan LogEntry
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewSink starts the writer goroutine. Call Close to flush and stop it.
func NewSink(db *gorm.DB, logger *slog.Logger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sink{
		db:      db,
		logger:  logger,
		entries: make(chan LogEntry, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Log enqueues a message.
func (s *Sink) Log(message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	entry := LogEntry{Message: message, CreatedAt: time.Now().UTC()}
	select {
	case s.entries <- entry:
	default:
		metrics.DiagnosticsDroppedTotal.Inc()
		s.logger.Warn("Diagnostic log buffer full, dropping entry", slog.String("message", message))
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.entries)
		s.mu.Unlock()
		<-s.done
	})
}

func (s *Sink) run() {
	defer close(s.done)
	for entry := range s.entries {
		if err := Write(s.db, s.logger, entry.Message, entry.CreatedAt); err != nil {
			s.logger.Error("Failed to persist diagnostic log", slog.Any("error", err))
		}
	}
}

// Write inserts an entry synchronously.
func Write(db *gorm.DB, logger *slog.Logger, message string, at time.Time) error {
	entry := LogEntry{Message: message, CreatedAt: at}
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(&entry).Error
	})
}

// List returns the newest entries first.
func List(db *gorm.DB, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var entries []LogEntry
	err := db.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// Clear removes every entry and returns how many were deleted.
func Clear(db *gorm.DB, logger *slog.Logger) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("1 = 1").Delete(&LogEntry{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}
