package http

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"usertracker/internal/settings"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	DBStatus         string    `json:"db_status"`
	LastAggregateDay string    `json:"last_aggregate_day,omitempty"`
}

// HealthIndexAction handles the health check endpoint
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		DBStatus:  "ok",
	}

	db := ctx.DBManager.GetConnection()
	if db == nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else if sqlDB, err := db.DB(); err != nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
	} else if err := sqlDB.PingContext(ctx.UserContext()); err != nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
	} else if day, err := settings.GetLastAggregateDay(db); err == nil {
		health.LastAggregateDay = day
	}

	if health.DBStatus != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
