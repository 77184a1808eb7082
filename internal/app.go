// Package internal contains core application functionality
package internal

import (
	"context"
	"fmt"

	"github.com/karloscodes/cartridge"

	"usertracker/internal/config"
	"usertracker/internal/database"
	"usertracker/internal/jobs"
	"usertracker/internal/services"
)

// Application wraps cartridge.Application with the tracker's service graph
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Services  *services.Services
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	svc, err := services.New(context.Background(), cfg, dbManager.GetConnection(), logger, services.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	scheduler, err := jobs.NewScheduler(svc, logger)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:       cfg,
		Logger:       logger,
		DBManager:    dbManager,
		ServerConfig: NewServerConfig(),
		RouteMountFunc: func(srv *cartridge.Server) {
			MountAppRoutes(srv, svc)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    svc,
	}, nil
}

// Shutdown stops the server and background jobs, then flushes the
// diagnostics sink and closes geo resources.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Application.Shutdown(ctx)
	if cerr := a.Services.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
