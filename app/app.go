// Package app is the public entry point for programs that embed the
// tracker: build the application, extend it with routes or middleware
// through pkg/extension, then start it.
package app

import (
	"usertracker/internal"
	"usertracker/internal/config"
	"usertracker/internal/database"
	"usertracker/internal/services"
	"usertracker/internal/visits"
)

// Re-export core types
type (
	Application    = internal.Application
	Config         = config.Config
	DBManager      = database.DBManager
	Services       = services.Services
	RequestContext = visits.RequestContext
	Visit          = visits.Visit
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application from the environment
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewAppWithConfig creates a new application from cfg
func NewAppWithConfig(cfg *Config) (*Application, error) {
	return internal.NewAppWithConfig(cfg)
}
