package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "usertracker/api/v1"
	"usertracker/internal/http"
	"usertracker/internal/http/middleware"
	"usertracker/internal/services"
	"usertracker/pkg/extension"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// All public endpoints share this permissive CORS setup for cross-origin access.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

// browserOnly rejects state-changing requests that lack a browser's
// Sec-Fetch-Site header. Cross-site is allowed: the tracker runs on the
// tracked site's origin.
var browserOnly = cartridgemiddleware.SecFetchSiteMiddleware(cartridgemiddleware.SecFetchSiteConfig{
	AllowedValues: []string{"cross-site", "same-site", "same-origin"},
})

// NewServerConfig returns the server settings the tracker runs with. The
// global Sec-Fetch-Site middleware runs before any route handler and would
// reject server-side visit posts, so it is off and browserOnly is attached
// to the routes that need it.
func NewServerConfig() *cartridge.ServerConfig {
	serverCfg := cartridge.DefaultServerConfig()
	serverCfg.EnableSecFetchSite = false
	return serverCfg
}

func noContent(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server, svc *services.Services) {
	cfg := svc.Config

	// Helper to conditionally apply rate limiting (only in production)
	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70/min per IP covers a busy reader while cutting off scripted floods
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Visits are usually posted by the tracked site's backend, which sends
	// no Sec-Fetch-Site header, so the check is not applied here.
	visitsAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	// Geo back-posts come from the tracker script in the browser
	geoAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter, browserOnly},
		CORSConfig:       publicCORSConfig,
	}

	trackerConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	adminAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{middleware.AdminAPIKeyAuth(cfg.AdminAPIKey, srv.GetLogger())},
	}

	extension.ApplyMiddleware(srv.App())

	// === ROOT ROUTES ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)
	srv.App().Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// === PUBLIC API ROUTES ===
	srv.Post("/x/api/v1/visits", v1.CreateVisitHandler(svc), visitsAPIConfig)
	srv.Options("/x/api/v1/visits", noContent, visitsAPIConfig)
	srv.Post("/x/api/v1/geo", v1.UpdateGeoHandler(svc), geoAPIConfig)
	srv.Options("/x/api/v1/geo", noContent, geoAPIConfig)

	// === TRACKER SCRIPT ===
	srv.Get("/y/api/v1/tracker.js", v1.GetTrackerAction(cfg), trackerConfig)

	// === ADMIN API ROUTES ===
	srv.Get("/admin/api/visits", http.VisitsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/visits/export", http.VisitsExportAction, adminAPIConfig)
	srv.Get("/admin/api/pages", http.PagesIndexAction, adminAPIConfig)
	srv.Get("/admin/api/pages/daily", http.PagesDailyAction, adminAPIConfig)
	srv.Get("/admin/api/pages/export", http.PagesExportAction, adminAPIConfig)
	srv.Get("/admin/api/overview", http.OverviewAction(svc), adminAPIConfig)

	srv.Post("/admin/api/aggregate", http.AggregateAction(svc), adminAPIConfig)
	srv.Post("/admin/api/purge", http.PurgeAction(svc), adminAPIConfig)
	srv.Post("/admin/api/test-visit", http.TestVisitAction(svc), adminAPIConfig)

	srv.Get("/admin/api/logs", http.LogsIndexAction, adminAPIConfig)
	srv.Post("/admin/api/logs/clear", http.LogsClearAction, adminAPIConfig)

	srv.Get("/admin/api/settings", http.SettingsIndexAction, adminAPIConfig)
	srv.Post("/admin/api/settings/ingestion", http.IngestionSettingsUpdateAction, adminAPIConfig)

	extension.ApplyRoutes(srv.App())
}
