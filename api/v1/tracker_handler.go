package v1

import (
	"bytes"
	"log/slog"
	"text/template"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"usertracker/internal/config"
	"usertracker/web"
)

const (
	deviceCookieMaxAge  = 365 * 24 * 60 * 60
	sessionCookieMaxAge = 30 * 60
)

var trackerTemplate = template.Must(template.New("tracker.js").Parse(web.TrackerTemplate()))

// GetTrackerAction serves the cookie-assigning tracker script.
func GetTrackerAction(cfg *config.Config) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var buf bytes.Buffer
		data := map[string]any{
			"BaseURL":       ctx.BaseURL(),
			"DeviceCookie":  cfg.DeviceCookieName,
			"SessionCookie": cfg.SessionCookieName,
			"DeviceMaxAge":  deviceCookieMaxAge,
			"SessionMaxAge": sessionCookieMaxAge,
		}
		if err := trackerTemplate.Execute(&buf, data); err != nil {
			ctx.Logger.Error("Failed to render tracker script", slog.Any("error", err))
			return ctx.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		}

		content := buf.Bytes()
		etag := generateETag(content)

		if ctx.Get("If-None-Match") == etag {
			ctx.Logger.Debug("ETag match, returning 304", slog.String("etag", etag))
			return ctx.Status(fiber.StatusNotModified).Send(nil)
		}

		ctx.Set("Content-Type", "application/javascript")
		ctx.Set("Cache-Control", "public, max-age=3600")
		ctx.Set("ETag", etag)
		ctx.Set("Cross-Origin-Resource-Policy", "cross-origin")
		return ctx.Send(content)
	}
}
