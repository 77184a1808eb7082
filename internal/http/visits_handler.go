package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"

	"usertracker/internal/export"
	"usertracker/internal/pages"
	"usertracker/internal/services"
	"usertracker/internal/visits"
)

// VisitsIndexAction lists raw visits, newest first.
func VisitsIndexAction(ctx *cartridge.Context) error {
	filter := visitFilterFromQuery(ctx)

	result, err := visits.List(ctx.UserContext(), ctx.DB(), filter)
	if err != nil {
		return respondError(ctx, err, "Failed to fetch visits")
	}
	return ctx.JSON(result)
}

// VisitsExportAction streams every visit matching the filter as CSV or XLSX.
func VisitsExportAction(ctx *cartridge.Context) error {
	format, err := export.ParseFormat(ctx.Query("format"))
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	filter := visitFilterFromQuery(ctx)

	ctx.Set("Content-Type", format.ContentType())
	ctx.Set("Content-Disposition", `attachment; filename="`+export.Filename("user-visits", format, time.Now())+`"`)

	n, err := export.Visits(ctx.UserContext(), ctx.DB(), filter, format, ctx.Response().BodyWriter())
	if err != nil {
		ctx.Response().ResetBody()
		ctx.Response().Header.Del(fiber.HeaderContentDisposition)
		return respondError(ctx, err, "Failed to export visits")
	}

	ctx.Logger.Info("Visits exported", slog.Int("rows", n), slog.String("format", string(format)))
	return nil
}

// TestVisitAction records a synthetic home page visit through the full
// ingestion path so an operator can check the pipeline end to end.
func TestVisitAction(svc *services.Services) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		rc := visits.RequestContext{
			Page:      pages.Request{Kind: pages.Home{}, RequestURI: "/"},
			DeviceID:  uuid.NewString(),
			SessionID: uuid.NewString(),
			IP:        ctx.IP(),
			UserAgent: ctx.Get("User-Agent"),
			Referrer:  ctx.Get("Referer"),
		}

		visit, err := svc.Recorder.Record(ctx.UserContext(), rc)
		if err != nil {
			return respondError(ctx, err, "Failed to record test visit")
		}
		if visit == nil {
			return ctx.JSON(fiber.Map{
				"recorded": false,
				"reason":   svc.Recorder.SkipReason(rc),
			})
		}
		return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
			"recorded": true,
			"visit":    visit,
		})
	}
}
