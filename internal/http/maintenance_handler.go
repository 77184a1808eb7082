package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"usertracker/internal/diagnostics"
	"usertracker/internal/services"
	"usertracker/internal/timeframe"
)

type AggregateParams struct {
	Day  string `json:"day"`
	From string `json:"from"`
	To   string `json:"to"`
}

// AggregateAction summarizes one day (yesterday by default) or an
// inclusive from..to span on demand.
func AggregateAction(svc *services.Services) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params AggregateParams
		if len(ctx.Body()) > 0 {
			if err := ctx.BodyParser(&params); err != nil {
				return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
			}
		}

		if params.From != "" || params.To != "" {
			if params.From == "" || params.To == "" {
				return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "both from and to are required"})
			}
			rows, err := svc.Aggregator.AggregateRange(ctx.UserContext(), params.From, params.To)
			if err != nil {
				return respondError(ctx, err, "Aggregation failed")
			}
			return ctx.JSON(fiber.Map{"from": params.From, "to": params.To, "rows": rows})
		}

		day := params.Day
		if day == "" {
			day = timeframe.Yesterday(svc.Clock)
		}
		rows, err := svc.Aggregator.Aggregate(ctx.UserContext(), day)
		if err != nil {
			return respondError(ctx, err, "Aggregation failed")
		}
		return ctx.JSON(fiber.Map{"day": day, "rows": rows})
	}
}

type PurgeParams struct {
	Days int `json:"days"`
}

// PurgeAction applies retention now. Days defaults to the configured window.
func PurgeAction(svc *services.Services) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params PurgeParams
		if len(ctx.Body()) > 0 {
			if err := ctx.BodyParser(&params); err != nil {
				return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
			}
		}
		if params.Days <= 0 {
			params.Days = svc.Config.RetentionDays
		}

		res, err := svc.Purger.Purge(ctx.UserContext(), params.Days)
		if err != nil {
			return respondError(ctx, err, "Purge failed")
		}
		return ctx.JSON(fiber.Map{
			"days":    params.Days,
			"deleted": res,
			"total":   res.Total(),
		})
	}
}

// LogsIndexAction lists diagnostic entries, newest first.
func LogsIndexAction(ctx *cartridge.Context) error {
	entries, err := diagnostics.List(ctx.DB(), ctx.QueryInt("limit", 200))
	if err != nil {
		return respondError(ctx, err, "Failed to fetch logs")
	}
	return ctx.JSON(fiber.Map{"logs": entries})
}

// LogsClearAction empties the diagnostic log.
func LogsClearAction(ctx *cartridge.Context) error {
	deleted, err := diagnostics.Clear(ctx.DB(), ctx.Logger)
	if err != nil {
		return respondError(ctx, err, "Failed to clear logs")
	}
	ctx.Logger.Info("Diagnostic logs cleared", slog.Int64("deleted", deleted))
	return ctx.JSON(fiber.Map{"deleted": deleted})
}
