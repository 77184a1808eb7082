package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"usertracker/internal/timeframe"
	"usertracker/internal/visits"
)

// visitFilterFromQuery reads the report parameters shared by the visit
// and page endpoints.
func visitFilterFromQuery(ctx *cartridge.Context) visits.Filter {
	return visits.Filter{
		Search:   ctx.Query("search"),
		From:     ctx.Query("from"),
		To:       ctx.Query("to"),
		PageURL:  ctx.Query("page_url"),
		HideBots: ctx.QueryBool("hide_bots", false),
		Page:     ctx.QueryInt("page", 1),
		PerPage:  ctx.QueryInt("per_page", visits.DefaultPerPage),
	}.Normalize()
}

func isInputError(err error) bool {
	return errors.Is(err, timeframe.ErrInvalidDay) ||
		errors.Is(err, timeframe.ErrInvalidRange) ||
		errors.Is(err, visits.ErrPageURLRequired)
}

// respondError maps bad query input to 400 and everything else to a
// logged 500 carrying msg.
func respondError(ctx *cartridge.Context, err error, msg string) error {
	if isInputError(err) {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	ctx.Logger.Error(msg, slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
}
