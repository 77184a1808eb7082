package http

import (
	"log/slog"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"usertracker/internal/settings"
)

// validateIPList validates a comma-separated list of IP addresses
func validateIPList(ipList string) (bool, string) {
	if ipList == "" {
		return true, ""
	}

	for _, ip := range strings.Split(ipList, ",") {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if net.ParseIP(ip) == nil {
			return false, "Invalid IP address format: " + ip
		}
	}

	return true, ""
}

// normalizeIPList trims entries and drops empty ones.
func normalizeIPList(ipList string) string {
	var out []string
	for _, ip := range strings.Split(ipList, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			out = append(out, ip)
		}
	}
	return strings.Join(out, ",")
}

// SettingsIndexAction lists all stored settings.
func SettingsIndexAction(ctx *cartridge.Context) error {
	rows, err := settings.ListSettings(ctx.DB())
	if err != nil {
		return respondError(ctx, err, "Failed to fetch settings")
	}
	return ctx.JSON(fiber.Map{"settings": rows})
}

type IngestionSettingsParams struct {
	ExcludedIPs string `json:"excluded_ips"`
}

// IngestionSettingsUpdateAction replaces the excluded IP list.
func IngestionSettingsUpdateAction(ctx *cartridge.Context) error {
	var params IngestionSettingsParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	if valid, msg := validateIPList(params.ExcludedIPs); !valid {
		ctx.Logger.Warn("invalid IP format submitted", slog.String("error", msg))
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": msg})
	}

	value := normalizeIPList(params.ExcludedIPs)
	if err := settings.UpdateSetting(ctx.DB(), settings.KeyExcludedIPs, value); err != nil {
		ctx.Logger.Error("failed to update excluded_ips setting", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update IP filtering settings"})
	}

	ctx.Logger.Info("excluded IPs updated")
	return ctx.JSON(fiber.Map{"excluded_ips": value})
}
