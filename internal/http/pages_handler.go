package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"usertracker/internal/aggregation"
	"usertracker/internal/export"
	"usertracker/internal/pages"
	"usertracker/internal/visits"
)

// Page report sources.
const (
	SourceDaily  = "daily"
	SourceVisits = "visits"
)

type PageReportRow struct {
	PageURL  string `json:"page_url"`
	PageType string `json:"page_type,omitempty"`
	Title    string `json:"title"`
	Visits   int64  `json:"visits"`
	Landings int64  `json:"landings"`
}

type PagesResponse struct {
	Source string          `json:"source"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Pages  []PageReportRow `json:"pages"`
}

// pageReport reads summary rows when a closed day range is given and raw
// visits otherwise.
func pageReport(ctx context.Context, db *gorm.DB, f visits.Filter) (string, []export.PageRow, error) {
	if f.From != "" && f.To != "" {
		stats, err := aggregation.PageStats(ctx, db, f.From, f.To, f.PageURL)
		if err != nil {
			return "", nil, err
		}
		rows := make([]export.PageRow, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, export.PageRow{PageURL: s.PageURL, Visits: s.Visits, Landings: s.Landings})
		}
		return SourceDaily, rows, nil
	}

	top, err := visits.TopPages(ctx, db, f, aggregation.MaxPageStats)
	if err != nil {
		return "", nil, err
	}
	rows := make([]export.PageRow, 0, len(top))
	for _, p := range top {
		rows = append(rows, export.PageRow{PageURL: p.PageURL, PageType: p.PageType, Visits: p.Visits, Landings: p.Landings})
	}
	return SourceVisits, rows, nil
}

// PagesIndexAction returns the most visited pages.
func PagesIndexAction(ctx *cartridge.Context) error {
	filter := visitFilterFromQuery(ctx)

	source, rows, err := pageReport(ctx.UserContext(), ctx.DB(), filter)
	if err != nil {
		return respondError(ctx, err, "Failed to fetch pages")
	}

	response := PagesResponse{
		Source: source,
		From:   filter.From,
		To:     filter.To,
		Pages:  make([]PageReportRow, len(rows)),
	}
	for i, r := range rows {
		response.Pages[i] = PageReportRow{
			PageURL:  r.PageURL,
			PageType: r.PageType,
			Title:    pages.Label(r.PageType, r.PageURL),
			Visits:   r.Visits,
			Landings: r.Landings,
		}
	}
	return ctx.JSON(response)
}

// PagesDailyAction breaks one page's visits down per day.
func PagesDailyAction(ctx *cartridge.Context) error {
	filter := visitFilterFromQuery(ctx)

	days, err := visits.DailyBreakdown(ctx.UserContext(), ctx.DB(), filter)
	if err != nil {
		return respondError(ctx, err, "Failed to fetch daily breakdown")
	}
	return ctx.JSON(fiber.Map{
		"page_url": filter.PageURL,
		"days":     days,
	})
}

// PagesExportAction downloads the page report.
func PagesExportAction(ctx *cartridge.Context) error {
	format, err := export.ParseFormat(ctx.Query("format"))
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	_, rows, err := pageReport(ctx.UserContext(), ctx.DB(), visitFilterFromQuery(ctx))
	if err != nil {
		return respondError(ctx, err, "Failed to export pages")
	}

	ctx.Set("Content-Type", format.ContentType())
	ctx.Set("Content-Disposition", `attachment; filename="`+export.Filename("pages", format, time.Now())+`"`)
	if err := export.Pages(rows, format, ctx.Response().BodyWriter()); err != nil {
		ctx.Response().ResetBody()
		ctx.Response().Header.Del(fiber.HeaderContentDisposition)
		return respondError(ctx, err, "Failed to export pages")
	}

	ctx.Logger.Info("Pages exported", slog.Int("rows", len(rows)), slog.String("format", string(format)))
	return nil
}
