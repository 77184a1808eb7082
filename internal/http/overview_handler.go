package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"usertracker/internal/pkg/async"
	"usertracker/internal/services"
	"usertracker/internal/visits"
)

const (
	overviewLimit   = 10
	overviewTimeout = 15 * time.Second
)

// OverviewAction runs the dashboard queries side by side.
func OverviewAction(svc *services.Services) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		filter := visitFilterFromQuery(ctx)
		db := ctx.DB()
		homeHost := svc.HomeHost()

		reqCtx, cancel := context.WithTimeout(ctx.UserContext(), overviewTimeout)
		defer cancel()

		tasks := []async.Task[any]{
			{Name: "top_pages", Execute: func(c context.Context) (any, error) {
				return visits.TopPages(c, db, filter, overviewLimit)
			}},
			{Name: "referrers", Execute: func(c context.Context) (any, error) {
				return visits.TopReferrers(c, db, filter, homeHost, overviewLimit)
			}},
			{Name: "countries", Execute: func(c context.Context) (any, error) {
				return visits.Countries(c, db, filter, overviewLimit)
			}},
		}

		results := async.NewPool[any](len(tasks)).Execute(reqCtx, tasks)

		response := fiber.Map{"from": filter.From, "to": filter.To}
		for _, task := range tasks {
			res := results[task.Name]
			if res.Err != nil {
				return respondError(ctx, res.Err, "Failed to build overview")
			}
			response[task.Name] = res.Data
		}
		return ctx.JSON(response)
	}
}
