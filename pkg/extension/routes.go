// Package extension lets a program that embeds the tracker add its own
// middleware and routes to the server before it starts.
package extension

import (
	"sync"

	"github.com/gofiber/fiber/v2"
)

// RouteRegistrar is a function that registers routes on a Fiber app
type RouteRegistrar func(app *fiber.App)

// MiddlewareRegistrar is a function that registers middleware
type MiddlewareRegistrar func(app *fiber.App)

var (
	mu         sync.Mutex
	routes     []RouteRegistrar
	middleware []MiddlewareRegistrar
)

// RegisterRoutes adds a route registrar. Registered routes are mounted after
// the built-in ones, so they cannot shadow the ingestion endpoints.
func RegisterRoutes(r RouteRegistrar) {
	mu.Lock()
	defer mu.Unlock()
	routes = append(routes, r)
}

// RegisterMiddleware adds a middleware registrar. Middleware runs ahead of
// every built-in route.
func RegisterMiddleware(m MiddlewareRegistrar) {
	mu.Lock()
	defer mu.Unlock()
	middleware = append(middleware, m)
}

// ApplyRoutes calls all registered route registrars
func ApplyRoutes(app *fiber.App) {
	mu.Lock()
	defer mu.Unlock()
	for _, r := range routes {
		r(app)
	}
}

// ApplyMiddleware calls all registered middleware registrars
func ApplyMiddleware(app *fiber.App) {
	mu.Lock()
	defer mu.Unlock()
	for _, m := range middleware {
		m(app)
	}
}

// Reset drops every registrar.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	routes = nil
	middleware = nil
}
