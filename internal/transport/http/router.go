package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/marketplace-checkout/internal/transport/http/handler"
	"github.com/sakashimaa/marketplace-checkout/internal/transport/http/middleware"
	"github.com/sakashimaa/marketplace-checkout/pkg/metrics"
)

type Handlers struct {
	Cart     *handler.CartHandler
	Checkout *handler.CheckoutHandler
	Account  *handler.AccountHandler
	Health   *handler.HealthHandler
}

type RouterConfig struct {
	AccessSecret string
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
}

func RegisterRoutes(app *fiber.App, h *Handlers, cfg RouterConfig) {
	app.Get("/health", h.Health.Health)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(cfg.Gatherer)))
	}

	api := app.Group(
		"/api",
		middleware.NewMetricsMiddleware(cfg.Metrics),
		middleware.NewAuthMiddleware(cfg.AccessSecret),
		middleware.NewIsActivatedMiddleware(),
	)

	cart := api.Group("/cart")
	cart.Get("", h.Cart.GetCart)
	cart.Post("", h.Cart.AddItem)
	cart.Put("/:itemId", h.Cart.UpdateQuantity)
	cart.Delete("/:itemId", h.Cart.RemoveItem)
	cart.Delete("", h.Cart.Clear)

	api.Post("/checkout", h.Checkout.Checkout)

	api.Get("/orders", h.Account.ListOrders)
	api.Get("/instruments/:id", h.Account.GetInstrument)
}
