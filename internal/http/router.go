// Package http exposes the checkout service as a JSON API.
package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_store/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

func NewRouter(svc service.CheckoutService, cfg RouterConfig, logger zerolog.Logger) chi.Router {
	checkoutHandler := NewCheckoutHandler(svc, cfg.RequestTimeout)
	ordersHandler := NewOrdersHandler(svc, cfg.RequestTimeout)
	paymentHandler := NewPaymentHandler(svc, cfg.RequestTimeout)
	adminHandler := NewAdminHandler(svc, cfg.RequestTimeout)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))
	if cfg.MaxRequestBodySize > 0 {
		r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// providers call these without an account
		r.Route("/payments/{provider}", func(r chi.Router) {
			r.Get("/return", paymentHandler.Return)
			r.Get("/notify", paymentHandler.Notify)
			r.Post("/notify", paymentHandler.Notify)
		})

		r.Group(func(r chi.Router) {
			r.Use(AccountMiddleware)

			r.Post("/checkout", checkoutHandler.Checkout)
			r.Post("/checkout/validate", checkoutHandler.ValidateCart)

			r.Get("/orders/{code}", ordersHandler.GetOrder)
			r.Post("/orders/{code}/payment-url", ordersHandler.PaymentURL)
			r.Get("/accounts/{id}/orders", ordersHandler.ListAccountOrders)

			r.Route("/admin", func(r chi.Router) {
				r.Route("/orders/{code}", func(r chi.Router) {
					for _, action := range orderActions {
						r.Post("/"+action, adminHandler.Transition(action))
					}
					r.Post("/verify-payment", adminHandler.VerifyPayment)
				})
				r.Post("/inventory/receipts", adminHandler.ReceiveStock)
				r.Get("/inventory/low-stock", adminHandler.LowStock)
			})
		})
	})

	return r
}
