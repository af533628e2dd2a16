package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi router for the full endpoint surface.
func NewRouter(h *Handler, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(WithRequestLogger(), WithRecover())

	r.Get("/healthz", h.Healthz)
	r.Get("/.well-known/jwks.json", h.JWKS)
	if reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(WithNoStore())

		r.Get("/authorize", h.Authorize)
		r.Post("/authorize", h.Authorize)
		r.Post("/token", h.Token)
		r.Post("/revoke", h.Revoke)

		r.Post("/device_authorization", h.DeviceAuthorization)
		r.Post("/device/approve", h.DeviceApprove)
		r.Post("/device/deny", h.DeviceDeny)
	})

	return r
}
