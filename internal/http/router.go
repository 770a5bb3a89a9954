package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter arma el router chi con la cadena de middlewares estándar.
// adminKey vacío deja los endpoints admin deshabilitados (403).
func NewRouter(api *API, adminKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(WithRequestID)
	r.Use(WithRecover)
	r.Use(WithLogging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", api.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/crm", api.handleWebhook)
		r.Post("/sync/{entityType}", api.handleSync)

		r.Route("/status", func(r chi.Router) {
			r.Get("/rate", api.handleStatusRate)
			r.Get("/circuit", api.handleStatusCircuit)
			r.Get("/memory", api.handleStatusMemory)
			r.Get("/health", api.handleStatusHealth)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdminKey(adminKey))
			r.Post("/reset/{component}", api.handleAdminReset)
		})
	})

	return r
}
