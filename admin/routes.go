package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/fieldsync/cfg"
	"github.com/maxpert/fieldsync/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin router. Every route requires secret when it
// is non-empty.
func NewRouter(handlers *AdminHandlers, secret string) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(secret))

	r.Get("/tables", handlers.handleListTables)
	r.Route("/tables/{table}", func(r chi.Router) {
		r.Use(handlers.requireTable)

		r.Get("/health", handlers.handleTableHealth)
		r.Get("/definition", handlers.handleTableDefinition)
		r.Get("/metadata", handlers.handleMetadata)

		r.Get("/rows/{rowID}", handlers.handleRow)
		r.Get("/rows/{rowID}/sync-state", handlers.handleSyncState)
	})
	return r
}

// RegisterRoutes mounts the admin router under /admin, and the metrics
// handler at /metrics when prometheus is enabled.
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := NewRouter(handlers, cfg.Config.Admin.Secret)

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	if h := telemetry.GetMetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}

	log.Info().
		Bool("auth", cfg.IsAdminAuthEnabled()).
		Msg("Admin endpoints enabled at /admin/tables/*")
}

// requireTable answers 404 for tables that do not exist
func (h *AdminHandlers) requireTable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")
		exists, err := h.store.HasTable(r.Context(), table)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !exists {
			writeErrorResponse(w, http.StatusNotFound, "table '"+table+"' not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}
