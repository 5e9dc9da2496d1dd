package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Candidates
		r.Get("/guilds/{guildID}/candidates", h.ListCandidates)
		r.Post("/candidates", h.RegisterCandidate)
		r.Delete("/candidates/{id}", h.UnregisterCandidate)

		// Mappings
		r.Get("/mappings", h.ListMappings)
		r.Post("/mappings", h.RegisterMapping)
		r.Get("/mappings/{id}", h.GetMapping)
		r.Delete("/mappings/{id}", h.UnregisterMapping)

		// Reconciliation
		r.Post("/reconcile", h.TriggerReconcile)
	})
}
