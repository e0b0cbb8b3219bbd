package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/triviahound/venue-directory/internal/container"
)

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are expected to
// be applied before mounting this router in main.go.
func SetupRouter(c *container.Container) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/ingest", func(r chi.Router) {
			r.Post("/venues", c.IngestHandler.ResolveVenue)
		})

		r.Route("/venues", func(r chi.Router) {
			r.Get("/{venueID}", c.IngestHandler.GetVenue)
			r.Post("/merge", c.MergeHandler.MergeVenues)
		})

		r.Route("/duplicates", func(r chi.Router) {
			r.Get("/", c.DedupeHandler.ListCandidates)
			r.Post("/scan", c.DedupeHandler.Scan)
			r.Post("/reject", c.MergeHandler.RejectDuplicate)
		})

		r.Get("/cities", c.CityHandler.ListCities)
	})

	return r
}
