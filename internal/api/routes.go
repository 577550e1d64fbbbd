package api

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes configures and returns the chi router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	origins := h.options.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	// the same API is served versioned and at the bare paths
	r.Route("/v1", h.mountAPI)
	r.Group(h.mountAPI)

	return r
}

func (h *Handler) mountAPI(r chi.Router) {
	r.Use(h.AuthMiddleware)

	r.Get("/users", h.handleGetAllUsers)
	r.Get("/ws", h.handleWebSocket)
	r.Get("/invites/pending", h.handleListPendingInvites)

	r.Route("/matches", func(r chi.Router) {
		r.Get("/", h.handleDashboard)
		r.Post("/request", h.handleCreateRequest)
		r.Post("/accept/{requestId}", h.handleAccept)
		r.Post("/reject/{requestId}", h.handleReject)
		r.Post("/withdraw/{requestId}", h.handleWithdraw)
		r.Put("/progress/{matchId}", h.handleUpdateProgress)
		r.Post("/complete/{matchId}", h.handleComplete)
	})
}
