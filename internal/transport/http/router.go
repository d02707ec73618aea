package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"replyflow/internal/handler"
	"replyflow/internal/httputil"
	authmw "replyflow/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	AccountHandler *handler.AccountHandler
	CommentHandler *handler.CommentHandler
	AdminAPIKey    string
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// Health check endpoint (useful for deployment/monitoring)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Operator API - requires the static admin key
	r.Group(func(r chi.Router) {
		r.Use(authmw.APIKeyMiddleware(cfg.AdminAPIKey))

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", cfg.AccountHandler.List)
			r.Get("/{id}", cfg.AccountHandler.Get)
			r.Post("/{id}/enable", cfg.AccountHandler.Enable)
			r.Post("/{id}/disable", cfg.AccountHandler.Disable)
			r.Post("/{id}/run", cfg.AccountHandler.RunNow)
			r.Get("/{id}/comments", cfg.AccountHandler.ListComments)
			r.Get("/{id}/activity", cfg.AccountHandler.Activity)
		})

		r.Route("/comments", func(r chi.Router) {
			r.Post("/{id}/reply", cfg.CommentHandler.Reply)
			r.Post("/{id}/skip", cfg.CommentHandler.Skip)
		})
	})

	return r
}
