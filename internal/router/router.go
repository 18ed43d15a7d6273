package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/felixtosh/taxtool/internal/handlers"
	"github.com/felixtosh/taxtool/internal/middleware"
)

func NewRouter(deps *handlers.Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.NewLoggerMiddleware(deps.Log).LoggerMiddleware)

	sh := handlers.NewSearchHandlers(deps)
	mh := handlers.NewMailHandlers(deps)
	hh := handlers.NewHookHandlers(deps)

	auth := middleware.NewMiddleware(deps.Firebase)
	r.Group(func(r chi.Router) {
		r.Use(auth.FirebaseAuth)
		r.Mount("/search", sh.SearchRoutes())
		r.Mount("/mail-accounts", mh.MailRoutes())
	})
	r.Mount("/hooks", hh.HookRoutes())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}
