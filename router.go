package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/claworc/tunneling/internal/auth"
	"github.com/gluk-w/claworc/tunneling/internal/handlers"
	"github.com/gluk-w/claworc/tunneling/internal/middleware"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RefreshLogConfig)

		// Health (no auth)
		r.Get("/health", handlers.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireGroup(auth.GroupWebservice))

			r.Post("/tunnel", handlers.StartTunnel)
			r.Get("/tunnel", handlers.ListTunnels)
			r.Get("/tunnel/{servername}", handlers.GetTunnel)
			r.Delete("/tunnel/{servername}", handlers.DeleteTunnel)

			r.Post("/remote", handlers.StartRemote)
			r.Get("/remote", handlers.GetRemote)
			r.Delete("/remote", handlers.StopRemote)
		})

		r.With(middleware.RequireGroup(auth.GroupRestart)).Post("/restart", handlers.RestartHost)
		r.With(middleware.RequireGroup(auth.GroupRemoteCheck)).Get("/remotecheck", handlers.RemoteCheck)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireGroup(auth.GroupLogs))

			r.Get("/logs", handlers.GetServerLogs)
			r.Delete("/logs", handlers.ClearServerLogs)
			r.Get("/audit", handlers.GetAuditLogs)
		})
	})
	return r
}
