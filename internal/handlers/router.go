package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/moonbattery/internal/services"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Devices      *services.DeviceService
	Credentials  *services.CredentialService
	HealthChecks []HealthCheck
	Logger       *zap.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger.Named("http")
	devices := NewDeviceHandler(deps.Devices, deps.Logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(accessLog(logger))
	router.Use(recoverer(logger))
	router.Use(limitBody)

	router.Get("/health", healthHandler(deps.HealthChecks, logger))

	router.Route("/api", func(r chi.Router) {
		r.Post("/register", devices.Register)

		r.Group(func(r chi.Router) {
			r.Use(RequireDevice(deps.Credentials, logger))

			r.Post("/ping", devices.Ping)
			r.Post("/configurations", devices.SetConfigurations)
			r.Get("/configurations", devices.GetConfigurations)
			r.Get("/presence", devices.GetPresence)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return router
}
