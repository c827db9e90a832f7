package main

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"presenceboard/internal/auth"
	"presenceboard/internal/config"
	"presenceboard/internal/handlers"
	"presenceboard/internal/hub"
	"presenceboard/internal/logging"
	"presenceboard/internal/metrics"
	"presenceboard/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "text").Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	// Build service
	builder := service.NewServiceBuilder(cfg, logger)
	svc, err := builder.Build()
	if err != nil {
		logger.Error("service build failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// One hub for the process lifetime; the subscribe handler is
	// registered exactly once, below
	broadcastHub := hub.NewHub(logger)
	defer broadcastHub.Close()

	// Router
	r := mux.NewRouter()
	ph := handlers.NewPresenceHandler(svc, broadcastHub, logger)
	wh := handlers.NewWSHandler(broadcastHub, svc, logger)
	hh := handlers.NewHealthHandler(svc)

	r.HandleFunc("/api/v1/status/{username}", metricsWrap("status", ph.GetStatus)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/{username}/device/set", metricsWrap("device_set", ph.SetDevice)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ws", wh.Subscribe).Methods(http.MethodGet)
	r.HandleFunc("/healthz", hh.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", hh.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Middlewares: CORS -> optional bearer auth
	var handler http.Handler = r
	handler = handlers.CORSMiddleware(handler)
	if cfg.Auth.JWTSecret != "" {
		jwtmw := auth.NewJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		handler = jwtmw.OptionalAuthenticate(handler)
	}

	addr := cfg.Service.Addr()
	logger.Info("starting presenceboard",
		"addr", addr,
		"store", cfg.Store.Backend,
		"version", cfg.Service.Version,
	)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
}

// metricsWrap instruments a handler func under a stable route label
func metricsWrap(route string, h http.HandlerFunc) http.HandlerFunc {
	wrapped := metrics.Middleware(route, h)
	return wrapped.ServeHTTP
}
