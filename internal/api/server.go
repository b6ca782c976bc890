// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/api/handlers"
	"github.com/electorrent/electorrent/internal/api/middleware"
	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/config"
	"github.com/electorrent/electorrent/internal/models"
	"github.com/electorrent/electorrent/internal/torrent"
	"github.com/electorrent/electorrent/internal/web/swagger"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	db            handlers.Pinger
	instanceStore *models.InstanceStore
	errorStore    *models.InstanceErrorStore
	clientPool    *clients.Pool
	syncManager   *clients.SyncManager
	exprFilter    *torrent.ExprFilter
}

type Dependencies struct {
	Config        *config.AppConfig
	Version       string
	DB            handlers.Pinger
	InstanceStore *models.InstanceStore
	ErrorStore    *models.InstanceErrorStore
	ClientPool    *clients.Pool
	SyncManager   *clients.SyncManager
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:        log.Logger.With().Str("module", "api").Logger(),
		config:        deps.Config,
		version:       deps.Version,
		db:            deps.DB,
		instanceStore: deps.InstanceStore,
		errorStore:    deps.ErrorStore,
		clientPool:    deps.ClientPool,
		syncManager:   deps.SyncManager,
		exprFilter:    torrent.NewExprFilter(),
	}
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := net.JoinHostPort(s.config.Config.Host, fmt.Sprint(s.config.Config.Port))

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// 0.0.0.0 and :: are not clickable
	host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
	host = strings.Replace(host, "[::]:", "localhost:", 1)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%s", host, s.baseURL())

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}
	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.exprFilter.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) baseURL() string {
	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		return "/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

func (s *Server) corsOptions() cors.Options {
	opts := cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag"},
		MaxAge:           300,
	}
	if origins := s.config.Config.CorsAllowedOrigins; len(origins) > 0 {
		opts.AllowedOrigins = origins
	} else {
		opts.AllowOriginFunc = func(origin string) bool { return true }
	}
	return opts
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	// Torrent lists are large and repetitive; a fast gzip level is enough.
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	r.Use(cors.New(s.corsOptions()).Handler)

	healthHandler := handlers.NewHealthHandler(s.db, s.version)
	instancesHandler := handlers.NewInstancesHandler(s.instanceStore, s.errorStore, s.clientPool, s.syncManager)
	torrentsHandler := handlers.NewTorrentsHandler(s.syncManager, s.exprFilter)

	apiRouter := chi.NewRouter()

	swaggerHandler, err := swagger.NewHandler(s.baseURL())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Swagger UI")
	} else if swaggerHandler != nil {
		swaggerHandler.RegisterRoutes(apiRouter)
	}

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		r.Get("/columns", handlers.ListColumns)

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", instancesHandler.ListInstances)
			r.Post("/", instancesHandler.CreateInstance)

			r.Route("/{instanceID}", func(r chi.Router) {
				r.Put("/", instancesHandler.UpdateInstance)
				r.Delete("/", instancesHandler.DeleteInstance)
				r.Get("/status", instancesHandler.GetInstanceStatus)
				r.Put("/status", instancesHandler.UpdateInstanceStatus)
				r.Post("/test", instancesHandler.TestConnection)
				r.Get("/capabilities", instancesHandler.GetInstanceCapabilities)
				r.Get("/labels", instancesHandler.GetLabels)
				r.Get("/trackers", instancesHandler.GetTrackers)

				r.Route("/torrents", func(r chi.Router) {
					r.Get("/", torrentsHandler.ListTorrents)
					r.Post("/", torrentsHandler.AddTorrent)

					r.Route("/{hash}", func(r chi.Router) {
						r.Get("/", torrentsHandler.GetTorrent)
						r.Delete("/", torrentsHandler.DeleteTorrent)
						r.Post("/stop", torrentsHandler.StopTorrent)
						r.Post("/resume", torrentsHandler.ResumeTorrent)
						r.Put("/label", torrentsHandler.SetTorrentLabel)
						r.Put("/flags", torrentsHandler.SetTorrentFlags)
						r.Get("/magnet", torrentsHandler.GetTorrentMagnet)
					})
				})
			})
		})
	})

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Mount(s.baseURL()+"api", apiRouter)

	return r, nil
}
