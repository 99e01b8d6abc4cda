// Package server exposes the speech service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	allowAllOrigins   = "*"
	readHeaderTimeout = 10 * time.Second
	corsMaxAge        = 12 * time.Hour
)

// ErrInvalidCORS indicates allowed origins the CORS middleware cannot use.
var ErrInvalidCORS = errors.New("invalid CORS configuration")

// Server owns the gin engine and the HTTP listener.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	shutdown   time.Duration
	log        *logger.Logger
}

// New builds the router for service. collector may be nil.
func New(cfg config.ServerConfig, service SpeechServiceAPI, collector *metrics.Metrics, log *logger.Logger) (*Server, error) {
	frontend, err := frontendFS(cfg.StaticDir)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), accessLogMiddleware(log))

	if collector != nil {
		engine.Use(collector.Middleware())
	}

	corsCfg := corsConfig(cfg.CORSAllowedOrigins)

	err = corsCfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCORS, err)
	}

	engine.Use(cors.New(corsCfg), bodyLimitMiddleware(maxRequestBytes))

	controller := &SpeechController{SpeechService: service, Log: log}
	RegisterRoutes(engine, controller, collector, frontend)

	return &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           engine,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		shutdown: time.Duration(cfg.ShutdownSeconds) * time.Second,
		log:      log,
	}, nil
}

func corsConfig(origins []string) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", headerRequestID},
		ExposeHeaders: []string{headerContentDisposition, headerAudioKey, headerRequestID},
		MaxAge:        corsMaxAge,
	}

	if len(origins) == 0 || slices.Contains(origins, allowAllOrigins) {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}

	return corsCfg
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)

	go func() {
		s.log.System("HTTP server listening on %s", s.httpServer.Addr)
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}
