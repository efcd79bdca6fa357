// Package rest serves the admin API used by the dashboard and webhooks.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/mellow-sync/mellow/internal/rest/handler"
	"github.com/mellow-sync/mellow/internal/rest/middleware/auth"
	"github.com/mellow-sync/mellow/internal/setup/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// DefaultHost keeps the admin API off public interfaces.
const DefaultHost = "127.0.0.1"

// NewHandler builds the admin router.
func NewHandler(deps handler.Dependencies, cfg *config.API, logger *zap.Logger) http.Handler {
	logger = logger.Named("rest")

	routes := handler.New(deps, logger)
	authMiddleware := auth.New(cfg.Key, cfg.AbsolutesolverKey, logger)

	router := bunrouter.New(bunrouter.Use(routes.ErrorHandler))

	router.GET("/", routes.Status)
	router.GET("/metrics", bunrouter.HTTPHandler(promhttp.Handler()))
	router.POST("/patreon_webhook", routes.PatreonWebhook)

	router.Use(authMiddleware.RequireAPIKey).WithGroup("", func(g *bunrouter.Group) {
		g.POST("/server/:gid/member/:uid/sync", routes.SyncMember)
		g.POST("/update_discord_commands", routes.UpdateCommands)
	})

	router.Use(authMiddleware.RequireSignature).WithGroup("/absolutesolver/supabase_webhooks", func(g *bunrouter.Group) {
		g.POST("/action_log", routes.ActionLog)
		g.POST("/model_update", routes.ModelUpdate)
	})

	return gzhttp.GzipHandler(router)
}

// Server runs the admin API.
type Server struct {
	http   *http.Server
	logger *zap.Logger
}

// NewServer creates a server bound to the configured host, loopback by default.
func NewServer(h http.Handler, cfg *config.API, logger *zap.Logger) *Server {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}

	return &Server{
		http: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("rest"),
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Admin API listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("admin api failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down admin api: %w", err)
	}

	return nil
}
