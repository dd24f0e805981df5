package servers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/qmdx00/lifecycle"
	"github.com/rs/zerolog/log"
)

type httpServer struct {
	ctx      context.Context //nolint:containedctx
	name     string
	internal *http.Server
}

// NewHTTP builds an *http.Server with the timeouts every listener here uses.
// WriteTimeout stays unset so WebSocket streams are not cut.
func NewHTTP(host string, port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(host, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func BuildHttpServer(name string, server *http.Server) (string, Server) {
	return name, NewHttpServer(name, server)
}

func NewHttpServer(name string, server *http.Server) lifecycle.Server {
	return &httpServer{
		name:     name,
		internal: server,
	}
}

func (server *httpServer) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "startup").Str("component", server.name).Str("addr", server.internal.Addr).Msg("starting up")

	server.ctx = ctx

	err := server.internal.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Ctx(ctx).Error().Str("stage", "startup").Str("component", server.name).Err(err).Msg("failed to listen or serve")
		return ErrServerFailedToStart(server.name, err)
	}

	return nil
}

func (server *httpServer) Stop(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopping")
	defer log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopped")

	err := server.internal.Shutdown(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Str("stage", "shut down").Str("component", server.name).Err(err).Msg("failed to stop")
		return ErrServerFailedToStop(server.name, err)
	}

	return nil
}
