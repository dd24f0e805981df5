package servers

import (
	"context"
	"sync"

	"github.com/qmdx00/lifecycle"
	"github.com/rs/zerolog/log"

	"vuosikello/pkg/resources"
)

// baseServer holds the process open and releases shared resources, such as
// the database pool, once everything else has stopped.
type baseServer struct {
	ctx          context.Context //nolint:containedctx
	name         string
	closeChannel chan struct{}
	closeOnce    sync.Once
	closables    []resources.Closable
}

func BuildBaseServer(closables ...resources.Closable) (string, Server) {
	return "base-server", NewBaseServer(closables...)
}

func NewBaseServer(closables ...resources.Closable) lifecycle.Server {
	return &baseServer{
		name:         "base-server",
		closeChannel: make(chan struct{}),
		closables:    closables,
	}
}

func (server *baseServer) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "startup").Str("component", server.name).Msg("starting up")

	server.ctx = ctx
	<-server.closeChannel

	return nil
}

func (server *baseServer) Stop(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopping")
	defer log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopped")

	server.closeOnce.Do(func() {
		for _, closable := range server.closables {
			closable.Close()
		}

		close(server.closeChannel)
	})

	return nil
}
