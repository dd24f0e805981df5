package servers

import (
	"context"
	"sync"

	"github.com/qmdx00/lifecycle"
	"github.com/rs/zerolog/log"
)

type cronServer struct {
	name         string
	internal     CronServer
	closeChannel chan struct{}
	closeOnce    sync.Once
}

func BuildCronServer(name string, server CronServer) (string, Server) {
	return name, NewCronServer(name, server)
}

func NewCronServer(name string, server CronServer) lifecycle.Server {
	return &cronServer{
		name:         name,
		internal:     server,
		closeChannel: make(chan struct{}),
	}
}

func (server *cronServer) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "startup").Str("component", server.name).Msg("starting up")

	server.internal.Start()

	<-server.closeChannel

	return nil
}

// Stop waits for running jobs to finish, or for ctx.
func (server *cronServer) Stop(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopping")
	defer log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopped")

	var err error

	server.closeOnce.Do(func() {
		defer close(server.closeChannel)

		select {
		case <-server.internal.Stop().Done():
		case <-ctx.Done():
			err = ErrServerFailedToStop(server.name, ctx.Err())
		}
	})

	return err
}
