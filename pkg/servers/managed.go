package servers

import (
	"context"
	"time"

	"github.com/qmdx00/lifecycle"
	"github.com/rs/zerolog/log"
)

// StopFn stops a managed server, giving it at most timeout.
type StopFn func(ctx context.Context, timeout time.Duration)

// Manage runs server in the background. A failing Run is reported on errChan
// so main can shut the process down.
func Manage(ctx context.Context, name string, server lifecycle.Server, errChan chan<- error) StopFn {
	go func() {
		err := server.Run(ctx)
		if err != nil {
			select {
			case errChan <- err:
			default:
				log.Ctx(ctx).Error().Err(err).Str("component", name).Msg("runtime error dropped")
			}
		}
	}()

	return func(ctx context.Context, timeout time.Duration) {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		err := server.Stop(stopCtx)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("stage", "shut down").Str("component", name).Msg("failed to stop")
		}
	}
}
