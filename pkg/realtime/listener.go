package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Notifier is a connection that has issued LISTEN.
type Notifier interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

// ConnectFn opens a listening connection and returns a func that closes it.
type ConnectFn func(ctx context.Context) (Notifier, func(), error)

// PoolConnector takes a connection out of pool for good and LISTENs on Channel.
func PoolConnector(pool *pgxpool.Pool) ConnectFn {
	return func(ctx context.Context) (Notifier, func(), error) {
		pooled, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to acquire listen connection: %w", err)
		}

		conn := pooled.Hijack()
		closeFn := func() { _ = conn.Close(context.Background()) }

		_, err = conn.Exec(ctx, "LISTEN "+Channel)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("failed to listen on %s: %w", Channel, err)
		}

		return conn, closeFn, nil
	}
}

// Listener forwards database change notifications to a Broker, reconnecting
// with backoff when the connection drops.
type Listener struct {
	name    string
	connect ConnectFn
	broker  *Broker
	delay   time.Duration
	conns   int
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewListener(connect ConnectFn, broker *Broker) *Listener {
	return &Listener{
		name:    "change-listener",
		connect: connect,
		broker:  broker,
		delay:   time.Second,
		done:    make(chan struct{}),
	}
}

func (l *Listener) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "startup").Str("component", l.name).Msg("starting up")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	defer close(l.done)

	err := retry.Do(
		func() error { return l.listen(ctx) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(l.delay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Str("component", l.name).Uint("attempt", n+1).Msg("change listener reconnecting")
		}),
	)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("change listener stopped: %w", err)
	}

	return nil
}

func (l *Listener) Stop(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", l.name).Msg("stopping")
	defer log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", l.name).Msg("stopped")

	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, closeFn, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	// notifications sent while disconnected are gone
	if l.conns > 0 {
		l.broker.Reset()
	}
	l.conns++

	log.Ctx(ctx).Info().Str("component", l.name).Str("channel", Channel).Int("connection", l.conns).Msg("listening for changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}

			return fmt.Errorf("failed to wait for notification: %w", err)
		}

		change, err := Decode([]byte(n.Payload))
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("component", l.name).Msg("discarding notification")
			continue
		}

		l.broker.Publish(change)
	}
}
