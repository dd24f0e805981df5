package resources

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DBInstance is the part of a pgx pool the repository uses. pgxmock pools
// satisfy it too.
type DBInstance interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Closable interface {
	Close()
}

var (
	_ DBInstance = (*pgxpool.Pool)(nil)
	_ Closable   = (*pgxpool.Pool)(nil)
)

func databaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(viper.GetString("DB_USER"), viper.GetString("DB_PASSWORD")),
		Host:   net.JoinHostPort(viper.GetString("DB_HOST"), viper.GetString("DB_PORT")),
		Path:   viper.GetString("DB_NAME"),
	}

	if mode := viper.GetString("DB_SSLMODE"); mode != "" {
		u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
	}

	return u.String()
}

// CreateDatabaseConnectionPool connects to Postgres, retrying while the
// database is still coming up.
func CreateDatabaseConnectionPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to parse database connection string")
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	if n := viper.GetInt32("DB_MAX_CONNS"); n > 0 {
		cfg.MaxConns = n
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to create database pool")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Str("stage", "startup").Uint("attempt", n+1).Msg("database not ready")
		}),
	)
	if err != nil {
		pool.Close()
		log.Ctx(ctx).Error().Err(err).Msg("unable to ping database")

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
