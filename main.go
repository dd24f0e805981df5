package main

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"vuosikello/core"
	"vuosikello/pkg/auth"
	"vuosikello/pkg/realtime"
	"vuosikello/pkg/resources"
	"vuosikello/pkg/servers"
)

func main() {
	name, version := "vuosikello", "1.0"

	// 1. Config (Logger base included)
	ctx, settings, err := resources.Configure(context.Background(), name, version)
	if err != nil {
		log.Fatal().Err(err).Str("stage", "startup").Str("component", "main").Msg("unable to load configuration")
	}

	startupLogger := log.Ctx(ctx).With().Str("stage", "startup").Str("component", "main").Logger()
	shutdownLogger := log.Ctx(ctx).With().Str("stage", "shut down").Str("component", "main").Logger()

	startupLogger.Info().Str("env", settings.Env).Msg("application starting up")
	defer shutdownLogger.Info().Msg("application stopped")

	grace := settings.ShutdownGrace

	// 2. Telemetry (traces/metrics/logs), zerolog bridged into OTel logs
	ctx, stopTelemetry, err := resources.Observe(ctx, settings)
	if err != nil {
		shutdownLogger.Fatal().Err(err).Msg("unable to setup otel telemetry")
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()

		err := stopTelemetry(stopCtx)
		if err != nil {
			shutdownLogger.Error().Err(err).Msg("unable to flush telemetry")
		}
	}()

	// 3. Database and schema
	pool, err := resources.CreateDatabaseConnectionPool(ctx)
	if err != nil {
		shutdownLogger.Fatal().Err(err).Msg("unable to create database connection pool")
	}

	err = resources.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		shutdownLogger.Fatal().Err(err).Msg("unable to migrate database")
	}

	// 4. Wiring
	repo := core.NewRepository(pool)
	broker := realtime.NewBroker()
	listener := realtime.NewListener(realtime.PoolConnector(pool), broker)
	snapshots := core.NewSnapshotCache(repo, broker)
	verifier := auth.NewVerifier(settings.JWTSecret, settings.JWTAudience)
	handlers := core.NewHandlers(repo, snapshots, broker, settings)

	scheduler := cron.New(cron.WithLocation(settings.Location))

	_, err = scheduler.AddJob(settings.ReminderCron, core.NewReminders(repo, broker, settings.Location).Job(ctx))
	if err != nil {
		pool.Close()
		shutdownLogger.Fatal().Err(err).Str("schedule", settings.ReminderCron).Msg("unable to schedule reminders")
	}

	rateLimit, stopRateLimit, err := resources.RateLimiter(ctx, settings)
	if err != nil {
		pool.Close()
		shutdownLogger.Fatal().Err(err).Msg("unable to setup rate limiter")
	}

	defer func() {
		err := stopRateLimit(ctx)
		if err != nil {
			shutdownLogger.Error().Err(err).Msg("unable to close rate limiter store")
		}
	}()

	// 5. Daemons/servers setup

	gin.SetMode(gin.ReleaseMode)

	corsConfig := cors.DefaultConfig()
	if len(settings.CORSOrigins) == 0 || slices.Contains(settings.CORSOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = settings.CORSOrigins
	}

	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", core.TenantHeader)
	corsConfig.ExposeHeaders = []string{"Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour

	restHandler := gin.New()
	restHandler.Use(gin.Recovery())
	restHandler.Use(resources.TracerMiddleware(name))
	restHandler.Use(resources.MeterMiddleware(name))
	restHandler.Use(cors.New(corsConfig))
	restHandler.Use(rateLimit)

	core.Register(restHandler, handlers, verifier, repo)

	debugHandler := http.NewServeMux()
	debugHandler.HandleFunc("/debug/pprof/", pprof.Index)
	debugHandler.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	debugHandler.HandleFunc("/debug/pprof/profile", pprof.Profile)
	debugHandler.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	debugHandler.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// 6. Daemons/servers lifecycle, stopped in reverse order

	errChan := make(chan error, 16)

	baseName, baseServer := servers.BuildBaseServer(pool)
	defer servers.Manage(ctx, baseName, baseServer, errChan)(ctx, grace)

	defer servers.Manage(ctx, "broker", broker, errChan)(ctx, grace)
	defer servers.Manage(ctx, "change-listener", listener, errChan)(ctx, grace)
	defer servers.Manage(ctx, "snapshot-cache", snapshots, errChan)(ctx, grace)

	cronName, cronServer := servers.BuildCronServer("reminders", scheduler)
	defer servers.Manage(ctx, cronName, cronServer, errChan)(ctx, grace)

	debugName, debugServer := servers.BuildHttpServer("debug-server",
		servers.NewHTTP("localhost", settings.DebugPort, debugHandler))
	defer servers.Manage(ctx, debugName, debugServer, errChan)(ctx, grace)

	restName, restServer := servers.BuildHttpServer("rest-server",
		servers.NewHTTP(settings.ServerHost, settings.ServerPort, restHandler))
	defer servers.Manage(ctx, restName, restServer, errChan)(ctx, grace)

	startupLogger.Info().Str("addr", settings.ServerHost+":"+settings.ServerPort).Msg("application running")

	// 7. Wait for shutdown signal

	notifyCtx, cancelNotifyFn := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancelNotifyFn()

	select {
	case <-notifyCtx.Done():
		startupLogger.Info().Msg("application shutdown requested")
	case runErr := <-errChan:
		shutdownLogger.Error().Err(runErr).Msg("runtime error")
	}
}
