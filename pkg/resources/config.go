package resources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Settings is the resolved configuration of the service.
type Settings struct {
	Name           string
	Version        string
	Env            string
	ServerHost     string
	ServerPort     string
	DebugPort      string
	JWTSecret      string
	JWTAudience    string
	Location       *time.Location
	OTelEndpoint   string
	RateLimit      string
	RedisAddr      string
	CORSOrigins    []string
	MaxOccurrences int
	ReminderCron   string
	ShutdownGrace  time.Duration
}

var defaults = map[string]any{
	"APP_ENV":         "local",
	"SERVER_HOST":     "localhost",
	"SERVER_PORT":     "8080",
	"DEBUG_PORT":      "6060",
	"DB_HOST":         "localhost",
	"DB_PORT":         "5432",
	"DB_USER":         "postgres",
	"DB_PASSWORD":     "postgres",
	"DB_NAME":         "vuosikello",
	"DB_MAX_CONNS":    10,
	"JWT_SECRET":      "",
	"JWT_AUDIENCE":    "authenticated",
	"TIMEZONE":        "Europe/Helsinki",
	"OTEL_ENDPOINT":   "localhost:4317",
	"RATE_LIMIT":      "100-M",
	"REDIS_ADDR":      "",
	"CORS_ORIGINS":    "http://localhost:5173",
	"MAX_OCCURRENCES": 1000,
	"REMINDER_CRON":   "0 7 * * *",
	"LOG_LEVEL":       "info",
	"SHUTDOWN_GRACE":  "15s",
}

// Configure loads an optional .env file, binds the environment through viper
// and installs the global zerolog logger. The returned context carries it.
func Configure(ctx context.Context, name string, version string) (context.Context, *Settings, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ctx, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	bindEnv()

	level, err := zerolog.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().
		Str("service", name).Str("version", version).Logger()
	zerolog.DefaultContextLogger = &log.Logger

	settings, err := Load(name, version)
	if err != nil {
		return ctx, nil, err
	}

	return log.Logger.WithContext(ctx), settings, nil
}

func bindEnv() {
	viper.AutomaticEnv()

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

// Load reads Settings from the environment.
func Load(name string, version string) (*Settings, error) {
	bindEnv()

	loc, err := time.LoadLocation(viper.GetString("TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", viper.GetString("TIMEZONE"), err)
	}

	if viper.GetString("JWT_SECRET") == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	grace, err := time.ParseDuration(viper.GetString("SHUTDOWN_GRACE"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SHUTDOWN_GRACE: %w", err)
	}

	var origins []string

	for _, o := range strings.Split(viper.GetString("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Settings{
		Name:           name,
		Version:        version,
		Env:            viper.GetString("APP_ENV"),
		ServerHost:     viper.GetString("SERVER_HOST"),
		ServerPort:     viper.GetString("SERVER_PORT"),
		DebugPort:      viper.GetString("DEBUG_PORT"),
		JWTSecret:      viper.GetString("JWT_SECRET"),
		JWTAudience:    viper.GetString("JWT_AUDIENCE"),
		Location:       loc,
		OTelEndpoint:   viper.GetString("OTEL_ENDPOINT"),
		RateLimit:      viper.GetString("RATE_LIMIT"),
		RedisAddr:      viper.GetString("REDIS_ADDR"),
		CORSOrigins:    origins,
		MaxOccurrences: viper.GetInt("MAX_OCCURRENCES"),
		ReminderCron:   viper.GetString("REMINDER_CRON"),
		ShutdownGrace:  grace,
	}, nil
}
