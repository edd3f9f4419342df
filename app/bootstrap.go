package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"school-api/internal/auth"
	"school-api/internal/db"
	"school-api/internal/maintenance"
	"school-api/internal/observability"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// loginLimiter is satisfied by both the in-memory and the Redis-backed
// rate limiter; bootstrap picks one based on configuration.
type loginLimiter interface {
	Middleware(next http.Handler) http.Handler
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	verifier, err := auth.NewVerifier()
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init verifier: %w", err)
	}

	repo := auth.NewRepository(database)
	issuer := auth.NewTokenIssuer(
		repo,
		jwtSecret,
		envHoursOrDefault("ACCESS_TOKEN_TTL_HOURS", 24),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 720),
	)
	service := auth.NewService(repo, verifier, issuer)
	service.WithSecurityConfig(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		time.Duration(envIntOrDefault("LOGIN_MIN_RESPONSE_MS", 100))*time.Millisecond,
	)
	handler := auth.NewHandler(service)

	if err := seedAdmin(repo, verifier); err != nil {
		_ = database.Close()
		return nil, err
	}

	var redisClient *redis.Client
	var limiter loginLimiter
	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		redisOptions, err := redis.ParseURL(redisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOptions)
		limiter = auth.NewRedisRateLimiter(
			redisClient,
			envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
			envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 900),
		)
	} else {
		limiter = auth.NewRateLimiter(
			envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
			envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 900),
		)
	}

	cleanupHandler := maintenance.NewCleanupHandler(
		repo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("AUTH_LOCKOUT_RETENTION_DAYS", 30),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", limiter.Middleware(http.HandlerFunc(handler.Login)))
	mux.HandleFunc("POST /auth/refresh", handler.Refresh)
	mux.HandleFunc("POST /auth/logout", handler.Logout)
	mux.Handle("GET /auth/me", auth.Middleware(issuer, http.HandlerFunc(handler.Me)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	wrapped := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: wrapped,
		Close: func() error {
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

func seedAdmin(repo *auth.Repository, verifier *auth.Verifier) error {
	rawID := strings.TrimSpace(os.Getenv("ADMIN_NATIONAL_ID"))
	password := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))

	if rawID == "" && password == "" {
		return nil
	}
	if rawID == "" || password == "" {
		return fmt.Errorf("ADMIN_NATIONAL_ID and ADMIN_PASSWORD are required together")
	}

	nationalID, ok := auth.CanonicalNationalID(rawID)
	if !ok {
		return fmt.Errorf("ADMIN_NATIONAL_ID is not a valid identity code")
	}

	hash, err := verifier.HashSecret(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	fullName := envOrDefault("ADMIN_FULL_NAME", "Administrator")
	if err := repo.SeedAdminCredential(context.Background(), nationalID, hash, fullName); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	return nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
