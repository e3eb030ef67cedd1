package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/config"
	"quiz-attempt-engine/internal/infra/lmsapi"
	"quiz-attempt-engine/internal/infra/memory"
	pgstore "quiz-attempt-engine/internal/infra/postgres"
	rediscache "quiz-attempt-engine/internal/infra/redis"
	"quiz-attempt-engine/internal/metrics"
	transport "quiz-attempt-engine/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backend is the attempt system of record plus the loader quizzes come from.
type backend struct {
	name     string
	loader   memory.QuizLoader
	attempts app.AttemptAPI
	close    func()
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var quizRepo app.QuizRepository
	var store app.SessionRepository
	api := be.attempts
	var invalidator app.ViewInvalidator
	if redisClient != nil {
		quizRepo = rediscache.NewQuizRepository(redisClient, be.loader, quizTTL)
		store = rediscache.NewSessionStore(redisClient, redisTTL)
		cache := rediscache.NewAttemptViewCache(be.attempts, redisClient, redisTTL)
		api = cache
		invalidator = cache
	} else {
		quizRepo = memory.NewQuizRepository(be.loader, quizTTL)
		store = memory.NewSessionStore()
	}

	m := metrics.New()
	service := app.NewAttemptService(store, quizRepo, api,
		app.WithLogger(logger),
		app.WithMetrics(m),
		app.WithSessionConfig(sessionConfig(cfg)),
		app.WithInvalidator(invalidator),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/ws", transport.NewWSHandler(service, logger).ServeWS)
	transport.NewAttemptHandler(quizRepo, api, logger).Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting attempt engine", zap.String("port", finalPort), zap.String("backend", be.name), zap.Bool("redis", redisClient != nil))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openBackend picks the attempt system of record: a remote LMS, Postgres, or the in-memory
// sample data, in that order of preference.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, error) {
	switch {
	case cfg.LMS.BaseURL != "":
		client := lmsapi.NewClient(cfg.LMS.BaseURL, config.TTLDuration(cfg.LMS.Timeout, 10*time.Second))
		return backend{name: "lms", loader: client, attempts: client, close: func() {}}, nil
	case cfg.Postgres.URL != "":
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return backend{}, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return backend{}, err
		}
		quizzes := pgstore.NewQuizLoader(pool)
		return backend{
			name:     "postgres",
			loader:   quizzes,
			attempts: pgstore.NewAttemptStore(pool, quizzes),
			close:    pool.Close,
		}, nil
	default:
		loader := memory.NewStaticQuizLoader(sampleQuizzes())
		return backend{name: "memory", loader: loader, attempts: memory.NewAttemptStore(loader), close: func() {}}, nil
	}
}

func sessionConfig(cfg config.Config) app.SessionConfig {
	defaults := app.DefaultSessionConfig()
	sc := app.SessionConfig{
		SubmitTimeout: config.TTLDuration(cfg.Attempt.SubmitTimeout, defaults.SubmitTimeout),
		RetryInitial:  config.TTLDuration(cfg.Attempt.RetryInitial, defaults.RetryInitial),
		RetryMax:      config.TTLDuration(cfg.Attempt.RetryMax, defaults.RetryMax),
	}
	if tick := config.TTLDuration(cfg.Attempt.Tick, 0); tick > 0 {
		sc.ClockOptions = append(sc.ClockOptions, app.WithTickInterval(tick))
	}
	return sc
}
