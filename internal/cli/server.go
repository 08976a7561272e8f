package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	pginfra "quiz-session-service/internal/infra/postgres"
	redisinfra "quiz-session-service/internal/infra/redis"
	transport "quiz-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var store app.Store = memory.NewStore()
	if pool != nil {
		store = pginfra.NewStore(pool)
	}

	questionTTL := config.TTLDuration(cfg.Quiz.QuestionTTL, 10*time.Minute)
	var questions app.QuestionRepository
	switch {
	case pool != nil && redisClient != nil:
		questions = redisinfra.NewQuestionRepository(redisClient, pginfra.NewQuestionLoader(pool), questionTTL)
	case pool != nil:
		questions = memory.NewQuestionRepository(pginfra.NewQuestionLoader(pool), questionTTL)
	default:
		questions = memory.NewQuestionRepository(memory.NewStaticQuestionLoader(sampleQuestions()), questionTTL)
	}

	var (
		bus      app.EventBus        = memory.NewBus()
		presence app.PresenceTracker = memory.NewPresence()
		codes    app.CodeRegistry    = memory.NewCodes()
	)
	if redisClient != nil {
		bus = redisinfra.NewBus(redisClient, log)
		presence = redisinfra.NewPresence(redisClient, config.TTLDuration(cfg.Redis.PresenceTTL, 2*time.Minute))
		codes = redisinfra.NewCodes(redisClient, config.TTLDuration(cfg.Redis.CodeTTL, 24*time.Hour))
	}

	orch := app.NewOrchestrator(store, questions, codes, bus, log)
	wsHandler := transport.NewWSHandler(orch, bus, presence, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", wsHandler.Healthz)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz session service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	var w = zerolog.New(os.Stderr)
	if cfg.Log.Pretty {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return w.Level(level).With().Timestamp().Logger()
}

// sampleQuestions seeds a redis/postgres-less run with playable content.
func sampleQuestions() map[string][]domain.Question {
	return map[string][]domain.Question{
		"general": {
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5"},
				},
				Points: 1,
			},
			{
				ID:     "q2",
				Prompt: "Which planet is closest to the sun?",
				Options: []domain.Option{
					{ID: "o1", Text: "Mercury", Correct: true},
					{ID: "o2", Text: "Venus"},
					{ID: "o3", Text: "Mars"},
				},
				Points: 1,
			},
			{
				ID:     "q3",
				Prompt: "How many continents are there?",
				Options: []domain.Option{
					{ID: "o1", Text: "5"},
					{ID: "o2", Text: "6"},
					{ID: "o3", Text: "7", Correct: true},
				},
				Points: 1,
			},
			{
				ID:     "q4",
				Prompt: "What is the capital of France?",
				Options: []domain.Option{
					{ID: "o1", Text: "Lyon"},
					{ID: "o2", Text: "Paris", Correct: true},
					{ID: "o3", Text: "Marseille"},
				},
				Points: 1,
			},
			{
				ID:     "q5",
				Prompt: "Which gas do plants absorb from the air?",
				Options: []domain.Option{
					{ID: "o1", Text: "Oxygen"},
					{ID: "o2", Text: "Carbon dioxide", Correct: true},
					{ID: "o3", Text: "Nitrogen"},
				},
				Points: 1,
			},
		},
	}
}
