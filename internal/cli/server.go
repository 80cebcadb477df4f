package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/config"
	"buzzer-quiz-service/internal/infra/memory"
	natsfeed "buzzer-quiz-service/internal/infra/nats"
	"buzzer-quiz-service/internal/infra/postgres"
	redisinfra "buzzer-quiz-service/internal/infra/redis"
	transport "buzzer-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the match server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// feed is the change feed the server runs on: something projectors subscribe to and
// stores or relays publish into.
type feed interface {
	app.ChangeFeed
	app.Publisher
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		defer redisClient.Close()
	}

	changes, closeFeed, err := openFeed(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeFeed()

	var (
		store   app.MatchStore
		content app.QuestionRepository
	)
	if cfg.Postgres.URL != "" {
		if err := RunMigrationsWithURL(ctx, cfg.Postgres.URL); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		pgStore := postgres.NewMatchStore(pool)
		store, content = pgStore, pgStore

		lcfg := postgres.DefaultListenerConfig()
		lcfg.DatabaseURL = cfg.Postgres.URL
		if cfg.Postgres.NotifyChannel != "" {
			lcfg.NotifyChannel = cfg.Postgres.NotifyChannel
		}
		listener, err := postgres.NewListener(changes, lcfg)
		if err != nil {
			return err
		}
		go func() {
			if err := listener.Start(ctx); err != nil {
				log.Error().Err(err).Msg("listener stopped")
			}
		}()
	} else {
		memStore := memory.NewMatchStore(changes)
		demo, err := memStore.CreateMatch(ctx, demoMatch(), demoQuestions())
		if err != nil {
			return err
		}
		log.Info().Str("code", demo.Code).Msg("seeded demo match")
		store, content = memStore, memStore
	}

	ttl := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionCache(redisClient, content, ttl)
	} else {
		questions = memory.NewQuestionCache(content, ttl)
	}

	service := app.NewMatchService(store, questions, changes, nil)
	wsHandler := transport.NewWSHandler(service, config.TTLDuration(cfg.Clock.Tick, app.DefaultTickInterval))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Str("feed", cfg.Feed.Backend).Msg("starting match service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openFeed(cfg config.Config, redisClient *redis.Client) (feed, func(), error) {
	switch cfg.Feed.Backend {
	case config.FeedRedis:
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis feed needs redis.addr")
		}
		return redisinfra.NewFeed(redisClient), func() {}, nil
	case config.FeedNATS:
		ncfg := natsfeed.DefaultConfig()
		if cfg.NATS.URL != "" {
			ncfg.URL = cfg.NATS.URL
		}
		if cfg.NATS.SubjectPrefix != "" {
			ncfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		}
		f, err := natsfeed.Connect(ncfg)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {
			if err := f.Close(); err != nil {
				log.Warn().Err(err).Msg("close NATS feed")
			}
		}, nil
	default:
		return memory.NewBroker(), func() {}, nil
	}
}
