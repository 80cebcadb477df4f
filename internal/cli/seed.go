package cli

import (
	"errors"
	"fmt"

	"buzzer-quiz-service/internal/config"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewSeedCmd inserts the demo match into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the demo match in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log.Level, cfg.Log.Pretty)
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if err := RunMigrationsWithURL(cmd.Context(), cfg.Postgres.URL); err != nil {
				return err
			}

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			store := postgres.NewMatchStore(pool)

			if existing, err := store.MatchByCode(cmd.Context(), code); err == nil {
				log.Info().Str("code", existing.Code).Str("match_id", existing.ID).Msg("demo match already exists")
				return nil
			} else if !errors.Is(err, domain.ErrMatchNotFound) {
				return err
			}

			match := demoMatch()
			match.Code = code
			created, err := store.CreateMatch(cmd.Context(), match, demoQuestions())
			if err != nil {
				return err
			}
			log.Info().Str("code", created.Code).Str("match_id", created.ID).Msg("seeded demo match")
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", demoMatch().Code, "join code of the demo match")
	return cmd
}

func demoMatch() domain.Match {
	return domain.Match{Code: "DEMO42"}
}

// demoQuestions covers each question type once.
func demoQuestions() []domain.Question {
	return []domain.Question{
		{
			Type:          domain.QuestionMCQ,
			Content:       "What is 2 + 2?",
			Options:       []string{"3", "4", "5"},
			CorrectAnswer: "4",
			Points:        100,
			TimeLimit:     20,
			SortOrder:     0,
		},
		{
			Type:          domain.QuestionShortAnswer,
			Content:       "Which planet is known as the Red Planet?",
			CorrectAnswer: "Mars",
			Points:        200,
			TimeLimit:     30,
			SortOrder:     1,
		},
		{
			Type:          domain.QuestionBuzzer,
			Content:       "Name the longest river in Africa.",
			CorrectAnswer: "Nile",
			Points:        300,
			TimeLimit:     15,
			SortOrder:     2,
		},
	}
}
