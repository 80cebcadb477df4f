package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/postgres/migrations"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // channel the change triggers notify on
	PingInterval  time.Duration // keeps idle connections from being dropped
	MaxRetries    int
	RetryDelay    time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: migrations.NotifyChannel,
		PingInterval:  90 * time.Second,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// Listener relays row notifications of the match tables to a change feed publisher.
// Notifications sent while the connection was down are lost, so after a reconnect every
// unfinished match gets a resync event instead.
type Listener struct {
	listener  *pq.Listener
	db        *sql.DB
	publisher app.Publisher
	cfg       ListenerConfig

	// activeMatches lists the matches to resync after a reconnect.
	activeMatches func(ctx context.Context) ([]string, error)
}

func NewListener(publisher app.Publisher, cfg ListenerConfig) (*Listener, error) {
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = migrations.NotifyChannel
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 90 * time.Second
	}
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
			if ev == pq.ListenerEventReconnected {
				log.Warn().Str("channel", cfg.NotifyChannel).Msg("listener reconnected, changes may have been missed")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("%w: listen to channel: %v", domain.ErrTransient, err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("open resync connection: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	listener := &Listener{listener: l, db: db, publisher: publisher, cfg: cfg}
	listener.activeMatches = listener.queryActiveMatches
	return listener, nil
}

// Start relays until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established
				l.resync(ctx)
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	if l.db != nil {
		_ = l.db.Close()
	}
	return l.listener.Close()
}

// resync publishes a resync event for every match that may still be watched.
func (l *Listener) resync(ctx context.Context) {
	ids, err := l.activeMatches(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list matches to resync")
		return
	}
	for _, id := range ids {
		if err := l.publishWithRetry(ctx, domain.ResyncEvent(id)); err != nil {
			log.Error().Err(err).Str("match_id", id).Msg("failed to publish resync")
		}
	}
	log.Info().Int("matches", len(ids)).Msg("resynced after reconnect")
}

func (l *Listener) queryActiveMatches(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id FROM matches WHERE status <> $1`, string(domain.StatusFinished))
	if err != nil {
		return nil, transient("list active matches", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, transient("scan match id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list active matches", err)
	}
	return ids, nil
}

func (l *Listener) handleNotification(ctx context.Context, payload string) error {
	event, err := decodeNotification(payload)
	if err != nil {
		return err
	}
	return l.publishWithRetry(ctx, event)
}

func (l *Listener) publishWithRetry(ctx context.Context, event domain.ChangeEvent) error {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		if err := l.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("match_id", event.MatchID).
				Msg("failed to publish, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}

type notification struct {
	Op       string          `json:"op"`
	Class    string          `json:"class"`
	MatchID  string          `json:"match_id"`
	RecordID string          `json:"record_id"`
	Row      json.RawMessage `json:"row"`
}

type matchRow struct {
	ID                   string            `json:"id"`
	Code                 string            `json:"code"`
	Status               string            `json:"status"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	QuestionStartedAt    *time.Time        `json:"question_started_at"`
	AnswerRevealed       bool              `json:"answer_revealed"`
	TimerSeconds         int               `json:"timer_seconds"`
	PrimaryBuzz          *domain.BuzzClaim `json:"primary_buzz"`
	SecondaryBuzz        *domain.BuzzClaim `json:"secondary_buzz"`
	CreatedAt            time.Time         `json:"created_at"`
}

type playerRow struct {
	ID       string    `json:"id"`
	MatchID  string    `json:"match_id"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joined_at"`
}

type responseRow struct {
	ID           string    `json:"id"`
	MatchID      string    `json:"match_id"`
	PlayerID     string    `json:"player_id"`
	QuestionID   string    `json:"question_id"`
	Answer       string    `json:"answer"`
	IsCorrect    bool      `json:"is_correct"`
	LatencyMs    int64     `json:"latency_ms"`
	PointsEarned int       `json:"points_earned"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// decodeNotification turns a trigger payload into a change event. Deletes carry no row.
func decodeNotification(payload string) (domain.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	ev := domain.ChangeEvent{
		Op:       domain.ChangeOp(n.Op),
		Class:    domain.RecordClass(n.Class),
		MatchID:  n.MatchID,
		RecordID: n.RecordID,
	}
	switch ev.Op {
	case domain.OpInsert, domain.OpUpdate, domain.OpDelete:
	default:
		return domain.ChangeEvent{}, fmt.Errorf("unknown change op %q", n.Op)
	}
	if len(n.Row) == 0 || string(n.Row) == "null" {
		return ev, nil
	}

	switch ev.Class {
	case domain.ClassMatch:
		var r matchRow
		if err := json.Unmarshal(n.Row, &r); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("decode match row: %w", err)
		}
		ev.Match = &domain.Match{
			ID:                   r.ID,
			Code:                 r.Code,
			Status:               domain.MatchStatus(r.Status),
			CurrentQuestionIndex: r.CurrentQuestionIndex,
			QuestionStartedAt:    r.QuestionStartedAt,
			AnswerRevealed:       r.AnswerRevealed,
			TimerSeconds:         r.TimerSeconds,
			PrimaryBuzz:          r.PrimaryBuzz,
			SecondaryBuzz:        r.SecondaryBuzz,
			CreatedAt:            r.CreatedAt,
		}
	case domain.ClassPlayer:
		var r playerRow
		if err := json.Unmarshal(n.Row, &r); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("decode player row: %w", err)
		}
		ev.Player = &domain.Player{ID: r.ID, MatchID: r.MatchID, Name: r.Name, Score: r.Score, JoinedAt: r.JoinedAt}
	case domain.ClassResponse:
		var r responseRow
		if err := json.Unmarshal(n.Row, &r); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("decode response row: %w", err)
		}
		ev.Response = &domain.Response{
			ID:           r.ID,
			MatchID:      r.MatchID,
			PlayerID:     r.PlayerID,
			QuestionID:   r.QuestionID,
			Answer:       r.Answer,
			IsCorrect:    r.IsCorrect,
			LatencyMs:    r.LatencyMs,
			PointsEarned: r.PointsEarned,
			SubmittedAt:  r.SubmittedAt,
		}
	default:
		return domain.ChangeEvent{}, fmt.Errorf("unknown record class %q", n.Class)
	}
	return ev, nil
}
