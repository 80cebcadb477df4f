package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
)

const matchColumns = `id, code, status, current_question_index, question_started_at, answer_revealed,
	timer_seconds, primary_buzz, secondary_buzz, created_at`

const responseColumns = `id, match_id, player_id, question_id, answer, is_correct, latency_ms,
	points_earned, submitted_at`

// MatchStore persists matches in Postgres. Conditional writes are single UPDATE statements
// whose WHERE clause carries the condition, so Postgres row locking decides races.
// Change events are emitted by triggers and relayed by Listener.
type MatchStore struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return NewMatchStoreWithClock(pool, clockwork.NewRealClock())
}

// NewMatchStoreWithClock stamps creation and join times with clock.
func NewMatchStoreWithClock(pool *pgxpool.Pool, clock clockwork.Clock) *MatchStore {
	return &MatchStore{pool: pool, clock: clock}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrTransient, op, err)
}

// CreateMatch inserts a lobby match and its questions in one transaction.
func (s *MatchStore) CreateMatch(ctx context.Context, match domain.Match, questions []domain.Question) (domain.Match, error) {
	match.Code = domain.NormalizeCode(match.Code)
	if match.Code == "" {
		return domain.Match{}, fmt.Errorf("match code required")
	}
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = s.clock.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Match{}, transient("begin create match", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `INSERT INTO matches (id, code, status, current_question_index, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING `+matchColumns,
		match.ID, match.Code, string(domain.StatusLobby), domain.LobbyIndex, match.CreatedAt)
	created, err := scanMatch(row)
	if err != nil {
		return domain.Match{}, transient("insert match", err)
	}

	for _, q := range questions {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		options, err := json.Marshal(nonNil(q.Options))
		if err != nil {
			return domain.Match{}, fmt.Errorf("encode options: %w", err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO questions
			(id, match_id, type, content, options, correct_answer, points, time_limit, media_url, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			q.ID, created.ID, string(q.Type), q.Content, string(options), q.CorrectAnswer, q.Points, q.TimeLimit, q.MediaURL, q.SortOrder)
		if err != nil {
			return domain.Match{}, transient("insert question", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Match{}, transient("commit create match", err)
	}
	return created, nil
}

func (s *MatchStore) MatchByCode(ctx context.Context, code string) (domain.Match, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE code = $1`, domain.NormalizeCode(code))
	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Match{}, domain.ErrMatchNotFound
	}
	if err != nil {
		return domain.Match{}, transient("match by code", err)
	}
	return m, nil
}

func (s *MatchStore) GetMatch(ctx context.Context, matchID string) (domain.Match, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, matchID)
	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Match{}, domain.ErrMatchNotFound
	}
	if err != nil {
		return domain.Match{}, transient("get match", err)
	}
	return m, nil
}

// ListQuestions returns the question sequence ordered by sort order.
func (s *MatchStore) ListQuestions(ctx context.Context, matchID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, match_id, type, content, options, correct_answer, points,
		time_limit, media_url, sort_order FROM questions WHERE match_id = $1 ORDER BY sort_order`, matchID)
	if err != nil {
		return nil, transient("list questions", err)
	}
	defer rows.Close()

	questions := make([]domain.Question, 0)
	for rows.Next() {
		var (
			q       domain.Question
			qType   string
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.MatchID, &qType, &q.Content, &options, &q.CorrectAnswer,
			&q.Points, &q.TimeLimit, &q.MediaURL, &q.SortOrder); err != nil {
			return nil, transient("scan question", err)
		}
		q.Type = domain.QuestionType(qType)
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
			}
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list questions", err)
	}
	return questions, nil
}

func (s *MatchStore) ListPlayers(ctx context.Context, matchID string) ([]domain.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, match_id, name, score, joined_at FROM players
		WHERE match_id = $1 ORDER BY joined_at, id`, matchID)
	if err != nil {
		return nil, transient("list players", err)
	}
	defer rows.Close()

	players := make([]domain.Player, 0)
	for rows.Next() {
		var p domain.Player
		if err := rows.Scan(&p.ID, &p.MatchID, &p.Name, &p.Score, &p.JoinedAt); err != nil {
			return nil, transient("scan player", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list players", err)
	}
	return players, nil
}

func (s *MatchStore) ListResponses(ctx context.Context, questionID string) ([]domain.Response, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+responseColumns+` FROM responses
		WHERE question_id = $1 ORDER BY submitted_at, id`, questionID)
	if err != nil {
		return nil, transient("list responses", err)
	}
	defer rows.Close()

	responses := make([]domain.Response, 0)
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, transient("scan response", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list responses", err)
	}
	return responses, nil
}

func (s *MatchStore) InsertPlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	if player.JoinedAt.IsZero() {
		player.JoinedAt = s.clock.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `INSERT INTO players (id, match_id, name, score, joined_at)
		SELECT $1::text, $2::text, $3::text, $4::integer, $5::timestamptz
		WHERE EXISTS (SELECT 1 FROM matches WHERE id = $2)
		RETURNING joined_at`,
		player.ID, player.MatchID, player.Name, player.Score, player.JoinedAt).Scan(&player.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrMatchNotFound
	}
	if err != nil {
		return domain.Player{}, transient("insert player", err)
	}
	return player, nil
}

func (s *MatchStore) UpdateMatch(ctx context.Context, matchID string, patch domain.MatchPatch) (domain.Match, error) {
	return s.UpdateMatchIf(ctx, matchID, domain.MatchCondition{}, patch)
}

func (s *MatchStore) UpdateMatchIf(ctx context.Context, matchID string, cond domain.MatchCondition, patch domain.MatchPatch) (domain.Match, error) {
	q := &updateBuilder{}
	query, err := q.build(matchID, cond, patch)
	if err != nil {
		return domain.Match{}, err
	}

	m, err := scanMatch(s.pool.QueryRow(ctx, query, q.args...))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Match{}, transient("update match", err)
	}
	// No row matched: either the match is gone or the condition failed.
	current, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return domain.Match{}, err
	}
	return current, domain.ErrConflictRejected
}

// UpsertResponse relies on the (player_id, question_id) unique index; an overwrite keeps
// the stored id.
func (s *MatchStore) UpsertResponse(ctx context.Context, response domain.Response) (domain.Response, error) {
	if response.ID == "" {
		response.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO responses (`+responseColumns+`)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::boolean, $7::bigint, $8::integer, $9::timestamptz
		WHERE EXISTS (SELECT 1 FROM players WHERE id = $3 AND match_id = $2)
		  AND EXISTS (SELECT 1 FROM questions WHERE id = $4 AND match_id = $2)
		ON CONFLICT (player_id, question_id) DO UPDATE SET
			answer = EXCLUDED.answer,
			is_correct = EXCLUDED.is_correct,
			latency_ms = EXCLUDED.latency_ms,
			points_earned = EXCLUDED.points_earned,
			submitted_at = EXCLUDED.submitted_at
		RETURNING `+responseColumns,
		response.ID, response.MatchID, response.PlayerID, response.QuestionID, response.Answer,
		response.IsCorrect, response.LatencyMs, response.PointsEarned, response.SubmittedAt)
	stored, err := scanResponse(row)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Response{}, transient("upsert response", err)
	}

	var playerOK bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM players WHERE id = $1 AND match_id = $2)`,
		response.PlayerID, response.MatchID).Scan(&playerOK); err != nil {
		return domain.Response{}, transient("check player", err)
	}
	if !playerOK {
		return domain.Response{}, domain.ErrPlayerNotFound
	}
	return domain.Response{}, domain.ErrQuestionNotFound
}

func (s *MatchStore) DeleteResponses(ctx context.Context, questionID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM responses WHERE question_id = $1`, questionID)
	if err != nil {
		return 0, transient("delete responses", err)
	}
	return int(tag.RowsAffected()), nil
}

// AddScores applies every delta in one transaction; a player outside the match aborts all.
func (s *MatchStore) AddScores(ctx context.Context, matchID string, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return transient("begin add scores", err)
	}
	defer tx.Rollback(ctx)

	if err := addScoresTx(ctx, tx, matchID, deltas); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return transient("commit add scores", err)
	}
	return nil
}

// UpdateMatchAndScores runs the conditional match UPDATE and the score updates in one
// transaction. The UPDATE locks the match row, so a concurrent caller waits and then
// fails the condition.
func (s *MatchStore) UpdateMatchAndScores(ctx context.Context, matchID string, cond domain.MatchCondition, patch domain.MatchPatch, deltas map[string]int) (domain.Match, error) {
	q := &updateBuilder{}
	query, err := q.build(matchID, cond, patch)
	if err != nil {
		return domain.Match{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Match{}, transient("begin update match and scores", err)
	}
	defer tx.Rollback(ctx)

	m, err := scanMatch(tx.QueryRow(ctx, query, q.args...))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		current, err := s.GetMatch(ctx, matchID)
		if err != nil {
			return domain.Match{}, err
		}
		return current, domain.ErrConflictRejected
	}
	if err != nil {
		return domain.Match{}, transient("update match", err)
	}
	if err := addScoresTx(ctx, tx, matchID, deltas); err != nil {
		return domain.Match{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Match{}, transient("commit update match and scores", err)
	}
	return m, nil
}

func addScoresTx(ctx context.Context, tx pgx.Tx, matchID string, deltas map[string]int) error {
	for playerID, delta := range deltas {
		tag, err := tx.Exec(ctx, `UPDATE players SET score = score + $1 WHERE id = $2 AND match_id = $3`,
			delta, playerID, matchID)
		if err != nil {
			return transient("add score", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", domain.ErrPlayerNotFound, playerID)
		}
	}
	return nil
}

// updateBuilder renders a MatchPatch and MatchCondition into one UPDATE ... RETURNING.
type updateBuilder struct {
	args []interface{}
}

func (b *updateBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *updateBuilder) build(matchID string, cond domain.MatchCondition, patch domain.MatchPatch) (string, error) {
	var sets []string
	if patch.Status != nil {
		sets = append(sets, "status = "+b.arg(string(*patch.Status)))
	}
	if patch.CurrentQuestionIndex != nil {
		sets = append(sets, "current_question_index = "+b.arg(*patch.CurrentQuestionIndex))
	}
	switch {
	case patch.QuestionStartedAt != nil:
		sets = append(sets, "question_started_at = "+b.arg(*patch.QuestionStartedAt))
	case patch.ClearStartedAt:
		sets = append(sets, "question_started_at = NULL")
	}
	if patch.AnswerRevealed != nil {
		sets = append(sets, "answer_revealed = "+b.arg(*patch.AnswerRevealed))
	}
	if patch.TimerSeconds != nil {
		sets = append(sets, "timer_seconds = "+b.arg(*patch.TimerSeconds))
	}
	for _, slot := range []struct {
		column string
		claim  *domain.BuzzClaim
	}{
		{"primary_buzz", patch.PrimaryBuzz},
		{"secondary_buzz", patch.SecondaryBuzz},
	} {
		switch {
		case slot.claim != nil:
			raw, err := json.Marshal(slot.claim)
			if err != nil {
				return "", fmt.Errorf("encode %s: %w", slot.column, err)
			}
			sets = append(sets, slot.column+" = "+b.arg(string(raw)))
		case patch.ClearBuzzers:
			sets = append(sets, slot.column+" = NULL")
		}
	}
	if len(sets) == 0 {
		sets = append(sets, "id = id")
	}

	where := []string{"id = " + b.arg(matchID)}
	if cond.Status != nil {
		where = append(where, "status = "+b.arg(string(*cond.Status)))
	}
	if cond.QuestionIndex != nil {
		where = append(where, "current_question_index = "+b.arg(*cond.QuestionIndex))
	}
	if cond.AnswerRevealed != nil {
		where = append(where, "answer_revealed = "+b.arg(*cond.AnswerRevealed))
	}
	if cond.PrimaryEmpty {
		where = append(where, "primary_buzz IS NULL")
	}
	if cond.SecondaryEmpty {
		where = append(where, "secondary_buzz IS NULL")
	}
	if cond.PrimaryHeldByOther != "" {
		where = append(where, "primary_buzz IS NOT NULL AND primary_buzz->>'playerId' <> "+b.arg(cond.PrimaryHeldByOther))
	}

	return "UPDATE matches SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(where, " AND ") +
		" RETURNING " + matchColumns, nil
}

func scanMatch(row rowScanner) (domain.Match, error) {
	var (
		m                 domain.Match
		status            string
		primary, secondary []byte
	)
	if err := row.Scan(&m.ID, &m.Code, &status, &m.CurrentQuestionIndex, &m.QuestionStartedAt,
		&m.AnswerRevealed, &m.TimerSeconds, &primary, &secondary, &m.CreatedAt); err != nil {
		return domain.Match{}, err
	}
	m.Status = domain.MatchStatus(status)
	var err error
	if m.PrimaryBuzz, err = decodeClaim(primary); err != nil {
		return domain.Match{}, err
	}
	if m.SecondaryBuzz, err = decodeClaim(secondary); err != nil {
		return domain.Match{}, err
	}
	return m, nil
}

func decodeClaim(raw []byte) (*domain.BuzzClaim, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var c domain.BuzzClaim
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode buzz claim: %w", err)
	}
	return &c, nil
}

func scanResponse(row rowScanner) (domain.Response, error) {
	var r domain.Response
	err := row.Scan(&r.ID, &r.MatchID, &r.PlayerID, &r.QuestionID, &r.Answer, &r.IsCorrect,
		&r.LatencyMs, &r.PointsEarned, &r.SubmittedAt)
	return r, err
}

func nonNil(options []string) []string {
	if options == nil {
		return []string{}
	}
	return options
}
