package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// MatchStore is an in-memory implementation of app.MatchStore. Every write is
// serialized by one lock and published while the lock is held, so subscribers see
// changes of a record in write order.
type MatchStore struct {
	publisher app.Publisher
	clock     clockwork.Clock

	mu        sync.RWMutex
	matches   map[string]domain.Match
	codes     map[string]string
	questions map[string][]domain.Question
	players   map[string]domain.Player
	responses map[string]domain.Response
	answered  map[responseKey]string
}

type responseKey struct {
	playerID   string
	questionID string
}

// NewMatchStore builds a store publishing its changes to publisher (may be nil).
func NewMatchStore(publisher app.Publisher) *MatchStore {
	return NewMatchStoreWithClock(publisher, clockwork.NewRealClock())
}

// NewMatchStoreWithClock stamps creation and join times with clock.
func NewMatchStoreWithClock(publisher app.Publisher, clock clockwork.Clock) *MatchStore {
	return &MatchStore{
		publisher: publisher,
		clock:     clock,
		matches:   make(map[string]domain.Match),
		codes:     make(map[string]string),
		questions: make(map[string][]domain.Question),
		players:   make(map[string]domain.Player),
		responses: make(map[string]domain.Response),
		answered:  make(map[responseKey]string),
	}
}

// CreateMatch stores a match in the lobby together with its question sequence.
// Sort orders must be unique within the match.
func (s *MatchStore) CreateMatch(ctx context.Context, match domain.Match, questions []domain.Question) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match.Code = domain.NormalizeCode(match.Code)
	if match.Code == "" {
		return domain.Match{}, fmt.Errorf("match code required")
	}
	if _, taken := s.codes[match.Code]; taken {
		return domain.Match{}, fmt.Errorf("match code %q already in use", match.Code)
	}
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	match.Status = domain.StatusLobby
	match.CurrentQuestionIndex = domain.LobbyIndex
	match.QuestionStartedAt = nil
	match.AnswerRevealed = false
	match.PrimaryBuzz, match.SecondaryBuzz = nil, nil
	if match.CreatedAt.IsZero() {
		match.CreatedAt = s.clock.Now()
	}

	seq := make([]domain.Question, len(questions))
	seen := make(map[int]struct{}, len(questions))
	for i, q := range questions {
		if _, dup := seen[q.SortOrder]; dup {
			return domain.Match{}, fmt.Errorf("duplicate sort order %d", q.SortOrder)
		}
		seen[q.SortOrder] = struct{}{}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.MatchID = match.ID
		seq[i] = q
	}
	sort.Slice(seq, func(i, j int) bool { return seq[i].SortOrder < seq[j].SortOrder })

	s.matches[match.ID] = match
	s.codes[match.Code] = match.ID
	s.questions[match.ID] = seq
	s.publishLocked(ctx, domain.ChangeEvent{Op: domain.OpInsert, Class: domain.ClassMatch, MatchID: match.ID, RecordID: match.ID, Match: &match})
	return match, nil
}

func (s *MatchStore) MatchByCode(_ context.Context, code string) (domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[domain.NormalizeCode(code)]
	if !ok {
		return domain.Match{}, domain.ErrMatchNotFound
	}
	return s.matches[id], nil
}

func (s *MatchStore) GetMatch(_ context.Context, matchID string) (domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[matchID]
	if !ok {
		return domain.Match{}, domain.ErrMatchNotFound
	}
	return match, nil
}

// ListQuestions returns the question sequence ordered by sort order.
func (s *MatchStore) ListQuestions(_ context.Context, matchID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.matches[matchID]; !ok {
		return nil, domain.ErrMatchNotFound
	}
	return append([]domain.Question(nil), s.questions[matchID]...), nil
}

func (s *MatchStore) ListPlayers(_ context.Context, matchID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make([]domain.Player, 0)
	for _, p := range s.players {
		if p.MatchID == matchID {
			players = append(players, p)
		}
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID < players[j].ID
	})
	return players, nil
}

func (s *MatchStore) ListResponses(_ context.Context, questionID string) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	responses := make([]domain.Response, 0)
	for _, r := range s.responses {
		if r.QuestionID == questionID {
			responses = append(responses, r)
		}
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].SubmittedAt.Before(responses[j].SubmittedAt) })
	return responses, nil
}

func (s *MatchStore) InsertPlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[player.MatchID]; !ok {
		return domain.Player{}, domain.ErrMatchNotFound
	}
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	if player.JoinedAt.IsZero() {
		player.JoinedAt = s.clock.Now()
	}
	s.players[player.ID] = player
	s.publishLocked(ctx, domain.ChangeEvent{Op: domain.OpInsert, Class: domain.ClassPlayer, MatchID: player.MatchID, RecordID: player.ID, Player: &player})
	return player, nil
}

func (s *MatchStore) UpdateMatch(ctx context.Context, matchID string, patch domain.MatchPatch) (domain.Match, error) {
	return s.UpdateMatchIf(ctx, matchID, domain.MatchCondition{}, patch)
}

// UpdateMatchIf checks cond and writes under the same lock, which makes it a
// compare-and-set on the match record.
func (s *MatchStore) UpdateMatchIf(ctx context.Context, matchID string, cond domain.MatchCondition, patch domain.MatchPatch) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchID]
	if !ok {
		return domain.Match{}, domain.ErrMatchNotFound
	}
	if !cond.Holds(match) {
		return match, domain.ErrConflictRejected
	}
	match = patch.Apply(match)
	s.matches[matchID] = match
	s.publishLocked(ctx, domain.ChangeEvent{Op: domain.OpUpdate, Class: domain.ClassMatch, MatchID: matchID, RecordID: matchID, Match: &match})
	return match, nil
}

func (s *MatchStore) UpsertResponse(ctx context.Context, response domain.Response) (domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[response.PlayerID]
	if !ok || player.MatchID != response.MatchID {
		return domain.Response{}, domain.ErrPlayerNotFound
	}
	if !s.hasQuestionLocked(response.MatchID, response.QuestionID) {
		return domain.Response{}, domain.ErrQuestionNotFound
	}

	key := responseKey{playerID: response.PlayerID, questionID: response.QuestionID}
	op := domain.OpInsert
	if existingID, ok := s.answered[key]; ok {
		response.ID = existingID
		op = domain.OpUpdate
	} else if response.ID == "" {
		response.ID = uuid.NewString()
	}
	s.answered[key] = response.ID
	s.responses[response.ID] = response
	s.publishLocked(ctx, domain.ChangeEvent{Op: op, Class: domain.ClassResponse, MatchID: response.MatchID, RecordID: response.ID, Response: &response})
	return response, nil
}

func (s *MatchStore) DeleteResponses(ctx context.Context, questionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, r := range s.responses {
		if r.QuestionID != questionID {
			continue
		}
		delete(s.responses, id)
		delete(s.answered, responseKey{playerID: r.PlayerID, questionID: r.QuestionID})
		deleted++
		s.publishLocked(ctx, domain.ChangeEvent{Op: domain.OpDelete, Class: domain.ClassResponse, MatchID: r.MatchID, RecordID: id})
	}
	return deleted, nil
}

// AddScores validates every player before applying any delta.
func (s *MatchStore) AddScores(ctx context.Context, matchID string, deltas map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPlayersLocked(matchID, deltas); err != nil {
		return err
	}
	s.addScoresLocked(ctx, matchID, deltas)
	return nil
}

// UpdateMatchAndScores checks cond and every player before writing anything.
func (s *MatchStore) UpdateMatchAndScores(ctx context.Context, matchID string, cond domain.MatchCondition, patch domain.MatchPatch, deltas map[string]int) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchID]
	if !ok {
		return domain.Match{}, domain.ErrMatchNotFound
	}
	if !cond.Holds(match) {
		return match, domain.ErrConflictRejected
	}
	if err := s.checkPlayersLocked(matchID, deltas); err != nil {
		return match, err
	}
	match = patch.Apply(match)
	s.matches[matchID] = match
	s.publishLocked(ctx, domain.ChangeEvent{Op: domain.OpUpdate, Class: domain.ClassMatch, MatchID: matchID, RecordID: matchID, Match: &match})
	s.addScoresLocked(ctx, matchID, deltas)
	return match, nil
}

func (s *MatchStore) checkPlayersLocked(matchID string, deltas map[string]int) error {
	for playerID := range deltas {
		p, ok := s.players[playerID]
		if !ok || p.MatchID != matchID {
			return fmt.Errorf("%w: %s", domain.ErrPlayerNotFound, playerID)
		}
	}
	return nil
}

func (s *MatchStore) addScoresLocked(ctx context.Context, matchID string, deltas map[string]int) {
	for playerID, delta := range deltas {
		p := s.players[playerID]
		p.Score += delta
		s.players[playerID] = p
		s.publishLocked(ctx, domain.ChangeEvent{Op: domain.OpUpdate, Class: domain.ClassPlayer, MatchID: matchID, RecordID: playerID, Player: &p})
	}
}

func (s *MatchStore) hasQuestionLocked(matchID, questionID string) bool {
	for _, q := range s.questions[matchID] {
		if q.ID == questionID {
			return true
		}
	}
	return false
}

func (s *MatchStore) publishLocked(ctx context.Context, event domain.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("match_id", event.MatchID).
			Str("class", string(event.Class)).
			Msg("publish change event")
	}
}
