package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Role is what a session may do with a match.
type Role string

const (
	RoleAuthority   Role = "authority"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleAuthority, RoleParticipant, RoleObserver:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Session identifies one client of a match. It is checked by every command.
type Session struct {
	MatchID   string `json:"matchId"`
	MatchCode string `json:"matchCode"`
	Role      Role   `json:"role"`
	PlayerID  string `json:"playerId,omitempty"`
}

func (s Session) require(role Role) error {
	if s.MatchID == "" {
		return domain.ErrMatchNotFound
	}
	if s.Role != role {
		return fmt.Errorf("%w: %s cannot act as %s", domain.ErrForbidden, s.Role, role)
	}
	if role == RoleParticipant && s.PlayerID == "" {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// MatchService is the command surface offered to presentation layers.
type MatchService struct {
	store      MatchStore
	questions  QuestionRepository
	feed       ChangeFeed
	clock      clockwork.Clock
	controller *MatchController
	buzzers    *BuzzerArbiter
}

func NewMatchService(store MatchStore, questions QuestionRepository, feed ChangeFeed, clock clockwork.Clock) *MatchService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MatchService{
		store:      store,
		questions:  questions,
		feed:       feed,
		clock:      clock,
		controller: NewMatchController(store, questions, clock),
		buzzers:    NewBuzzerArbiter(store, clock),
	}
}

// Clock returns the clock commands and countdowns are measured with.
func (s *MatchService) Clock() clockwork.Clock {
	return s.clock
}

// JoinAsPlayer creates a player with a zero score and returns its participant session.
func (s *MatchService) JoinAsPlayer(ctx context.Context, code, name string) (Session, domain.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, domain.Player{}, domain.ErrInvalidName
	}
	match, err := s.store.MatchByCode(ctx, code)
	if err != nil {
		return Session{}, domain.Player{}, err
	}
	player, err := s.store.InsertPlayer(ctx, domain.Player{
		ID:       uuid.NewString(),
		MatchID:  match.ID,
		Name:     name,
		Score:    0,
		JoinedAt: s.clock.Now(),
	})
	if err != nil {
		return Session{}, domain.Player{}, err
	}
	return Session{MatchID: match.ID, MatchCode: match.Code, Role: RoleParticipant, PlayerID: player.ID}, player, nil
}

// OpenSession resolves a match code for an existing identity. Participants must name a
// player of that match.
func (s *MatchService) OpenSession(ctx context.Context, code string, role Role, playerID string) (Session, error) {
	match, err := s.store.MatchByCode(ctx, code)
	if err != nil {
		return Session{}, err
	}
	session := Session{MatchID: match.ID, MatchCode: match.Code, Role: role}
	if role != RoleParticipant {
		return session, nil
	}

	players, err := s.store.ListPlayers(ctx, match.ID)
	if err != nil {
		return Session{}, err
	}
	for _, p := range players {
		if p.ID == playerID {
			session.PlayerID = playerID
			return session, nil
		}
	}
	return Session{}, domain.ErrPlayerNotFound
}

// Project starts a StateProjector for the session's match. The caller must Close it.
func (s *MatchService) Project(ctx context.Context, session Session) (*StateProjector, error) {
	p := NewStateProjector(session.MatchCode, s.store, s.questions, s.feed, s.clock)
	if err := p.Start(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Countdown returns a ticker-driven countdown on the service clock.
func (s *MatchService) Countdown(interval time.Duration) *Countdown {
	return NewCountdown(s.clock, interval)
}

func (s *MatchService) Advance(ctx context.Context, session Session, index int) (domain.Match, error) {
	if err := session.require(RoleAuthority); err != nil {
		return domain.Match{}, err
	}
	return s.controller.Advance(ctx, session.MatchID, index)
}

func (s *MatchService) Reveal(ctx context.Context, session Session) (RevealResult, error) {
	if err := session.require(RoleAuthority); err != nil {
		return RevealResult{}, err
	}
	return s.controller.Reveal(ctx, session.MatchID)
}

func (s *MatchService) ResetBuzzers(ctx context.Context, session Session) (domain.Match, error) {
	if err := session.require(RoleAuthority); err != nil {
		return domain.Match{}, err
	}
	return s.controller.ResetBuzzers(ctx, session.MatchID)
}

func (s *MatchService) ClearResponses(ctx context.Context, session Session) (int, error) {
	if err := session.require(RoleAuthority); err != nil {
		return 0, err
	}
	return s.controller.ClearResponses(ctx, session.MatchID)
}

func (s *MatchService) Finish(ctx context.Context, session Session) (domain.Match, error) {
	if err := session.require(RoleAuthority); err != nil {
		return domain.Match{}, err
	}
	return s.controller.Finish(ctx, session.MatchID)
}

func (s *MatchService) AdjustScore(ctx context.Context, session Session, playerID string, delta int) error {
	if err := session.require(RoleAuthority); err != nil {
		return err
	}
	return s.controller.AdjustScore(ctx, session.MatchID, playerID, delta)
}

func (s *MatchService) JudgeBuzzer(ctx context.Context, session Session, slot BuzzSlot, correct bool) (string, int, error) {
	if err := session.require(RoleAuthority); err != nil {
		return "", 0, err
	}
	return s.controller.JudgeBuzzer(ctx, session.MatchID, slot, correct)
}

// Buzz claims a buzzer slot for the session's player on the snapshot's current question.
// The attempt is refused locally unless the snapshot shows an active question with time
// left, and by the store if the match has moved to another question since.
func (s *MatchService) Buzz(ctx context.Context, session Session, state domain.GameState) (BuzzSlot, error) {
	if err := s.playable(session, state); err != nil {
		return SlotNone, err
	}
	return s.buzzers.Claim(ctx, session.MatchID, session.PlayerID, state.Match.CurrentQuestionIndex)
}

// SubmitAnswer grades and stores the player's answer to the current question. Points are
// recorded on the response and only reach the score at reveal.
func (s *MatchService) SubmitAnswer(ctx context.Context, session Session, state domain.GameState, answer string) (domain.Response, error) {
	if err := s.playable(session, state); err != nil {
		return domain.Response{}, err
	}
	question, ok := state.CurrentQuestion()
	if !ok {
		return domain.Response{}, domain.ErrQuestionNotFound
	}

	now := s.clock.Now()
	correct, points := EvaluateAnswer(question, answer)
	return s.store.UpsertResponse(ctx, domain.Response{
		ID:           uuid.NewString(),
		MatchID:      session.MatchID,
		PlayerID:     session.PlayerID,
		QuestionID:   question.ID,
		Answer:       strings.TrimSpace(answer),
		IsCorrect:    correct,
		LatencyMs:    now.Sub(*state.Match.QuestionStartedAt).Milliseconds(),
		PointsEarned: points,
		SubmittedAt:  now,
	})
}

func (s *MatchService) playable(session Session, state domain.GameState) error {
	if err := session.require(RoleParticipant); err != nil {
		return err
	}
	if state.Match == nil || state.Match.ID != session.MatchID {
		return domain.ErrMatchNotFound
	}
	if state.Match.Status != domain.StatusQuestionActive {
		return fmt.Errorf("%w: no question is active", domain.ErrInvalidTransition)
	}
	if RemainingFor(state, s.clock.Now()) <= 0 {
		return domain.ErrTimeUp
	}
	return nil
}
