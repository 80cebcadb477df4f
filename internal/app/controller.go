package app

import (
	"context"
	"errors"
	"fmt"

	"buzzer-quiz-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// MatchController is the match state machine driven by the authority. Every transition
// is one write to the match record; guards are checked before anything is written.
type MatchController struct {
	store     MatchStore
	questions QuestionRepository
	clock     clockwork.Clock
}

func NewMatchController(store MatchStore, questions QuestionRepository, clock clockwork.Clock) *MatchController {
	return &MatchController{store: store, questions: questions, clock: clock}
}

// RevealResult reports what a reveal credited.
type RevealResult struct {
	QuestionID string         `json:"questionId"`
	Credited   map[string]int `json:"credited"`
}

// Advance moves the match to the question at index, or back to the lobby for -1.
func (c *MatchController) Advance(ctx context.Context, matchID string, index int) (domain.Match, error) {
	match, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return domain.Match{}, err
	}
	if match.Status == domain.StatusFinished {
		return match, fmt.Errorf("%w: match is finished", domain.ErrInvalidTransition)
	}
	// Questions may still be edited in the lobby.
	if inv, ok := c.questions.(QuestionInvalidator); ok && match.Status == domain.StatusLobby {
		if err := inv.Invalidate(ctx, matchID); err != nil {
			log.Warn().Err(err).Str("match_id", matchID).Msg("invalidate cached questions")
		}
	}
	questions, err := c.questions.ListQuestions(ctx, matchID)
	if err != nil {
		return match, err
	}
	if index < domain.LobbyIndex || index >= len(questions) {
		return match, fmt.Errorf("%w: question index %d out of range [-1, %d)", domain.ErrInvalidTransition, index, len(questions))
	}

	revealed := false
	patch := domain.MatchPatch{
		CurrentQuestionIndex: &index,
		AnswerRevealed:       &revealed,
		ClearBuzzers:         true,
	}
	if index == domain.LobbyIndex {
		status := domain.StatusLobby
		timer := 0
		patch.Status = &status
		patch.ClearStartedAt = true
		patch.TimerSeconds = &timer
	} else {
		status := domain.StatusQuestionActive
		now := c.clock.Now()
		timer := questions[index].TimeLimit
		patch.Status = &status
		patch.QuestionStartedAt = &now
		patch.TimerSeconds = &timer
	}
	return c.store.UpdateMatch(ctx, matchID, patch)
}

// Reveal exposes the answer of the current question and credits the correct responses.
// The reveal flag and the scores are written together under a condition on the flag, so
// scores are applied at most once and a failed reveal can be retried.
func (c *MatchController) Reveal(ctx context.Context, matchID string) (RevealResult, error) {
	match, question, err := c.current(ctx, matchID)
	if err != nil {
		return RevealResult{}, err
	}
	if match.AnswerRevealed {
		return RevealResult{}, fmt.Errorf("%w: answer already revealed", domain.ErrInvalidTransition)
	}

	responses, err := c.store.ListResponses(ctx, question.ID)
	if err != nil {
		return RevealResult{}, err
	}

	hidden, revealed := false, true
	status := domain.StatusShowingResults
	idx := match.CurrentQuestionIndex
	deltas := RevealDeltas(responses)
	_, err = c.store.UpdateMatchAndScores(ctx, matchID,
		domain.MatchCondition{QuestionIndex: &idx, AnswerRevealed: &hidden},
		domain.MatchPatch{AnswerRevealed: &revealed, Status: &status},
		deltas,
	)
	if errors.Is(err, domain.ErrConflictRejected) {
		return RevealResult{}, fmt.Errorf("%w: answer already revealed", domain.ErrInvalidTransition)
	}
	if err != nil {
		return RevealResult{}, fmt.Errorf("reveal answer: %w", err)
	}
	return RevealResult{QuestionID: question.ID, Credited: deltas}, nil
}

// ResetBuzzers clears both buzzer slots. Nothing is written when they are already empty.
func (c *MatchController) ResetBuzzers(ctx context.Context, matchID string) (domain.Match, error) {
	match, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return domain.Match{}, err
	}
	if match.PrimaryBuzz == nil && match.SecondaryBuzz == nil {
		return match, nil
	}
	return c.store.UpdateMatch(ctx, matchID, domain.MatchPatch{ClearBuzzers: true})
}

// ClearResponses deletes every response to the current question so it can be re-run.
func (c *MatchController) ClearResponses(ctx context.Context, matchID string) (int, error) {
	_, question, err := c.current(ctx, matchID)
	if err != nil {
		return 0, err
	}
	return c.store.DeleteResponses(ctx, question.ID)
}

// Finish ends the match. No question can be started afterwards.
func (c *MatchController) Finish(ctx context.Context, matchID string) (domain.Match, error) {
	match, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return domain.Match{}, err
	}
	if match.Status == domain.StatusFinished {
		return match, fmt.Errorf("%w: match is finished", domain.ErrInvalidTransition)
	}
	status := domain.StatusFinished
	return c.store.UpdateMatch(ctx, matchID, domain.MatchPatch{Status: &status, ClearBuzzers: true})
}

// AdjustScore is the authority's manual score override.
func (c *MatchController) AdjustScore(ctx context.Context, matchID, playerID string, delta int) error {
	players, err := c.store.ListPlayers(ctx, matchID)
	if err != nil {
		return err
	}
	found := false
	for _, p := range players {
		if p.ID == playerID {
			found = true
			break
		}
	}
	if !found {
		return domain.ErrPlayerNotFound
	}
	if delta == 0 {
		return nil
	}
	return c.store.AddScores(ctx, matchID, map[string]int{playerID: delta})
}

// JudgeBuzzer applies the buzzer rule to the holder of slot on the current buzzer question.
// It returns the holder and the applied delta.
func (c *MatchController) JudgeBuzzer(ctx context.Context, matchID string, slot BuzzSlot, correct bool) (string, int, error) {
	match, question, err := c.current(ctx, matchID)
	if err != nil {
		return "", 0, err
	}
	if question.Type != domain.QuestionBuzzer {
		return "", 0, fmt.Errorf("%w: current question is %s", domain.ErrInvalidTransition, question.Type)
	}

	var holder *domain.BuzzClaim
	switch slot {
	case SlotPrimary:
		holder = match.PrimaryBuzz
	case SlotSecondary:
		holder = match.SecondaryBuzz
	}
	if holder == nil {
		return "", 0, fmt.Errorf("%w: %s slot is empty", domain.ErrInvalidTransition, slot)
	}

	delta, err := BuzzerDelta(slot, correct, question.Points)
	if err != nil {
		return "", 0, err
	}
	if delta != 0 {
		if err := c.store.AddScores(ctx, matchID, map[string]int{holder.PlayerID: delta}); err != nil {
			return "", 0, err
		}
	}
	return holder.PlayerID, delta, nil
}

// current loads the match and the question at its current index.
func (c *MatchController) current(ctx context.Context, matchID string) (domain.Match, domain.Question, error) {
	match, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return domain.Match{}, domain.Question{}, err
	}
	if match.CurrentQuestionIndex < 0 {
		return match, domain.Question{}, fmt.Errorf("%w: no active question", domain.ErrInvalidTransition)
	}
	questions, err := c.questions.ListQuestions(ctx, matchID)
	if err != nil {
		return match, domain.Question{}, err
	}
	if match.CurrentQuestionIndex >= len(questions) {
		return match, domain.Question{}, domain.ErrQuestionNotFound
	}
	return match, questions[match.CurrentQuestionIndex], nil
}
