package app

import (
	"context"
	"errors"

	"buzzer-quiz-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// BuzzSlot is the rank a buzz attempt obtained.
type BuzzSlot int

const (
	SlotNone BuzzSlot = iota
	SlotPrimary
	SlotSecondary
)

func (s BuzzSlot) String() string {
	switch s {
	case SlotPrimary:
		return "primary"
	case SlotSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// BuzzerArbiter ranks concurrent buzz attempts using the store's conditional write.
// Whichever write the store accepts first wins; claim timestamps are never compared.
type BuzzerArbiter struct {
	store MatchStore
	clock clockwork.Clock
}

func NewBuzzerArbiter(store MatchStore, clock clockwork.Clock) *BuzzerArbiter {
	return &BuzzerArbiter{store: store, clock: clock}
}

// Claim tries the primary slot, then the secondary one, for the question at
// questionIndex. It returns SlotNone with domain.ErrConflictRejected when both are taken
// or the match has moved on to another question.
func (a *BuzzerArbiter) Claim(ctx context.Context, matchID, playerID string, questionIndex int) (BuzzSlot, error) {
	active := domain.StatusQuestionActive
	claim := domain.BuzzClaim{PlayerID: playerID, At: a.clock.Now()}

	_, err := a.store.UpdateMatchIf(ctx, matchID,
		domain.MatchCondition{Status: &active, QuestionIndex: &questionIndex, PrimaryEmpty: true},
		domain.MatchPatch{PrimaryBuzz: &claim},
	)
	if err == nil {
		return SlotPrimary, nil
	}
	if !errors.Is(err, domain.ErrConflictRejected) {
		return SlotNone, err
	}

	_, err = a.store.UpdateMatchIf(ctx, matchID,
		domain.MatchCondition{Status: &active, QuestionIndex: &questionIndex, SecondaryEmpty: true, PrimaryHeldByOther: playerID},
		domain.MatchPatch{SecondaryBuzz: &claim},
	)
	if err != nil {
		return SlotNone, err
	}
	return SlotSecondary, nil
}
