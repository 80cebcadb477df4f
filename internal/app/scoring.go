package app

import (
	"fmt"
	"strings"

	"buzzer-quiz-service/internal/domain"
)

// EvaluateAnswer grades a submission against the question and returns (correct, points).
// Buzzer questions are graded for display only and never earn points here; their score
// comes from the authority judging the buzz.
func EvaluateAnswer(question domain.Question, answer string) (bool, int) {
	correct := answersMatch(answer, question.CorrectAnswer)
	if question.Type == domain.QuestionBuzzer {
		return correct, 0
	}
	if !correct {
		return false, 0
	}
	points := question.Points
	if points < 0 {
		points = 0
	}
	return true, points
}

func answersMatch(submitted, expected string) bool {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return false
	}
	return strings.EqualFold(submitted, strings.TrimSpace(expected))
}

// RevealDeltas sums the precomputed points of every correct response into per-player
// score deltas. Only positive amounts are ever credited.
func RevealDeltas(responses []domain.Response) map[string]int {
	deltas := make(map[string]int)
	for _, r := range responses {
		if !r.IsCorrect || r.PointsEarned <= 0 {
			continue
		}
		deltas[r.PlayerID] += r.PointsEarned
	}
	return deltas
}

// BuzzerDelta applies the buzzer rule to a judged buzz: first slot earns the full value
// or loses half, second slot earns or loses half. Halves round toward zero.
func BuzzerDelta(slot BuzzSlot, correct bool, points int) (int, error) {
	half := points / 2
	switch slot {
	case SlotPrimary:
		if correct {
			return points, nil
		}
		return -half, nil
	case SlotSecondary:
		if correct {
			return half, nil
		}
		return -half, nil
	default:
		return 0, fmt.Errorf("%w: no buzzer slot %d", domain.ErrInvalidTransition, slot)
	}
}
